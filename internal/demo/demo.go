// Package demo drives a scripted multi-context session sync scenario
// for the CLI. It stands up several clients the way separate browser
// tabs would be wired, then walks through sign-in, a server-side
// change, and sign-out, printing every transition as it propagates.
package demo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/authsync-dev/authsync/pkg/authsync"
	"github.com/authsync-dev/authsync/pkg/authtest"
	"github.com/authsync-dev/authsync/pkg/broadcast"
	"github.com/authsync-dev/authsync/pkg/observe"
	"github.com/authsync-dev/authsync/pkg/origin"
	"github.com/authsync-dev/authsync/pkg/store"
)

// Options configures a demo run.
type Options struct {
	// OriginURL points at an existing auth origin. Empty starts an
	// in-process fake one and scripts it.
	OriginURL string

	// Tabs is how many sibling contexts to simulate.
	Tabs int

	// StaleTime and RefetchInterval configure every tab's client.
	StaleTime       time.Duration
	RefetchInterval time.Duration

	// Dir shares state through a directory instead of process memory,
	// so two demo processes pointed at the same Dir converge too.
	Dir string

	// MetricsAddr exposes Prometheus metrics when non-empty.
	MetricsAddr string

	Logger *slog.Logger
}

// tab is one simulated execution context.
type tab struct {
	name   string
	client *authsync.Client
}

// Run executes the demo until the script finishes or ctx is canceled.
func Run(ctx context.Context, opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Tabs < 1 {
		opts.Tabs = 2
	}

	st, err := newStore(opts, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	baseURL := opts.OriginURL
	var fake *authtest.Origin
	if baseURL == "" {
		fake = authtest.New(logger)
		defer fake.Close()
		baseURL = fake.URL()
		fmt.Printf("  origin: %s (in-process)\n", baseURL)
	} else {
		fmt.Printf("  origin: %s\n", baseURL)
	}

	if opts.MetricsAddr != "" {
		serveMetrics(ctx, opts.MetricsAddr, logger)
	}

	config := authsync.DefaultConfig()
	config.StaleTime = opts.StaleTime
	config.RefetchInterval = opts.RefetchInterval

	tabs := make([]*tab, 0, opts.Tabs)
	for i := 0; i < opts.Tabs; i++ {
		name := fmt.Sprintf("tab-%d", i+1)

		ch := broadcast.NewChannel(st, broadcast.ChannelConfig{}, logger)
		defer ch.Close()

		oc := origin.NewClient(origin.Config{BaseURL: baseURL}, logger)
		client := authsync.New(oc, ch, config, logger,
			authsync.WithHooks(observe.Prometheus(
				observe.WithConstLabels(prometheus.Labels{"context": name}),
			)),
		)
		defer client.Close()

		tabName := name
		client.Subscribe(func(change authsync.Change) {
			fmt.Printf("  [%s] %-8s %s\n", tabName, change.Trigger, Summarize(change.Session))
		})

		tabs = append(tabs, &tab{name: name, client: client})
	}

	fmt.Printf("\n== %d tabs start and prime their caches\n", len(tabs))
	for _, tb := range tabs {
		tb.client.Start(ctx)
	}

	if fake == nil {
		// Against a real origin there is nothing to script; observe.
		fmt.Println("\n== watching (interrupt to stop)")
		<-ctx.Done()
		return nil
	}

	// Push channel: tab-1 listens to the origin's event feed and pulls
	// on every push; the others learn through the shared store.
	listener, err := origin.ListenEvents(origin.EventsConfig{
		URL: "ws" + strings.TrimPrefix(baseURL, "http") + "/events",
		OnEvent: func(e origin.Event) {
			tabs[0].client.Refresh(ctx, authsync.TriggerStorage)
		},
	}, logger)
	if err != nil {
		return err
	}
	defer listener.Close()

	if !pause(ctx, 300*time.Millisecond) {
		return nil
	}

	fmt.Println("\n== tab-1 signs in as \"demo\"")
	if _, err := tabs[0].client.SignIn(ctx, "credentials", url.Values{"username": {"demo"}}); err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	if !pause(ctx, 500*time.Millisecond) {
		return nil
	}

	fmt.Println("\n== another device switches the account to \"remote\"")
	fake.SignIn("remote")
	if !pause(ctx, time.Second) {
		return nil
	}

	last := tabs[len(tabs)-1]
	fmt.Printf("\n== %s signs out\n", last.name)
	if _, err := last.client.SignOut(ctx); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	if !pause(ctx, 500*time.Millisecond) {
		return nil
	}

	fmt.Println("\n== final state")
	for _, tb := range tabs {
		fmt.Printf("  [%s] %s\n", tb.name, Summarize(tb.client.Session()))
	}
	fmt.Printf("  origin served %d session fetches\n", fake.Fetches())
	return nil
}

// newStore picks the sharing substrate.
func newStore(opts Options, logger *slog.Logger) (store.Store, error) {
	if opts.Dir == "" {
		return store.NewMemoryStore(), nil
	}
	return store.NewFileStore(store.FileStoreConfig{Dir: opts.Dir}, logger)
}

// serveMetrics exposes the default registry until ctx is canceled.
func serveMetrics(ctx context.Context, addr string, logger *slog.Logger) {
	srv := &http.Server{Addr: addr, Handler: promhttp.Handler()}
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()
	go func() {
		logger.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()
}

// pause sleeps unless the demo is interrupted.
func pause(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// Summarize renders a session document as one short line.
func Summarize(session json.RawMessage) string {
	if session == nil {
		return "signed out"
	}
	var doc struct {
		User struct {
			Name  string `json:"name"`
			Email string `json:"email"`
		} `json:"user"`
		Expires string `json:"expires"`
	}
	if err := json.Unmarshal(session, &doc); err != nil || doc.User.Name == "" {
		return "signed in"
	}
	return fmt.Sprintf("signed in as %s <%s>", doc.User.Name, doc.User.Email)
}
