package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/authsync-dev/authsync/internal/demo"
	"github.com/authsync-dev/authsync/pkg/authsync"
	"github.com/authsync-dev/authsync/pkg/broadcast"
	"github.com/authsync-dev/authsync/pkg/observe"
	"github.com/authsync-dev/authsync/pkg/origin"
	"github.com/authsync-dev/authsync/pkg/store"
)

func watchCmd() *cobra.Command {
	var (
		originURL string
		dir       string
		eventsURL string
		metrics   string
		staleTime time.Duration
		interval  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch an origin's session from this terminal",
		Long: `Run one sync client against an auth origin and print every
session transition as it happens.

With --dir, watch processes on one machine share their state
through that directory: a sign-out observed by one is picked up
by the others without extra fetches.

With --events, the client also subscribes to the origin's
WebSocket feed and pulls as soon as the server announces a
change.

Examples:
  authsync watch --url=http://localhost:3000/api/auth
  authsync watch --url=... --dir=/tmp/authsync --interval=1m
  authsync watch --url=... --events=ws://localhost:3000/api/auth/events`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(originURL, dir, eventsURL, metrics, staleTime, interval)
		},
	}

	cmd.Flags().StringVarP(&originURL, "url", "u", "", "Auth origin base URL (default: $AUTHSYNC_URL)")
	cmd.Flags().StringVar(&dir, "dir", "", "Share state with sibling processes through this directory")
	cmd.Flags().StringVar(&eventsURL, "events", "", "WebSocket event feed URL")
	cmd.Flags().StringVar(&metrics, "metrics", "", "Expose Prometheus metrics on this address")
	cmd.Flags().DurationVar(&staleTime, "stale", 0, "Staleness window (0 trusts the cache until told otherwise)")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Polling interval (0 disables polling)")

	return cmd
}

func runWatch(originURL, dir, eventsURL, metrics string, staleTime, interval time.Duration) error {
	printBanner()
	fmt.Println("  watch")
	fmt.Println()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	oc := origin.NewClient(origin.Config{BaseURL: originURL}, logger)

	var channel *broadcast.Channel
	if dir != "" {
		fs, err := store.NewFileStore(store.FileStoreConfig{Dir: dir}, logger)
		if err != nil {
			return err
		}
		defer fs.Close()

		channel = broadcast.NewChannel(fs, broadcast.ChannelConfig{}, logger)
		defer channel.Close()
		info("sharing state through %s", dir)
	}

	config := authsync.DefaultConfig()
	config.StaleTime = staleTime
	config.RefetchInterval = interval

	var opts []authsync.Option
	if metrics != "" {
		opts = append(opts, authsync.WithHooks(observe.Prometheus()))
		srv := &http.Server{Addr: metrics, Handler: promhttp.Handler()}
		go func() {
			<-ctx.Done()
			srv.Shutdown(context.Background())
		}()
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				warn("metrics server stopped: %s", err)
			}
		}()
		info("metrics on %s", metrics)
	}

	client := authsync.New(oc, channel, config, logger, opts...)
	defer client.Close()

	client.Subscribe(func(change authsync.Change) {
		success("%-8s %s", change.Trigger, demo.Summarize(change.Session))
	})

	client.Start(ctx)

	if eventsURL != "" {
		listener, err := origin.ListenEvents(origin.EventsConfig{
			URL: eventsURL,
			OnEvent: func(origin.Event) {
				client.Refresh(ctx, authsync.TriggerStorage)
			},
		}, logger)
		if err != nil {
			return err
		}
		defer listener.Close()
		info("event feed %s", eventsURL)
	}

	info("watching %s (interrupt to stop)", oc.BaseURL())
	<-ctx.Done()
	fmt.Println()
	return nil
}
