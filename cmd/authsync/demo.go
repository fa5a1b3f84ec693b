package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/authsync-dev/authsync/internal/demo"
)

func demoCmd() *cobra.Command {
	var (
		originURL string
		tabs      int
		staleTime time.Duration
		interval  time.Duration
		dir       string
		metrics   string
	)

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a scripted multi-tab sync demo",
		Long: `Run several sync clients against one auth origin and watch
sign-in, a server-side account change, and sign-out propagate
between them.

Without --url an in-process origin is started and scripted.
With --dir the tabs share state through files, so a second demo
process pointed at the same directory joins in.

Examples:
  authsync demo
  authsync demo --tabs=4 --stale=30s
  authsync demo --dir=/tmp/authsync --metrics=:9100`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(originURL, tabs, staleTime, interval, dir, metrics)
		},
	}

	cmd.Flags().StringVarP(&originURL, "url", "u", "", "Auth origin base URL (default: in-process fake)")
	cmd.Flags().IntVarP(&tabs, "tabs", "t", 3, "Number of simulated tabs")
	cmd.Flags().DurationVar(&staleTime, "stale", 0, "Staleness window (0 trusts the cache until told otherwise)")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Polling interval (0 disables polling)")
	cmd.Flags().StringVar(&dir, "dir", "", "Share state through this directory instead of process memory")
	cmd.Flags().StringVar(&metrics, "metrics", "", "Expose Prometheus metrics on this address")

	return cmd
}

func runDemo(originURL string, tabs int, staleTime, interval time.Duration, dir, metrics string) error {
	printBanner()
	fmt.Println("  demo")

	// Keep the transition feed readable; only surface problems.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\n\n  Shutting down...")
		cancel()
	}()

	err := demo.Run(ctx, demo.Options{
		OriginURL:       originURL,
		Tabs:            tabs,
		StaleTime:       staleTime,
		RefetchInterval: interval,
		Dir:             dir,
		MetricsAddr:     metrics,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	fmt.Println()
	success("demo finished")
	return nil
}
