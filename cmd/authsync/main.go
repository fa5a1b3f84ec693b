package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const banner = `
  ┌─┐┬ ┬┌┬┐┬ ┬┌─┐┬ ┬┌┐┌┌─┐
  ├─┤│ │ │ ├─┤└─┐└┬┘││││
  ┴ ┴└─┘ ┴ ┴ ┴└─┘ ┴ ┘└┘└─┘
`

func main() {
	rootCmd := &cobra.Command{
		Use:   "authsync",
		Short: "Session sync for multi-context applications",
		Long: `AuthSync keeps authentication sessions consistent across browser
tabs, worker processes, and embedded shells.

Every context runs a small sync client that caches the last fetched
session, refreshes only when a policy says the cache is stale, and
converges with its siblings over a shared store:

  • One fetch serves many contexts
  • Sign-in and sign-out propagate instantly
  • Configurable staleness window and polling
  • Prometheus metrics and OpenTelemetry tracing`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Add commands
	rootCmd.AddCommand(
		demoCmd(),
		watchCmd(),
		versionCmd(),
	)

	// Execute
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		os.Exit(1)
	}
}

// printBanner prints the AuthSync ASCII art banner.
func printBanner() {
	fmt.Print(banner)
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}

// warn prints a warning message.
func warn(format string, args ...any) {
	fmt.Printf("\033[33m⚠\033[0m %s\n", fmt.Sprintf(format, args...))
}
