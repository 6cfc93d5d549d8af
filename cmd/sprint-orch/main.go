package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "1.0.0"

var (
	configPath string
	logLevel   string
	logFormat  string
	rootCmd    = &cobra.Command{
		Use:   "sprint-orch",
		Short: "Sprint orchestrator - drive a range of issues to pull requests",
		Long: `sprint-orch takes a selection of issue numbers, checks that the environment
is ready, creates a branch per open issue, opens a pull request for it and
writes a sprint report.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (console, json)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
