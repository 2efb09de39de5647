// Package cmd defines the CLI commands for the brand dashboard executable.
package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/brand-dashboard/internal/config"
	"github.com/JakeFAU/brand-dashboard/internal/logging"
	"github.com/JakeFAU/brand-dashboard/internal/server"
)

// Runner is the long-running service the serve command drives.
type Runner interface {
	Run(ctx context.Context) error
}

// buildApp is the application factory. Tests replace it.
var buildApp = func(ctx context.Context, cfg config.Config) (Runner, error) {
	return server.Build(ctx, cfg)
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "branddash",
		Short: "Brand dashboard API and crawl workflow.",
		Long: `branddash serves the brand dashboard API: it admits one crawl per
organization at a time, hands it to the crawl workflow and reports progress.
The orgs subcommands manage the active organization of a session.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newOrgsCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		logger, logErr := logging.New(false, "error")
		if logErr != nil {
			os.Exit(1)
		}
		logger.Fatal("command execution failed", zap.Error(err))
	}
}
