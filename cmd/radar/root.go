package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/market-radar/internal/config"
	"github.com/JakeFAU/market-radar/internal/ingest"
	"github.com/JakeFAU/market-radar/internal/server"
)

// App is the slice of *server.App the commands use. Tests swap in a fake.
type App interface {
	Run(ctx context.Context) error
	Ingest(ctx context.Context, limit int) (ingest.Report, error)
	Close(ctx context.Context) error
}

// newApp is the application factory; a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg *config.Config) (App, error) {
	return server.Build(ctx, cfg)
}

// migrate applies migrations; a variable so tests can replace it.
var migrate = func(ctx context.Context, cfg *config.Config) ([]string, error) {
	return server.Migrate(ctx, cfg, zap.NewNop())
}

type rootOptions struct {
	cfgFile string
	cfg     config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "radar",
		Short: "Tracks new products and launches across public feeds.",
		Long: `radar polls Hacker News, Product Hunt, BetaList and Hugging Face,
merges what it finds into one entity per URL, analyzes new entities with an
LLM and serves the results over a JSON API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			opts.cfg = cfg
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "path to a config file (env vars use the RADAR_ prefix)")

	cmd.AddCommand(newServeCmd(opts), newIngestCmd(opts), newMigrateCmd(opts))
	return cmd
}
