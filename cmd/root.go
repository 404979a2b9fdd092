// Package cmd defines and implements the CLI commands for the radarsnap executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/radar-snapshot/internal/config"
	"github.com/JakeFAU/radar-snapshot/internal/server"
	"github.com/JakeFAU/radar-snapshot/internal/snapshot"
)

// App defines the application surface the commands use.
// This allows us to inject a fake app during tests.
type App interface {
	Run(ctx context.Context) error
	Capture(ctx context.Context) (snapshot.Result, error)
	Close(ctx context.Context) error
	Logger() *zap.Logger
}

// appFactory builds an App from loaded configuration.
type appFactory func(ctx context.Context, cfg config.Config, opts ...server.Option) (App, error)

func buildServerApp(ctx context.Context, cfg config.Config, opts ...server.Option) (App, error) {
	app, err := server.Build(ctx, cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("build app: %w", err)
	}
	return app, nil
}

type rootOptions struct {
	cfgFile string
	newApp  appFactory
}

// loadConfig reads the --config file and environment overrides.
func (o *rootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.cfgFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd(factory appFactory) *cobra.Command {
	opts := &rootOptions{newApp: factory}
	cmd := &cobra.Command{
		Use:   "radarsnap",
		Short: "Periodically snapshots a weather radar page and serves the latest image.",
		Long: `radarsnap renders a remote radar page in headless Chrome, removes cookie
banners, stamps the capture with an Athens-local timestamp and publishes it
as the single latest PNG, served over HTTP.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (YAML); env vars prefixed RADARSNAP_ override it")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newCaptureCmd(opts))

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd(buildServerApp).Execute(); err != nil {
		os.Exit(1)
	}
}
