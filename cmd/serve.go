package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"toolgate/internal/app"
	"toolgate/internal/catalog"
	"toolgate/pkg/logging"

	"github.com/spf13/cobra"
)

var (
	serveConfigPath string
	serveLogLevel   string
	servePort       int
	serveAPIKey     string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway",
	Long: `Starts the aggregation gateway: loads the catalog, launches the
auto-start backends, and serves the front SSE/HTTP endpoint until
interrupted.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	logging.Init(logging.ParseLevel(serveLogLevel), os.Stderr)

	path := serveConfigPath
	if path == "" {
		path = catalog.DefaultConfigPath()
	}
	cfg, err := catalog.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if servePort != 0 {
		cfg.Gateway.Port = servePort
	}
	if serveAPIKey != "" {
		cfg.Gateway.APIKey = serveAPIKey
	}

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize gateway: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logging.Info("Serve", "Shutdown signal received")

	return application.Stop(context.Background())
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "Path to the gateway config file")
	serveCmd.Flags().StringVar(&serveLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Override the configured listen port")
	serveCmd.Flags().StringVar(&serveAPIKey, "api-key", "", "Override the configured pre-shared key")
}
