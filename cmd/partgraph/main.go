package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agenthands/partgraph/internal/app"
	"github.com/agenthands/partgraph/internal/apperr"
	"github.com/agenthands/partgraph/internal/config"
	"github.com/agenthands/partgraph/internal/logging"
)

var version = "dev"

var (
	configPath string
	logLevel   string

	rootCmd = &cobra.Command{
		Use:           "partgraph",
		Short:         "Part replacement graph: evidence ingestion and resolution queries",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to read .env: %v\n", err)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", apperr.CodeOf(err), err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("PARTGRAPH_CONFIG"), "Path to a TOML or YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")

	rootCmd.AddCommand(
		serveCmd,
		consumeCmd,
		ingestCmd,
		enrichCmd,
		lookupCmd,
		chainCmd,
		specCmd,
		statsCmd,
		schemaCmd,
		clearCmd,
		mcpCmd,
		versionCmd,
	)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

// withApp builds the engine for one command and tears it down afterwards.
// The context is cancelled on SIGINT or SIGTERM.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("shutdown incomplete", zap.Error(err))
		}
	}()

	return fn(ctx, a)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
