package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/soulpath/soulbot/pkg/soulbot/assistant"
	"github.com/soulpath/soulbot/pkg/soulbot/channels/telegram"
	"github.com/soulpath/soulbot/pkg/soulbot/session"
)

// newServeCmd creates the `soulbot serve` command that starts the bot.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the bot and connect to Telegram",
		Long: `Start SoulBot as a long-running service: restores active sessions
from the database, connects to Telegram, and processes messages until
interrupted.

Examples:
  soulbot serve
  soulbot serve --config ./config.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg)

	assistant.ResolveSecrets(cfg, logger)
	if cfg.Telegram.Token == "" {
		return fmt.Errorf("no Telegram token configured (keyring, SOULBOT_TELEGRAM_TOKEN, or config.yaml)")
	}
	if cfg.API.APIKey == "" {
		return fmt.Errorf("no API key configured (keyring, SOULBOT_API_KEY, or config.yaml)")
	}

	db, err := session.OpenDatabase(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()
	store := session.NewStore(db, logger)

	gen := assistant.NewLLMClient(cfg, logger)
	bot, err := assistant.New(cfg, store, gen, logger)
	if err != nil {
		return fmt.Errorf("creating assistant: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	channel := telegram.New(cfg.Telegram, logger)

	analyzer := assistant.NewAnalyzer(store, gen, assistant.NewActivityClient(cfg.Activity, logger), logger)
	sweeper := assistant.NewSweeper(cfg.Sweeper, store, analyzer, bot.Engine(), channel.Send, logger)
	if err := sweeper.Start(ctx); err != nil {
		return fmt.Errorf("starting sweeper: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- bot.Start(ctx, channel)
	}()

	logger.Info("SoulBot running. Press Ctrl+C to stop.", "name", cfg.Name, "model", cfg.Model)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("shutdown signal received, stopping...", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("assistant stopped: %w", err)
		}
		return nil
	}

	cancel()

	done := make(chan struct{})
	go func() {
		sweeper.Stop()
		bot.Stop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out after 10s, forcing exit")
	}
	return nil
}

// resolveConfig loads the config from the --config flag or the default
// locations.
func resolveConfig(cmd *cobra.Command) (*assistant.Config, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")
	if configPath != "" {
		cfg, err := assistant.LoadConfigFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		return cfg, nil
	}

	for _, candidate := range []string{"config.yaml", "soulbot.yaml"} {
		if _, err := os.Stat(candidate); err == nil {
			cfg, err := assistant.LoadConfigFromFile(candidate)
			if err != nil {
				return nil, fmt.Errorf("loading config from %s: %w", candidate, err)
			}
			return cfg, nil
		}
	}

	// No file found; defaults still work for local commands.
	return assistant.DefaultConfig(), nil
}

// newLogger builds the slog logger from config and the --verbose flag.
func newLogger(cmd *cobra.Command, cfg *assistant.Config) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	level := slog.LevelInfo
	if verbose || cfg.Logging.Level == "debug" {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}
