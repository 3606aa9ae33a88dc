package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/soulpath/soulbot/pkg/soulbot/assistant"
	"github.com/soulpath/soulbot/pkg/soulbot/session"
)

// newHealthCmd creates the `soulbot health` command, used by Docker
// HEALTHCHECK and monitoring.
func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check database and configuration health",
		RunE:  runHealth,
	}
}

func runHealth(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg)
	assistant.ResolveSecrets(cfg, logger)

	status := map[string]any{
		"status":   "ok",
		"database": "ok",
		"api_key":  cfg.API.APIKey != "",
		"telegram": cfg.Telegram.Token != "",
		"model":    cfg.Model,
	}

	db, err := session.OpenDatabase(cfg.Database)
	if err != nil {
		status["status"] = "degraded"
		status["database"] = err.Error()
	} else {
		db.Close()
	}
	if cfg.API.APIKey == "" || cfg.Telegram.Token == "" {
		status["status"] = "degraded"
	}

	out, _ := json.Marshal(status)
	fmt.Println(string(out))

	if status["status"] != "ok" {
		os.Exit(1)
	}
	return nil
}
