package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/soulpath/soulbot/pkg/soulbot/assistant"
)

// newConfigCmd creates the `soulbot config` command group.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(newConfigInitCmd(), newConfigShowCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a config.yaml with default values",
		RunE: func(_ *cobra.Command, _ []string) error {
			const path = "config.yaml"
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			data, err := defaultConfigYAML()
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, data, 0o600); err != nil {
				return fmt.Errorf("writing %s: %w", path, err)
			}
			fmt.Printf("Wrote %s. Set the Telegram token and API key via\n", path)
			fmt.Println("'soulbot secret set' or the SOULBOT_* environment variables.")
			return nil
		},
	}
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			// Secrets stay out of the printout.
			cfg.API.APIKey = redact(cfg.API.APIKey)
			cfg.Telegram.Token = redact(cfg.Telegram.Token)
			cfg.Activity.APIKey = redact(cfg.Activity.APIKey)

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	}
}

func defaultConfigYAML() ([]byte, error) {
	return yaml.Marshal(assistant.DefaultConfig())
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}
