package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/soulpath/soulbot/pkg/soulbot/assistant"
)

// secretNames maps CLI argument names to keyring entry names.
var secretNames = map[string]string{
	"api-key":        "api_key",
	"telegram-token": "telegram_token",
}

// newSecretCmd creates the `soulbot secret` command group for the OS
// keyring.
func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage secrets in the OS keyring",
		Long: `Store credentials in the operating system keyring instead of
config.yaml. Known secrets: api-key, telegram-token.

Examples:
  soulbot secret set api-key
  soulbot secret set telegram-token
  soulbot secret delete api-key`,
	}
	cmd.AddCommand(newSecretSetCmd(), newSecretDeleteCmd())
	return cmd
}

func newSecretSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <name>",
		Short: "Store a secret (prompts for the value)",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			key, ok := secretNames[args[0]]
			if !ok {
				return fmt.Errorf("unknown secret %q (known: api-key, telegram-token)", args[0])
			}

			fmt.Printf("Value for %s: ", args[0])
			reader := bufio.NewReader(os.Stdin)
			value, err := reader.ReadString('\n')
			if err != nil {
				return fmt.Errorf("reading value: %w", err)
			}
			value = strings.TrimSpace(value)
			if value == "" {
				return fmt.Errorf("empty value")
			}

			if err := assistant.StoreKeyring(key, value); err != nil {
				return fmt.Errorf("storing in keyring: %w", err)
			}
			fmt.Printf("Stored %s in the OS keyring.\n", args[0])
			return nil
		},
	}
}

func newSecretDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Remove a secret from the keyring",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			key, ok := secretNames[args[0]]
			if !ok {
				return fmt.Errorf("unknown secret %q (known: api-key, telegram-token)", args[0])
			}
			if err := assistant.DeleteKeyring(key); err != nil {
				return fmt.Errorf("deleting from keyring: %w", err)
			}
			fmt.Printf("Deleted %s from the OS keyring.\n", args[0])
			return nil
		},
	}
}
