package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/soulpath/soulbot/pkg/soulbot/assistant"
	"github.com/soulpath/soulbot/pkg/soulbot/session"
)

// localUserID identifies the terminal user in the session store, so a
// local conversation survives restarts like any other.
const localUserID = "local"

// newChatCmd creates the `soulbot chat` command for local conversations.
func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Talk to the bot from the terminal",
		Long: `Run a conversation against the local database without Telegram.
With a message argument, sends it and prints the reply. Without
arguments, starts an interactive loop.

Examples:
  soulbot chat "/diagnostic"
  soulbot chat "I feel drained lately"
  soulbot chat`,
		Args: cobra.MaximumNArgs(1),
		RunE: runChat,
	}
	cmd.Flags().StringP("model", "m", "", "override the configured model")
	return cmd
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	if model, _ := cmd.Flags().GetString("model"); model != "" {
		cfg.Model = model
	}
	logger := newLogger(cmd, cfg)

	assistant.ResolveSecrets(cfg, logger)
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

	ctx := context.Background()

	if len(args) > 0 {
		fmt.Println(bot.Handle(ctx, localUserID, localUserID, args[0]))
		return nil
	}

	fmt.Printf("%s interactive chat. Type /help for commands, 'exit' to quit.\n", cfg.Name)
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}
		if reply := bot.Handle(ctx, localUserID, localUserID, line); reply != "" {
			fmt.Println(reply)
		}
	}
}
