package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/soulpath/soulbot/pkg/soulbot/session"
)

// newSessionsCmd creates the `soulbot sessions` command for inspecting
// the session store.
func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List stored sessions",
		Long: `List sessions from the local database, newest first.

Examples:
  soulbot sessions --user 12345
  soulbot sessions --user 12345 --type healing
  soulbot sessions --active`,
		RunE: runSessions,
	}
	cmd.Flags().String("user", "", "filter by user ID")
	cmd.Flags().String("type", "", "filter by session type (diagnostic, provocative, healing)")
	cmd.Flags().Bool("active", false, "only active sessions")
	return cmd
}

func runSessions(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg)

	db, err := session.OpenDatabase(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()
	store := session.NewStore(db, logger)

	ctx := context.Background()
	userID, _ := cmd.Flags().GetString("user")
	typ, _ := cmd.Flags().GetString("type")
	activeOnly, _ := cmd.Flags().GetBool("active")

	var sessions []*session.Session
	switch {
	case activeOnly:
		sessions, err = store.RestoreAllActive(ctx)
	case userID != "":
		sessions, err = store.ListByUser(ctx, userID, session.Type(typ))
	default:
		return fmt.Errorf("pass --user or --active")
	}
	if err != nil {
		return err
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}
	for _, s := range sessions {
		status := "completed"
		if s.Active {
			status = "active"
		}
		fmt.Printf("%s  %-12s %-9s user=%s turns=%d created=%s\n",
			s.ID, s.Type, status, s.UserID, s.QuestionCount,
			s.CreatedAt.Format(time.RFC3339))
	}
	return nil
}
