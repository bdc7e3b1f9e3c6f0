package commands

import (
	"fmt"
	"time"

	"github.com/jholhewres/chatwin/pkg/chatwin/chat"
	"github.com/spf13/cobra"
)

// newSessionsCmd creates the `chatwin sessions` command group for the
// stored conversation history.
func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage stored conversations",
		Long: `List and delete stored conversations.

Examples:
  chatwin sessions list
  chatwin sessions purge <id>
  chatwin sessions prune --days 30`,
	}

	cmd.AddCommand(
		newSessionsListCmd(),
		newSessionsPurgeCmd(),
		newSessionsPruneCmd(),
	)

	return cmd
}

// openStoreFromConfig opens the history store configured for this CLI run.
func openStoreFromConfig(cmd *cobra.Command) (*chat.Store, error) {
	cfg, _, err := resolveConfig(cmd)
	if err != nil {
		return nil, err
	}
	return chat.OpenStore(cfg.History.DatabasePath, newLogger(cmd))
}

func newSessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored conversations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStoreFromConfig(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			list, err := store.ListConversations()
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Println("No stored conversations.")
				return nil
			}

			fmt.Printf("%-38s %-16s %8s  %s\n", "ID", "MODEL", "MESSAGES", "UPDATED")
			for _, info := range list {
				fmt.Printf("%-38s %-16s %8d  %s\n",
					info.ID, info.Model, info.Messages,
					info.UpdatedAt.Local().Format("2006-01-02 15:04"),
				)
			}
			return nil
		},
	}
}

func newSessionsPurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge <id>",
		Short: "Delete a conversation, its messages, and its summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStoreFromConfig(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.PurgeConversation(args[0]); err != nil {
				return err
			}
			fmt.Printf("Purged %s\n", args[0])
			return nil
		},
	}
}

func newSessionsPruneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete conversations idle longer than the retention window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			days, _ := cmd.Flags().GetInt("days")
			if days <= 0 {
				return fmt.Errorf("--days must be positive")
			}

			store, err := openStoreFromConfig(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.PruneOlderThan(time.Duration(days) * 24 * time.Hour)
			if err != nil {
				return err
			}
			fmt.Printf("Pruned %d conversation(s)\n", n)
			return nil
		},
	}
	cmd.Flags().Int("days", 30, "retention window in days")
	return cmd
}
