package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/jholhewres/chatwin/pkg/chatwin/chat"
	"github.com/jholhewres/chatwin/pkg/chatwin/models"
	"github.com/spf13/cobra"
)

// newChatCmd creates the `chatwin chat` command for conversations.
func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Talk to the assistant",
		Long: `Send a single message or start an interactive conversation.

Examples:
  chatwin chat "summarize the README in this directory"
  chatwin chat                       # interactive mode
  chatwin chat --session <id>        # resume a stored conversation
  chatwin chat -m gpt-4o "hello"`,
		Args: cobra.MaximumNArgs(1),
		RunE: runChat,
	}

	cmd.Flags().StringP("model", "m", "", "model to use for this conversation")
	cmd.Flags().StringP("session", "s", "", "resume the conversation with this id")
	cmd.Flags().Bool("ephemeral", false, "do not persist this conversation")
	return cmd
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, _, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd)

	if model, _ := cmd.Flags().GetString("model"); model != "" {
		cfg.Model = model
	}

	// ── Wire the core ──
	llm := chat.NewLLMClient(cfg, logger)
	if !llm.HasCredentials() {
		fmt.Println("No API key configured. Run 'chatwin setup' or 'chatwin config set-key' first.")
		return nil
	}

	estimator := chat.NewTokenEstimator(cfg.Model, logger)
	summarizer := chat.NewSummarizer(llm, cfg.SummaryModel, logger)
	optimizer := chat.NewOptimizer(estimator, summarizer, logger)

	tools := chat.NewToolExecutor(logger)
	tools.RegisterBuiltins()

	registry := models.NewRegistry(cfg.Models)

	// ── Persistence ──
	var store *chat.Store
	var persist chat.TurnPersistence
	if ephemeral, _ := cmd.Flags().GetBool("ephemeral"); !ephemeral {
		store, err = chat.OpenStore(cfg.History.DatabasePath, logger)
		if err != nil {
			return fmt.Errorf("open history store: %w", err)
		}
		defer store.Close()
		persist = store

		if cfg.History.RetentionDays > 0 {
			retention := time.Duration(cfg.History.RetentionDays) * 24 * time.Hour
			if err := store.StartRetentionJob(cfg.History.PruneSchedule, retention); err != nil {
				logger.Warn("retention job not started", "err", err)
			}
		}
	}

	controller := chat.NewTurnController(llm, optimizer, tools, registry, persist, cfg, logger)

	// ── Session ──
	sessions := chat.NewSessionStore(logger)
	session, err := openSession(cmd, sessions, store, logger)
	if err != nil {
		return err
	}
	if store != nil {
		if err := store.SaveConversation(session.ID, cfg.Model); err != nil {
			logger.Warn("save conversation failed", "err", err)
		}
	}

	if len(args) > 0 {
		// Single-message mode.
		reply, err := controller.RunTurn(cmd.Context(), session, chat.Message{
			Role:    chat.RoleUser,
			Content: args[0],
		})
		if err != nil {
			return err
		}
		fmt.Println(reply)
		return nil
	}

	return runREPL(cmd.Context(), controller, session)
}

// openSession resumes the conversation named by --session (rehydrating its
// history and summary cache from the store) or starts a fresh one. Stored
// history is re-normalized on the way in, so rows written by older builds
// never hand the optimizer a malformed message.
func openSession(cmd *cobra.Command, sessions *chat.SessionStore, store *chat.Store, logger *slog.Logger) (*chat.Session, error) {
	id, _ := cmd.Flags().GetString("session")
	if id == "" {
		return sessions.New(), nil
	}

	session := sessions.GetOrCreate(id)
	if store == nil {
		return session, nil
	}

	history, err := store.LoadMessages(id)
	if err != nil {
		return nil, fmt.Errorf("load conversation %q: %w", id, err)
	}
	session.Append(chat.NormalizeHistory(history, logger)...)

	cache, err := store.LoadSummaryCache(id)
	if err != nil {
		return nil, fmt.Errorf("load summary cache for %q: %w", id, err)
	}
	session.SetCache(cache)

	return session, nil
}

// runREPL runs the interactive loop until EOF or /exit.
func runREPL(ctx context.Context, controller *chat.TurnController, session *chat.Session) error {
	rl, err := readline.New("you> ")
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()

	fmt.Printf("Session %s. Type /exit to quit, /id to show the session id.\n", session.ID)

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case line == "/exit" || line == "/quit":
			return nil
		case line == "/id":
			fmt.Println(session.ID)
			continue
		}

		reply, err := controller.RunTurn(ctx, session, chat.Message{
			Role:    chat.RoleUser,
			Content: line,
		})
		if err != nil {
			fmt.Printf("error: %v\n", err)
			continue
		}
		fmt.Println(reply)
	}
}
