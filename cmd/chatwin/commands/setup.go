package commands

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/jholhewres/chatwin/pkg/chatwin/chat"
	"github.com/spf13/cobra"
)

// newSetupCmd creates the `chatwin setup` command: an interactive wizard
// that writes the initial config and stores the API key.
func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long: `Starts an interactive wizard to create your initial config.yaml.
Asks for the API endpoint, model, and context-window settings. The API
key goes to the OS keyring, never into the config file.`,
		RunE: runSetup,
	}
}

func runSetup(cmd *cobra.Command, _ []string) error {
	cfg := chat.DefaultConfig()

	var (
		apiKey        string
		targetTokens  = strconv.Itoa(cfg.TargetTokenLimit())
		summarization = cfg.SummarizationEnabled()
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("API base URL").
				Description("Any OpenAI-compatible endpoint works.").
				Value(&cfg.API.BaseURL),
			huh.NewInput().
				Title("Model").
				Description("e.g. gpt-4o-mini, gpt-4o, glm-4.6").
				Value(&cfg.Model),
			huh.NewInput().
				Title("API key").
				EchoMode(huh.EchoModePassword).
				Value(&apiKey),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Target token limit").
				Description("Soft ceiling for a request payload.").
				Validate(func(s string) error {
					n, err := strconv.Atoi(s)
					if err != nil || n <= 0 {
						return fmt.Errorf("must be a positive integer")
					}
					return nil
				}).
				Value(&targetTokens),
			huh.NewConfirm().
				Title("Summarize old history?").
				Description("When off, overflow history is truncated instead.").
				Value(&summarization),
		),
	)

	if err := form.Run(); err != nil {
		return err
	}

	cfg.SummaryModel = cfg.Model
	cfg.Context.TargetTokenLimit, _ = strconv.Atoi(targetTokens)
	cfg.Context.SummarizationEnabled = &summarization

	path, _ := cmd.Root().PersistentFlags().GetString("config")
	if path == "" {
		path = chat.DefaultConfigPath()
	}
	if err := chat.SaveConfig(cfg, path); err != nil {
		return err
	}
	fmt.Printf("Config written to %s\n", path)

	if apiKey != "" {
		if err := chat.StoreKeyring("api_key", apiKey); err != nil {
			fmt.Printf("Could not reach the OS keyring (%v).\n", err)
			fmt.Println("Set CHATWIN_API_KEY or run 'chatwin config set-key --vault' instead.")
		} else {
			fmt.Println("API key stored in the OS keyring.")
		}
	}

	fmt.Println("Done. Try: chatwin chat \"hello\"")
	return nil
}
