package commands

import (
	"fmt"
	"os"
	"strconv"

	"github.com/jholhewres/chatwin/pkg/chatwin/chat"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// newConfigCmd creates the `chatwin config` command group.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage assistant configuration",
		Long: `Manage the chatwin configuration.

Examples:
  chatwin config init
  chatwin config show
  chatwin config set model gpt-4o
  chatwin config set-key`,
	}

	cmd.AddCommand(
		newConfigInitCmd(),
		newConfigShowCmd(),
		newConfigSetCmd(),
		newConfigSetKeyCmd(),
	)

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Root().PersistentFlags().GetString("config")
			if path == "" {
				path = chat.DefaultConfigPath()
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("config already exists at %s", path)
			}
			if err := chat.SaveConfig(chat.DefaultConfig(), path); err != nil {
				return err
			}
			fmt.Printf("Config written to %s\n", path)
			return nil
		},
	}
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			// Never print the key, even when it sits in the file.
			cfg.API.APIKey = ""

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Printf("# %s\n%s", path, data)
			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Long: `Set a configuration value and save the config file.

Supported keys: model, summary_model, instructions, api.base_url,
context.target_token_limit, context.summarization_enabled,
history.retention_days`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			if err := applyConfigValue(cfg, args[0], args[1]); err != nil {
				return err
			}
			if err := chat.SaveConfig(cfg, path); err != nil {
				return err
			}
			fmt.Printf("Set %s = %s\n", args[0], args[1])
			return nil
		},
	}
}

// applyConfigValue maps a dotted key to its config field.
func applyConfigValue(cfg *chat.Config, key, value string) error {
	switch key {
	case "model":
		cfg.Model = value
	case "summary_model":
		cfg.SummaryModel = value
	case "instructions":
		cfg.Instructions = value
	case "api.base_url":
		cfg.API.BaseURL = value
	case "context.target_token_limit":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return fmt.Errorf("target_token_limit must be a positive integer, got %q", value)
		}
		cfg.Context.TargetTokenLimit = n
	case "context.summarization_enabled":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("summarization_enabled must be true or false, got %q", value)
		}
		cfg.Context.SummarizationEnabled = &b
	case "history.retention_days":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("retention_days must be a non-negative integer, got %q", value)
		}
		cfg.History.RetentionDays = n
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	return nil
}

func newConfigSetKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-key",
		Short: "Store the LLM API key securely",
		Long: `Store the LLM API key in the OS keyring (default) or in the
encrypted vault (--vault). The key is prompted for and never echoed.`,
		RunE: runConfigSetKey,
	}
	cmd.Flags().Bool("vault", false, "store in the encrypted vault instead of the OS keyring")
	return cmd
}

func runConfigSetKey(cmd *cobra.Command, _ []string) error {
	key, err := chat.ReadPassword("API key: ")
	if err != nil {
		return err
	}
	if key == "" {
		return fmt.Errorf("empty API key")
	}

	useVault, _ := cmd.Flags().GetBool("vault")
	if !useVault {
		if err := chat.StoreKeyring("api_key", key); err != nil {
			return fmt.Errorf("store in OS keyring: %w (try --vault)", err)
		}
		fmt.Println("API key stored in the OS keyring.")
		return nil
	}

	vault := chat.NewVault(chat.VaultFile)
	password, err := chat.ReadPassword("Vault master password: ")
	if err != nil {
		return err
	}
	if vault.Exists() {
		if err := vault.Unlock(password); err != nil {
			return fmt.Errorf("unlock vault: %w", err)
		}
	} else {
		if err := vault.Create(password); err != nil {
			return fmt.Errorf("create vault: %w", err)
		}
	}
	if err := vault.Set("api_key", key); err != nil {
		return fmt.Errorf("store in vault: %w", err)
	}
	fmt.Printf("API key stored in %s.\n", chat.VaultFile)
	return nil
}
