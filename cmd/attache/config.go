package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/attache/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key]",
	Short: "Show configuration",
	Long: `Display the effective configuration.

Without arguments, prints every setting. With a key argument, prints just
that value.

Configuration is read from ` + "`config.yaml`" + ` in the user config directory,
with project-level overrides from .attache.yaml found in the current
directory or any parent.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		if len(args) == 1 {
			displayConfigKey(cfg, args[0])
			return
		}
		displayAllConfig(cfg)
	},
}

// displayAllConfig prints all settings grouped by section.
func displayAllConfig(cfg *config.Config) {
	heading := color.New(color.FgCyan, color.Bold)

	heading.Println("anthropic")
	apiKeyDisplay := "(not set)"
	if cfg.Anthropic.APIKey != "" {
		apiKeyDisplay = "****"
	}
	fmt.Printf("  api_key: %s\n", apiKeyDisplay)
	fmt.Printf("  model: %s\n", cfg.Anthropic.Model)
	fmt.Printf("  use_bedrock: %t\n", cfg.Anthropic.UseBedrock)
	if cfg.Anthropic.UseBedrock {
		fmt.Printf("  aws_region: %s\n", cfg.Anthropic.AWSRegion)
		fmt.Printf("  aws_profile: %s\n", cfg.Anthropic.AWSProfile)
	}

	heading.Println("agents")
	fmt.Printf("  max_concurrent: %d\n", cfg.Agents.MaxConcurrent)
	fmt.Printf("  stop_grace: %s\n", cfg.Agents.StopGrace)
	fmt.Printf("  edit_interval: %s\n", cfg.Agents.EditInterval)
	fmt.Printf("  max_iterations: %d\n", cfg.Agents.MaxIterations)

	heading.Println("webhook")
	fmt.Printf("  enabled: %t\n", cfg.Webhook.Enabled)
	fmt.Printf("  addr: %s\n", cfg.Webhook.Addr)
	fmt.Printf("  routes: %d configured\n", len(cfg.Webhook.Routes))

	heading.Println("storage")
	path := cfg.Storage.Path
	if path == "" {
		path = "(default)"
	}
	fmt.Printf("  path: %s\n", path)

	fmt.Println()
	fmt.Printf("User config: %s\n", config.UserConfigPath())
}

// displayConfigKey prints a single value by dot-notation key.
func displayConfigKey(cfg *config.Config, key string) {
	value, ok := configValue(cfg, key)
	if !ok {
		fmt.Fprintf(os.Stderr, "Error: unknown configuration key %q\n", key)
		os.Exit(1)
	}
	fmt.Println(value)
}

func configValue(cfg *config.Config, key string) (string, bool) {
	switch key {
	case "anthropic.api_key":
		if cfg.Anthropic.APIKey == "" {
			return "(not set)", true
		}
		return "****", true
	case "anthropic.model":
		return cfg.Anthropic.Model, true
	case "anthropic.use_bedrock":
		return fmt.Sprintf("%t", cfg.Anthropic.UseBedrock), true
	case "anthropic.aws_region":
		return cfg.Anthropic.AWSRegion, true
	case "anthropic.aws_profile":
		return cfg.Anthropic.AWSProfile, true
	case "agents.max_concurrent":
		return fmt.Sprintf("%d", cfg.Agents.MaxConcurrent), true
	case "agents.stop_grace":
		return cfg.Agents.StopGrace.String(), true
	case "agents.edit_interval":
		return cfg.Agents.EditInterval.String(), true
	case "agents.max_iterations":
		return fmt.Sprintf("%d", cfg.Agents.MaxIterations), true
	case "webhook.enabled":
		return fmt.Sprintf("%t", cfg.Webhook.Enabled), true
	case "webhook.addr":
		return cfg.Webhook.Addr, true
	case "webhook.default_chat_id":
		return fmt.Sprintf("%d", cfg.Webhook.DefaultChatID), true
	case "storage.path":
		return cfg.Storage.Path, true
	case "project.path":
		return cfg.Project.Path, true
	}
	return "", false
}
