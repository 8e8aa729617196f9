// Package config handles configuration loading for attaché. It supports XDG
// config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the attaché daemon.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Agents    AgentsConfig    `mapstructure:"agents"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Project   ProjectConfig   `mapstructure:"project"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
	// UseBedrock switches to AWS Bedrock instead of the direct API.
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// AgentsConfig holds orchestrator settings.
type AgentsConfig struct {
	// MaxConcurrent is the per-user cap on active agents.
	MaxConcurrent int `mapstructure:"max_concurrent"`
	// StopGrace bounds how long a stop waits for a run to unwind.
	StopGrace time.Duration `mapstructure:"stop_grace"`
	// EditInterval is the minimum time between status message edits.
	EditInterval time.Duration `mapstructure:"edit_interval"`
	// MaxIterations caps API round trips per agent run.
	MaxIterations int `mapstructure:"max_iterations"`
}

// WebhookConfig holds the notification receiver settings.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	// GitHubSecret verifies GitHub webhook signatures.
	GitHubSecret string `mapstructure:"github_secret"`
	// BearerToken guards the generic endpoint.
	BearerToken string `mapstructure:"bearer_token"`
	// DefaultChatID receives events for repositories without a route.
	DefaultChatID int64 `mapstructure:"default_chat_id"`
	// Routes maps repository full names to chat ids.
	Routes map[string]int64 `mapstructure:"routes"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	// Path is the SQLite database location. Empty means the XDG default.
	Path string `mapstructure:"path"`
}

// ProjectConfig holds the working project settings.
type ProjectConfig struct {
	// Path is the directory agents work in. Empty means the current directory.
	Path string `mapstructure:"path"`
}

// Load loads configuration with the usual precedence, highest first:
// environment variables, project config (.attache.yaml in the current
// directory or a parent), user config (~/.config/attache/config.yaml),
// built-in defaults.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		pv := viper.New()
		pv.SetConfigFile(projectConfig)
		if err := pv.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(pv.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("webhook.github_secret", "ATTACHE_GITHUB_SECRET")
	v.BindEnv("webhook.bearer_token", "ATTACHE_WEBHOOK_TOKEN")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)
	return cfg, nil
}

// UserConfigPath returns the path to the user config file.
func UserConfigPath() string {
	return filepath.Join(userConfigDir(), "config.yaml")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "")
	v.SetDefault("anthropic.use_bedrock", false)

	v.SetDefault("agents.max_concurrent", 5)
	v.SetDefault("agents.stop_grace", "5s")
	v.SetDefault("agents.edit_interval", "2s")
	v.SetDefault("agents.max_iterations", 50)

	v.SetDefault("webhook.enabled", false)
	v.SetDefault("webhook.addr", ":9090")

	v.SetDefault("storage.path", "")
	v.SetDefault("project.path", "")
}

func userConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "attache")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "attache")
	}
	return filepath.Join(home, ".config", "attache")
}

// findProjectConfig searches for .attache.yaml in the current directory and
// parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		path := filepath.Join(cwd, ".attache.yaml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}
	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Agents: AgentsConfig{
			MaxConcurrent: 5,
			StopGrace:     5 * time.Second,
			EditInterval:  2 * time.Second,
			MaxIterations: 50,
		},
		Webhook: WebhookConfig{
			Addr: ":9090",
		},
	}
}
