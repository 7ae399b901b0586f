// Package config provides YAML-based configuration loading for Trestle.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Trestle configuration, loaded from config.yaml.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Backend    BackendConfig    `yaml:"backend"`
	Platforms  PlatformsConfig  `yaml:"platforms"`
	Repos      ReposConfig      `yaml:"repos"`
	Models     ModelsConfig     `yaml:"models"`
	Classifier ClassifierConfig `yaml:"classifier"`
	TTL        TTLConfig        `yaml:"ttl"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// DatabaseConfig selects the storage backend. Driver "mysql" uses the
// host/port/name fields; "sqlite" uses path.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	Path     string `yaml:"path"`
}

// BackendConfig holds the agent execution service endpoint and the shared
// secret used both for bearer token minting and callback verification.
type BackendConfig struct {
	BaseURL      string `yaml:"base_url"`
	SharedSecret string `yaml:"shared_secret"`
}

// PlatformsConfig holds per-platform credentials.
type PlatformsConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	GitHub  GitHubConfig  `yaml:"github"`
	Discord DiscordConfig `yaml:"discord"`
}

// SlackConfig holds Slack Events API credentials.
type SlackConfig struct {
	SigningSecret string `yaml:"signing_secret"`
	BotToken      string `yaml:"bot_token"`
	BotUserID     string `yaml:"bot_user_id"`
}

// GitHubConfig holds GitHub webhook and API credentials.
type GitHubConfig struct {
	WebhookSecret string `yaml:"webhook_secret"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	BotLogin      string `yaml:"bot_login"`
}

// DiscordConfig holds Discord relay and bot credentials. Inbound Discord
// events arrive through a relay that signs the raw body with the webhook
// secret; outbound posting uses the bot token.
type DiscordConfig struct {
	WebhookSecret string `yaml:"webhook_secret"`
	BotToken      string `yaml:"bot_token"`
	BotUserID     string `yaml:"bot_user_id"`
}

// ReposConfig holds the administrator-curated repository mappings used by
// the resolution cascade.
type ReposConfig struct {
	// Projects maps an explicit project key (e.g. a tracker project id)
	// to "owner/name". Highest-precedence resolution strategy.
	Projects map[string]string `yaml:"projects"`
	// Channels maps chat channels to repositories, optionally filtered
	// by label. An entry without a label is the fallback for its channel.
	Channels []ChannelMapping `yaml:"channels"`
}

// ChannelMapping routes one channel (optionally one label within it) to a
// repository.
type ChannelMapping struct {
	Channel string `yaml:"channel"`
	Label   string `yaml:"label"`
	Repo    string `yaml:"repo"`
}

// ModelsConfig defines the known model registry and per-repo defaults.
type ModelsConfig struct {
	Default       string                `yaml:"default"`
	DefaultEffort string                `yaml:"default_effort"`
	Registry      []ModelSpec           `yaml:"registry"`
	RepoDefaults  map[string]RepoModels `yaml:"repo_defaults"` // keyed by "owner/name"
}

// ModelSpec describes one known model and the reasoning efforts it supports.
type ModelSpec struct {
	Name          string   `yaml:"name"`
	Efforts       []string `yaml:"efforts"`
	DefaultEffort string   `yaml:"default_effort"`
}

// RepoModels holds repository-level model configuration and override policy.
type RepoModels struct {
	Model              string `yaml:"model"`
	ReasoningEffort    string `yaml:"reasoning_effort"`
	AllowUserOverride  bool   `yaml:"allow_user_override"`
	AllowLabelOverride bool   `yaml:"allow_label_override"`
}

// ClassifierConfig holds settings for the free-text repository classifier.
type ClassifierConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// TTLConfig bounds the lifetime of the shared stores.
type TTLConfig struct {
	ThreadHours   int `yaml:"thread_hours"`
	IssueDays     int `yaml:"issue_days"`
	DedupeMinutes int `yaml:"dedupe_minutes"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays secrets from the environment. Environment values win
// over file values so that config files can be committed without secrets.
func (c *Config) applyEnv() {
	overlay := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	overlay(&c.Backend.SharedSecret, "TRESTLE_BACKEND_SECRET")
	overlay(&c.Platforms.Slack.SigningSecret, "SLACK_SIGNING_SECRET")
	overlay(&c.Platforms.Slack.BotToken, "SLACK_BOT_TOKEN")
	overlay(&c.Platforms.GitHub.WebhookSecret, "GITHUB_WEBHOOK_SECRET")
	overlay(&c.Platforms.GitHub.Token, "GITHUB_TOKEN")
	overlay(&c.Platforms.Discord.WebhookSecret, "DISCORD_WEBHOOK_SECRET")
	overlay(&c.Platforms.Discord.BotToken, "DISCORD_BOT_TOKEN")
	overlay(&c.Classifier.APIKey, "ANTHROPIC_API_KEY")
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8420
	}
	if c.Database.Driver == "" {
		if c.Database.Path != "" {
			c.Database.Driver = "sqlite"
		} else {
			c.Database.Driver = "mysql"
		}
	}
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Database.User == "" {
		c.Database.User = "root"
	}
	if c.Database.Name == "" {
		c.Database.Name = "trestle"
	}
	if c.Models.DefaultEffort == "" {
		c.Models.DefaultEffort = "medium"
	}
	if c.Classifier.Model == "" {
		c.Classifier.Model = "claude-sonnet-4-5"
	}
	if c.TTL.ThreadHours == 0 {
		c.TTL.ThreadHours = 24
	}
	if c.TTL.IssueDays == 0 {
		c.TTL.IssueDays = 7
	}
	if c.TTL.DedupeMinutes == 0 {
		c.TTL.DedupeMinutes = 60
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Backend.BaseURL == "" {
		errs = append(errs, "backend.base_url is required")
	}
	if c.Backend.SharedSecret == "" {
		errs = append(errs, "backend.shared_secret is required")
	}
	if c.Models.Default == "" {
		errs = append(errs, "models.default is required")
	}
	if len(c.Models.Registry) == 0 {
		errs = append(errs, "models.registry must list at least one model")
	}
	for i, m := range c.Models.Registry {
		if m.Name == "" {
			errs = append(errs, fmt.Sprintf("models.registry[%d].name is required", i))
		}
	}
	for i, ch := range c.Repos.Channels {
		if ch.Channel == "" {
			errs = append(errs, fmt.Sprintf("repos.channels[%d].channel is required", i))
		}
		if ch.Repo == "" {
			errs = append(errs, fmt.Sprintf("repos.channels[%d].repo is required", i))
		}
	}
	if c.Database.Driver != "mysql" && c.Database.Driver != "sqlite" {
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported (mysql, sqlite)", c.Database.Driver))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: invalid: %s", strings.Join(errs, "; "))
	}
	return nil
}
