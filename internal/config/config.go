// Package config provides YAML-based configuration loading for the
// misunderstood review service.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file used when none is given.
const DefaultPath = "misunderstood.yaml"

// Supported database drivers.
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Supported notification platforms. An empty platform disables notifications.
const (
	PlatformSlack   = "slack"
	PlatformDiscord = "discord"
)

// Config is the top-level configuration, loaded from misunderstood.yaml.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Notify   NotifyConfig   `yaml:"notify"`
}

// DatabaseConfig holds connection settings for the bot runtime database.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Path     string `yaml:"path"`
}

// ServerConfig configures the review API.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// NotifyConfig configures chat notifications for flag lifecycle events.
type NotifyConfig struct {
	Platform  string       `yaml:"platform"`
	ChannelID string       `yaml:"channel_id"`
	Slack     TokenConfig  `yaml:"slack"`
	Discord   TokenConfig  `yaml:"discord"`
	Events    EventsConfig `yaml:"events"`
	QueueSize int          `yaml:"queue_size"`
	Digest    DigestConfig `yaml:"digest"`
}

// TokenConfig holds a chat platform bot token.
type TokenConfig struct {
	BotToken string `yaml:"bot_token"`
}

// EventsConfig toggles which store changes are announced.
// Both default to true when the block is omitted.
type EventsConfig struct {
	Flagged       *bool `yaml:"flagged"`
	StatusChanges *bool `yaml:"status_changes"`
}

// FlaggedEnabled reports whether new flags are announced.
func (e EventsConfig) FlaggedEnabled() bool { return e.Flagged == nil || *e.Flagged }

// StatusChangesEnabled reports whether status updates are announced.
func (e EventsConfig) StatusChangesEnabled() bool {
	return e.StatusChanges == nil || *e.StatusChanges
}

// DigestConfig schedules periodic per-scope summaries.
type DigestConfig struct {
	Enabled bool          `yaml:"enabled"`
	Cron    string        `yaml:"cron"`
	Scopes  []ScopeConfig `yaml:"scopes"`
}

// ScopeConfig is one {bot, language} pair summarized in the digest.
type ScopeConfig struct {
	BotID    string `yaml:"bot_id"`
	Language string `yaml:"language"`
}

// Load reads a YAML config file from path and returns a validated Config.
// A .env file next to the config, if present, is loaded into the
// environment first so ${VAR} references can resolve against it.
func Load(path string) (*Config, error) {
	envFile := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load %s: %w", envFile, err)
	}
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
	cfg.expandEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// expandEnv resolves ${VAR} references in fields that commonly hold secrets
// or deployment-specific values.
func (c *Config) expandEnv() {
	for _, p := range []*string{
		&c.Database.Host,
		&c.Database.Name,
		&c.Database.User,
		&c.Database.Password,
		&c.Database.Path,
		&c.Notify.ChannelID,
		&c.Notify.Slack.BotToken,
		&c.Notify.Discord.BotToken,
	} {
		*p = os.ExpandEnv(*p)
	}
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = DriverMySQL
	}
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Port == 0 {
		switch c.Database.Driver {
		case DriverMySQL:
			c.Database.Port = 3306
		case DriverPostgres:
			c.Database.Port = 5432
		}
	}
	if c.Database.Driver == DriverSQLite && c.Database.Path == "" {
		c.Database.Path = "misunderstood.db"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Notify.QueueSize == 0 {
		c.Notify.QueueSize = 100
	}
	if c.Notify.Digest.Cron == "" {
		c.Notify.Digest.Cron = "0 9 * * *"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string

	switch c.Database.Driver {
	case DriverMySQL, DriverPostgres:
		if c.Database.Name == "" {
			errs = append(errs, "database.name is required")
		}
	case DriverSQLite:
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not one of mysql, postgres, sqlite", c.Database.Driver))
	}
	if c.Database.Port < 0 || c.Database.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port %d is out of range", c.Database.Port))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q is not one of console, json", c.Log.Format))
	}

	n := c.Notify
	switch n.Platform {
	case "":
	case PlatformSlack:
		if n.Slack.BotToken == "" {
			errs = append(errs, "notify.slack.bot_token is required")
		}
	case PlatformDiscord:
		if n.Discord.BotToken == "" {
			errs = append(errs, "notify.discord.bot_token is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("notify.platform %q is not one of slack, discord", n.Platform))
	}
	if n.Platform != "" && n.ChannelID == "" {
		errs = append(errs, "notify.channel_id is required")
	}
	if n.QueueSize < 0 {
		errs = append(errs, "notify.queue_size must not be negative")
	}
	if n.Digest.Enabled {
		if n.Platform == "" {
			errs = append(errs, "notify.digest requires notify.platform")
		}
		if _, err := cron.ParseStandard(n.Digest.Cron); err != nil {
			errs = append(errs, fmt.Sprintf("notify.digest.cron %q: %v", n.Digest.Cron, err))
		}
		if len(n.Digest.Scopes) == 0 {
			errs = append(errs, "notify.digest.scopes needs at least one scope")
		}
		for i, s := range n.Digest.Scopes {
			if s.BotID == "" {
				errs = append(errs, fmt.Sprintf("notify.digest.scopes[%d].bot_id is required", i))
			}
			if s.Language == "" {
				errs = append(errs, fmt.Sprintf("notify.digest.scopes[%d].language is required", i))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
