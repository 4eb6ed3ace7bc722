// ABOUTME: Configuration loading and parsing for triage-gateway
// ABOUTME: Supports YAML files with environment variable expansion, defaults and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete triage-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	WhatsApp  WhatsAppConfig  `yaml:"whatsapp"`
	Matrix    MatrixConfig    `yaml:"matrix"`
	Dedupe    DedupeConfig    `yaml:"dedupe"`
	Bot       BotConfig       `yaml:"bot"`
	Sectors   []SectorSeed    `yaml:"sectors"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	HTTPS     bool   `yaml:"https"`  // Serve HTTPS with Tailscale-provisioned certs
	Funnel    bool   `yaml:"funnel"` // Expose publicly so the provider can reach the webhook
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// WhatsAppConfig holds the Evolution API transport configuration
type WhatsAppConfig struct {
	Enabled       bool   `yaml:"enabled"`
	BaseURL       string `yaml:"base_url"`
	Token         string `yaml:"token"`
	Instance      string `yaml:"instance"`
	CountryCode   string `yaml:"country_code"`
	WebhookSecret string `yaml:"webhook_secret"`

	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// MatrixConfig holds Matrix transport configuration
type MatrixConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Homeserver      string   `yaml:"homeserver"`
	UserID          string   `yaml:"user_id"`
	AccessToken     string   `yaml:"access_token"`
	AllowedRooms    []string `yaml:"allowed_rooms"`
	TypingIndicator bool     `yaml:"typing_indicator"`
}

// DedupeConfig sizes the inbound provider message id cache
type DedupeConfig struct {
	MaxSize int `yaml:"max_size"`

	TTL    time.Duration `yaml:"-"`
	TTLRaw string        `yaml:"ttl"`
}

// SectorSeed is a sector created by the seed command
type SectorSeed struct {
	Name     string `yaml:"name"`
	Slug     string `yaml:"slug"`
	MenuCode string `yaml:"menu_code"`
	Active   *bool  `yaml:"active"`
}

// IsActive defaults to true when active is omitted.
func (s SectorSeed) IsActive() bool {
	return s.Active == nil || *s.Active
}

// Default returns a Config with every default applied. Load decodes the file on
// top of it, so keys missing from the file keep these values.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{HTTPAddr: "0.0.0.0:8080"},
		Database: DatabaseConfig{Path: "triage.db"},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
		WhatsApp: WhatsAppConfig{CountryCode: "55", TimeoutRaw: "15s"},
		Dedupe:   DedupeConfig{MaxSize: 10000, TTLRaw: "10m"},
		Bot:      defaultBotConfig(),
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	if cfg.Bot.RoutingFile != "" {
		routingPath := cfg.Bot.RoutingFile
		if !filepath.IsAbs(routingPath) {
			routingPath = filepath.Join(filepath.Dir(path), routingPath)
		}
		rules, err := LoadRoutingFile(routingPath)
		if err != nil {
			return nil, fmt.Errorf("loading routing file: %w", err)
		}
		cfg.Bot.ApplyRouting(rules)
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("validating config: %w", err)
		}
	}

	return cfg, nil
}

// Parse decodes YAML configuration bytes, applying defaults, env expansion and validation.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.WhatsApp.Enabled {
		if c.WhatsApp.BaseURL == "" {
			return fmt.Errorf("whatsapp.base_url is required when whatsapp is enabled")
		}
		if c.WhatsApp.Token == "" {
			return fmt.Errorf("whatsapp.token is required when whatsapp is enabled")
		}
		if c.WhatsApp.Instance == "" {
			return fmt.Errorf("whatsapp.instance is required when whatsapp is enabled")
		}
	}

	if c.Matrix.Enabled {
		if c.Matrix.Homeserver == "" {
			return fmt.Errorf("matrix.homeserver is required when matrix is enabled")
		}
		if c.Matrix.UserID == "" || c.Matrix.AccessToken == "" {
			return fmt.Errorf("matrix.user_id and matrix.access_token are required when matrix is enabled")
		}
	}

	if c.Dedupe.MaxSize <= 0 {
		return fmt.Errorf("dedupe.max_size must be positive")
	}

	seen := make(map[string]bool)
	for i, s := range c.Sectors {
		if s.Name == "" || s.Slug == "" || s.MenuCode == "" {
			return fmt.Errorf("sectors[%d]: name, slug and menu_code are required", i)
		}
		if seen[s.Slug] {
			return fmt.Errorf("sectors[%d]: duplicate slug %q", i, s.Slug)
		}
		seen[s.Slug] = true
	}

	if err := c.Bot.Validate(); err != nil {
		return fmt.Errorf("bot: %w", err)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.WhatsApp.TimeoutRaw != "" {
		cfg.WhatsApp.Timeout, err = time.ParseDuration(cfg.WhatsApp.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing whatsapp.timeout %q: %w", cfg.WhatsApp.TimeoutRaw, err)
		}
	}

	if cfg.Dedupe.TTLRaw != "" {
		cfg.Dedupe.TTL, err = time.ParseDuration(cfg.Dedupe.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing dedupe.ttl %q: %w", cfg.Dedupe.TTLRaw, err)
		}
	}

	if cfg.Bot.AutoCloseIntervalRaw != "" {
		cfg.Bot.AutoCloseInterval, err = time.ParseDuration(cfg.Bot.AutoCloseIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing bot.auto_close_interval %q: %w", cfg.Bot.AutoCloseIntervalRaw, err)
		}
	}

	if cfg.Bot.AIRouting.TimeoutRaw != "" {
		cfg.Bot.AIRouting.Timeout, err = time.ParseDuration(cfg.Bot.AIRouting.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing bot.ai_routing.timeout %q: %w", cfg.Bot.AIRouting.TimeoutRaw, err)
		}
	}

	return nil
}
