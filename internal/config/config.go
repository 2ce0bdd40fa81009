// ABOUTME: Configuration loading and parsing for chatgate
// ABOUTME: Supports YAML or TOML files with env var expansion, duration parsing and env overrides

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config represents the complete chatgate configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Web       WebConfig       `yaml:"web" toml:"web"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Bus       BusConfig       `yaml:"bus" toml:"bus"`
	Provider  ProviderConfig  `yaml:"provider" toml:"provider"`
	Agent     AgentConfig     `yaml:"agent" toml:"agent"`
	Skills    SkillsConfig    `yaml:"skills" toml:"skills"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds the listener address for the web channel and health endpoints
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
}

// WebConfig holds the realtime web channel configuration
type WebConfig struct {
	Enabled       bool     `yaml:"enabled" toml:"enabled"`
	AllowFrom     []string `yaml:"allow_from" toml:"allow_from"` // empty allows every client id
	MaxFrameBytes int64    `yaml:"max_frame_bytes" toml:"max_frame_bytes"`
	HistoryLimit  int      `yaml:"history_limit" toml:"history_limit"`

	WriteTimeout    time.Duration `yaml:"-" toml:"-"`
	WriteTimeoutRaw string        `yaml:"write_timeout" toml:"write_timeout"`
}

// DatabaseConfig holds session store configuration
type DatabaseConfig struct {
	Driver    string `yaml:"driver" toml:"driver"` // sqlite, sqlite3, pgx
	Path      string `yaml:"path" toml:"path"`     // file path or DSN
	CacheSize int    `yaml:"cache_size" toml:"cache_size"`

	CacheTTL    time.Duration `yaml:"-" toml:"-"`
	CacheTTLRaw string        `yaml:"cache_ttl" toml:"cache_ttl"`
}

// BusConfig selects the message bus between channels and the agent
type BusConfig struct {
	Driver        string `yaml:"driver" toml:"driver"` // memory, nats
	Buffer        int    `yaml:"buffer" toml:"buffer"`
	NATSURL       string `yaml:"nats_url" toml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix" toml:"subject_prefix"`
}

// ProviderConfig holds the LLM backend settings
type ProviderConfig struct {
	Model       string  `yaml:"model" toml:"model"`
	APIKey      string  `yaml:"api_key" toml:"api_key"`
	APIBase     string  `yaml:"api_base" toml:"api_base"`
	APIVersion  string  `yaml:"api_version" toml:"api_version"`
	MaxTokens   int     `yaml:"max_tokens" toml:"max_tokens"`
	Temperature float64 `yaml:"temperature" toml:"temperature"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// AgentConfig holds the single-turn agent settings
type AgentConfig struct {
	HistoryWindow int    `yaml:"history_window" toml:"history_window"`
	SystemPrompt  string `yaml:"system_prompt" toml:"system_prompt"`
}

// SkillsConfig points at the directory listed by /api/skills
type SkillsConfig struct {
	Dir string `yaml:"dir" toml:"dir"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// EnvOverrides are read from CHATGATE_* environment variables after the file is parsed.
type EnvOverrides struct {
	HTTPAddr  string `envconfig:"HTTP_ADDR"`
	DBPath    string `envconfig:"DB_PATH"`
	LogLevel  string `envconfig:"LOG_LEVEL"`
	BusDriver string `envconfig:"BUS_DRIVER"`
	NATSURL   string `envconfig:"NATS_URL"`
}

// Default returns a Config populated with the built-in defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{HTTPAddr: "127.0.0.1:18790"},
		Web: WebConfig{
			Enabled:         true,
			MaxFrameBytes:   2 * 1024 * 1024,
			HistoryLimit:    200,
			WriteTimeout:    10 * time.Second,
			WriteTimeoutRaw: "10s",
		},
		Database: DatabaseConfig{
			Driver:      "sqlite",
			Path:        "~/.chatgate/sessions.db",
			CacheSize:   1024,
			CacheTTL:    10 * time.Minute,
			CacheTTLRaw: "10m",
		},
		Bus: BusConfig{
			Driver:        "memory",
			Buffer:        256,
			NATSURL:       "nats://127.0.0.1:4222",
			SubjectPrefix: "chatgate",
		},
		Provider: ProviderConfig{
			Model:       "anthropic/claude-opus-4-5",
			MaxTokens:   8192,
			Temperature: 0.7,
			Timeout:     60 * time.Second,
			TimeoutRaw:  "60s",
		},
		Agent:   AgentConfig{HistoryWindow: 50},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded before decoding.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	cfg.Database.Path = expandHome(cfg.Database.Path)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overlays CHATGATE_* environment variables onto the config.
func (c *Config) ApplyEnv() error {
	var env EnvOverrides
	if err := envconfig.Process("chatgate", &env); err != nil {
		return err
	}
	if env.HTTPAddr != "" {
		c.Server.HTTPAddr = env.HTTPAddr
	}
	if env.DBPath != "" {
		c.Database.Path = env.DBPath
	}
	if env.LogLevel != "" {
		c.Logging.Level = env.LogLevel
	}
	if env.BusDriver != "" {
		c.Bus.Driver = env.BusDriver
	}
	if env.NATSURL != "" {
		c.Bus.NATSURL = env.NATSURL
	}
	return nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
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

	switch c.Database.Driver {
	case "sqlite", "sqlite3", "pgx":
	default:
		return fmt.Errorf("database.driver %q is not supported (sqlite, sqlite3, pgx)", c.Database.Driver)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Bus.Driver {
	case "memory":
	case "nats":
		if c.Bus.NATSURL == "" {
			return fmt.Errorf("bus.nats_url is required when bus.driver is nats")
		}
	default:
		return fmt.Errorf("bus.driver %q is not supported (memory, nats)", c.Bus.Driver)
	}

	if c.Provider.Model == "" {
		return fmt.Errorf("provider.model is required")
	}

	if c.Web.HistoryLimit <= 0 {
		return fmt.Errorf("web.history_limit must be positive")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Web.WriteTimeoutRaw != "" {
		cfg.Web.WriteTimeout, err = time.ParseDuration(cfg.Web.WriteTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing write_timeout %q: %w", cfg.Web.WriteTimeoutRaw, err)
		}
	}

	if cfg.Database.CacheTTLRaw != "" {
		cfg.Database.CacheTTL, err = time.ParseDuration(cfg.Database.CacheTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing cache_ttl %q: %w", cfg.Database.CacheTTLRaw, err)
		}
	}

	if cfg.Provider.TimeoutRaw != "" {
		cfg.Provider.Timeout, err = time.ParseDuration(cfg.Provider.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing timeout %q: %w", cfg.Provider.TimeoutRaw, err)
		}
	}

	return nil
}
