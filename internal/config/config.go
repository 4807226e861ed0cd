package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Oracle       Oracle        `yaml:"oracle"`
	Channels     Channels      `yaml:"channels"`
	IgnoredUsers []string      `yaml:"ignored_users"`
	Prompts      []string      `yaml:"prompts"`
	Backfill     Backfill      `yaml:"backfill"`
	Schedule     Schedule      `yaml:"schedule"`
	Router       Router        `yaml:"router"`
	Sources      []SourceEntry `yaml:"sources"`
	Telegram     Telegram      `yaml:"telegram"`
	Output       Output        `yaml:"output"`
	Server       Server        `yaml:"server"`
	Logging      Logging       `yaml:"logging"`
}

// Oracle configures the language model used for classification, summaries
// and routed questions.
type Oracle struct {
	Provider      string  `yaml:"provider"`
	Model         string  `yaml:"model"`
	APIKeyEnv     string  `yaml:"api_key_env"`
	OllamaURL     string  `yaml:"ollama_url"`
	OllamaModel   string  `yaml:"ollama_model"`
	OpenAIModel   string  `yaml:"openai_model"`
	OpenAIKeyEnv  string  `yaml:"openai_api_key_env"`
	Temperature   float64 `yaml:"temperature"`
	MaxTokens     int     `yaml:"max_tokens"`
	Timeout       string  `yaml:"timeout"`
	MaxConcurrent int     `yaml:"max_concurrent"`
}

type Channels struct {
	// CollectExcluded channels are never read for summaries, backfill or
	// live-chat routing.
	CollectExcluded []string `yaml:"collect_excluded"`
	// MessageIgnored channels are not classified as messages arrive.
	MessageIgnored []string `yaml:"message_ignored"`
	Summary        string   `yaml:"summary"`
	Focus          []string `yaml:"focus"`
	CountDefault   string   `yaml:"count_default"`
}

type Backfill struct {
	HistoryLimit int    `yaml:"history_limit"`
	BatchSize    int    `yaml:"batch_size"`
	Cooldown     string `yaml:"cooldown"`
	Marker       string `yaml:"marker"`
	OnStartup    bool   `yaml:"on_startup"`
}

type Schedule struct {
	At           string `yaml:"at"`
	HistoryLimit int    `yaml:"history_limit"`
}

type Router struct {
	MaxPromptChars   int `yaml:"max_prompt_chars"`
	LiveHistoryLimit int `yaml:"live_history_limit"`
}

// SourceEntry registers one knowledge source with the router.
type SourceEntry struct {
	Name         string   `yaml:"name"`
	Label        string   `yaml:"label"`
	Kind         string   `yaml:"kind"`
	Backend      string   `yaml:"backend"`
	Path         string   `yaml:"path"`
	URL          string   `yaml:"url"`
	Keywords     []string `yaml:"keywords"`
	EntityLookup bool     `yaml:"entity_lookup"`
	// FetchLinks fills thin feed items with the text of the linked page.
	FetchLinks bool `yaml:"fetch_links"`
}

type Telegram struct {
	Enabled     bool   `yaml:"enabled"`
	TokenEnv    string `yaml:"token_env"`
	SummaryChat int64  `yaml:"summary_chat"`
	Proxy       string `yaml:"proxy"`
	// MaxConcurrent bounds chat updates handled at the same time.
	MaxConcurrent int `yaml:"max_concurrent"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for ubot.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "ubot")
}

// DataDir returns the XDG data directory for ubot.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "ubot")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/ubot/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'ubot init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Oracle: Oracle{
			Provider:      "gemini",
			Model:         "gemini-1.5-pro-latest",
			APIKeyEnv:     "GEMINI_API_KEY",
			OllamaURL:     "http://localhost:11434",
			OllamaModel:   "qwen2.5:7b",
			OpenAIModel:   "gpt-4o-mini",
			OpenAIKeyEnv:  "OPENAI_API_KEY",
			Temperature:   0.5,
			MaxTokens:     2048,
			Timeout:       "90s",
			MaxConcurrent: 2,
		},
		Channels: Channels{
			Summary:      "summary",
			CountDefault: "prompts-and-polls",
		},
		Backfill: Backfill{
			HistoryLimit: 50,
			BatchSize:    150,
			Cooldown:     "10s",
			Marker:       "sqlite",
			OnStartup:    true,
		},
		Schedule: Schedule{At: "01:00", HistoryLimit: 100},
		Router:   Router{MaxPromptChars: 120000, LiveHistoryLimit: 100},
		Telegram: Telegram{TokenEnv: "TELEGRAM_BOT_TOKEN", MaxConcurrent: 8},
		Server:   Server{Port: 8000},
		Logging:  Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if _, err := c.OracleTimeout(); err != nil {
		return err
	}
	if _, err := c.BackfillCooldown(); err != nil {
		return err
	}
	switch c.Backfill.Marker {
	case "sqlite", "file":
	default:
		return fmt.Errorf("backfill.marker must be 'sqlite' or 'file', got %q", c.Backfill.Marker)
	}
	seen := make(map[string]bool)
	for _, s := range c.Sources {
		if s.Name == "" {
			return fmt.Errorf("sources: entry without a name")
		}
		if seen[s.Name] {
			return fmt.Errorf("sources: duplicate name %q", s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

// OracleTimeout returns the per-call timeout for the language model.
func (c *Config) OracleTimeout() (time.Duration, error) {
	return parseDuration("oracle.timeout", c.Oracle.Timeout)
}

// BackfillCooldown returns the pause between backfill batches.
func (c *Config) BackfillCooldown() (time.Duration, error) {
	return parseDuration("backfill.cooldown", c.Backfill.Cooldown)
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// IsDebug reports whether debug logging was requested.
func (c *Config) IsDebug() bool {
	return strings.EqualFold(c.Logging.Level, "DEBUG")
}

func parseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, value, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s %q: must not be negative", field, value)
	}
	return d, nil
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
