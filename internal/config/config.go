// Package config handles WFM Assistant configuration loading.
//
// Configuration comes from three layers, later layers winning: built-in
// defaults, a YAML file (with ${VAR} expansion), and a fixed set of
// environment variables. A .env file, if present, seeds the environment
// before anything else is read.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Provider names accepted in llm.provider.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
)

// DefaultEnvFiles are the dotenv files consulted by LoadEnvFiles.
var DefaultEnvFiles = []string{".env", filepath.Join("config", ".env")}

// DefaultSearchPaths returns the config file search order.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml", filepath.Join("config", "config.yaml")}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "wfmassist", "config.yaml"))
	}

	paths = append(paths, "/etc/wfmassist/config.yaml")
	return paths
}

// ErrNoConfigFile is returned by FindConfig when no search path exists.
var ErrNoConfigFile = errors.New("no config file found")

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise the first existing entry of DefaultSearchPaths is returned.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("%w (searched: %v)", ErrNoConfigFile, DefaultSearchPaths())
}

// LoadEnvFiles loads any of the given dotenv files that exist. Variables
// already present in the environment are left untouched.
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Config holds all WFM Assistant configuration.
type Config struct {
	Listen    ListenConfig  `yaml:"listen"`
	MCP       MCPConfig     `yaml:"mcp"`
	LLM       LLMConfig     `yaml:"llm"`
	WFM       WFMConfig     `yaml:"wfm"`
	History   HistoryConfig `yaml:"history"`
	Usage     UsageConfig   `yaml:"usage"`
	LogLevel  string        `yaml:"log_level"`
	LogFormat string        `yaml:"log_format"` // text or json
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// MCPConfig describes how to launch the MongoDB MCP server subprocess.
type MCPConfig struct {
	Command          string            `yaml:"command"`
	Args             []string          `yaml:"args"`
	ConnectionString string            `yaml:"connection_string"`
	ClientID         string            `yaml:"client_id"`
	ClientSecret     string            `yaml:"client_secret"`
	Env              map[string]string `yaml:"env"`
	InitTimeoutSec   int               `yaml:"init_timeout_sec"`
	CallTimeoutSec   int               `yaml:"call_timeout_sec"`
}

// InitTimeout returns the subprocess start and handshake deadline.
func (c MCPConfig) InitTimeout() time.Duration {
	return time.Duration(c.InitTimeoutSec) * time.Second
}

// CallTimeout returns the per-tool-call deadline.
func (c MCPConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSec) * time.Second
}

// LLMConfig selects and configures the language model provider.
type LLMConfig struct {
	Provider   string `yaml:"provider"` // anthropic, openai, gemini
	Model      string `yaml:"model"`
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	MaxTokens  int    `yaml:"max_tokens"`
	MaxTurns   int    `yaml:"max_turns"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// Timeout returns the per-call model deadline.
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// WFMConfig names the database the assistant works against.
type WFMConfig struct {
	Database string `yaml:"database"`
}

// HistoryConfig bounds in-memory conversation state.
type HistoryConfig struct {
	MaxMessages      int `yaml:"max_messages"`
	MaxConversations int `yaml:"max_conversations"`
}

// UsageConfig enables the token usage ledger. An empty DBPath disables it.
type UsageConfig struct {
	DBPath string `yaml:"db_path"`
}

// DefaultModel returns the model used when llm.model is unset.
func DefaultModel(provider string) string {
	switch provider {
	case ProviderOpenAI:
		return "gpt-4o"
	case ProviderGemini:
		return "gemini-2.5-flash"
	default:
		return "claude-3-5-sonnet-20241022"
	}
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8000},
		MCP: MCPConfig{
			Command:          "npx",
			Args:             []string{"-y", "mongodb-mcp-server"},
			ConnectionString: "mongodb://localhost:27017/wfm_database",
			InitTimeoutSec:   60,
			CallTimeoutSec:   60,
		},
		LLM: LLMConfig{
			Provider:   ProviderAnthropic,
			MaxTokens:  2000,
			MaxTurns:   10,
			TimeoutSec: 120,
		},
		WFM:       WFMConfig{Database: "wfm_database"},
		History:   HistoryConfig{MaxMessages: 20, MaxConversations: 1000},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads configuration from a YAML file on top of Default, then
// applies environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.ApplyEnv()
	cfg.fillDefaults()
	return cfg, nil
}

// ApplyEnv overlays the well-known environment variables. Empty values
// are ignored.
func (c *Config) ApplyEnv() {
	set := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	set(&c.MCP.ConnectionString, "MONGODB_CONNECTION_STRING")
	set(&c.MCP.ClientID, "ATLAS_CLIENT_ID")
	set(&c.MCP.ClientSecret, "ATLAS_CLIENT_SECRET")
	set(&c.LLM.Provider, "WFM_LLM_PROVIDER")

	if c.LLM.APIKey == "" {
		switch strings.ToLower(c.LLM.Provider) {
		case ProviderOpenAI:
			set(&c.LLM.APIKey, "OPENAI_API_KEY")
		case ProviderGemini:
			set(&c.LLM.APIKey, "GEMINI_API_KEY")
		default:
			set(&c.LLM.APIKey, "ANTHROPIC_API_KEY")
		}
	}
}

// fillDefaults restores defaults for fields that YAML explicitly zeroed.
func (c *Config) fillDefaults() {
	d := Default()
	c.LLM.Provider = strings.ToLower(c.LLM.Provider)
	if c.LLM.Provider == "" {
		c.LLM.Provider = d.LLM.Provider
	}
	if c.LLM.Model == "" {
		c.LLM.Model = DefaultModel(c.LLM.Provider)
	}
	if c.MCP.Command == "" {
		c.MCP.Command = d.MCP.Command
	}
	if c.WFM.Database == "" {
		c.WFM.Database = d.WFM.Database
	}
	if c.MCP.InitTimeoutSec <= 0 {
		c.MCP.InitTimeoutSec = d.MCP.InitTimeoutSec
	}
	if c.MCP.CallTimeoutSec <= 0 {
		c.MCP.CallTimeoutSec = d.MCP.CallTimeoutSec
	}
	if c.LLM.TimeoutSec <= 0 {
		c.LLM.TimeoutSec = d.LLM.TimeoutSec
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = d.LLM.MaxTokens
	}
}

// FromEnvironment builds a configuration from defaults and the
// environment alone, for runs without a config file.
func FromEnvironment() *Config {
	cfg := Default()
	cfg.ApplyEnv()
	cfg.fillDefaults()
	return cfg
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range", c.Listen.Port)
	}
	if c.MCP.ConnectionString == "" {
		return errors.New("mcp.connection_string is required (or set MONGODB_CONNECTION_STRING)")
	}
	if (c.MCP.ClientID == "") != (c.MCP.ClientSecret == "") {
		return errors.New("mcp.client_id and mcp.client_secret must be set together")
	}
	switch c.LLM.Provider {
	case ProviderAnthropic, ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("unknown llm.provider %q (valid: anthropic, openai, gemini)", c.LLM.Provider)
	}
	if c.LLM.MaxTurns < 1 {
		return fmt.Errorf("llm.max_turns must be at least 1, got %d", c.LLM.MaxTurns)
	}
	if c.History.MaxMessages < 2 {
		return fmt.Errorf("history.max_messages must be at least 2, got %d", c.History.MaxMessages)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log_format %q (valid: text, json)", c.LogFormat)
	}
	return nil
}
