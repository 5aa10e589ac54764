// Package config handles SEL configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sel-agent/sel/internal/fetch"
	"github.com/sel-agent/sel/internal/search"
	"github.com/sel-agent/sel/internal/speech"
	"github.com/sel-agent/sel/internal/tools"
	"github.com/sel-agent/sel/internal/usage"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/sel/config.yaml, /etc/sel/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "sel", "config.yaml"))
	}

	paths = append(paths, "/etc/sel/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
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

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all SEL configuration.
type Config struct {
	Listen       ListenConfig       `yaml:"listen"`
	LLM          LLMConfig          `yaml:"llm"`
	Memory       MemoryConfig       `yaml:"memory"`
	Conversation ConversationConfig `yaml:"conversation"`
	Tools        ToolsConfig        `yaml:"tools"`
	Speech       speech.Config      `yaml:"speech"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	DataDir      string             `yaml:"data_dir"`
	PersonaFile  string             `yaml:"persona_file"`
	LogLevel     string             `yaml:"log_level"`
	LogFormat    string             `yaml:"log_format"` // text or json
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// LLMConfig selects the OpenAI-compatible endpoint and the two models:
// main for replies, util for the tool classifier.
type LLMConfig struct {
	BaseURL         string        `yaml:"base_url"`
	APIKey          string        `yaml:"api_key"`
	MainModel       string        `yaml:"main_model"`
	UtilModel       string        `yaml:"util_model"`
	MainTemperature float64       `yaml:"main_temperature"`
	UtilTemperature float64       `yaml:"util_temperature"`
	TopP            float64       `yaml:"top_p"`
	Timeout         time.Duration `yaml:"timeout"`
	Referer         string        `yaml:"referer"`
	Title           string        `yaml:"title"`
	// Pricing feeds the usage ledger's cost column.
	Pricing usage.Pricing `yaml:"pricing"`
}

// Memory backends.
const (
	MemoryHIM    = "him"
	MemorySQLite = "sqlite"
	MemoryNone   = "none"
)

// MemoryConfig selects the long-term memory backend.
type MemoryConfig struct {
	Backend     string `yaml:"backend"` // him, sqlite or none
	HIMURL      string `yaml:"him_url"`
	RecallLimit int    `yaml:"recall_limit"`
	SQLitePath  string `yaml:"sqlite_path"` // default <data_dir>/memory.db
}

// ConversationConfig holds the orchestrator options.
type ConversationConfig struct {
	AgentName        string        `yaml:"agent_name"`
	SelfID           string        `yaml:"self_id"`
	ApprovedSenderID string        `yaml:"approved_sender_id"` // only sender routed through the classifier
	Whitelist        []string      `yaml:"whitelist"`
	HistoryLimit     int           `yaml:"history_limit"`
	DecayRatePerHour float64       `yaml:"decay_rate_per_hour"`
	MaxReplyTokens   int           `yaml:"max_reply_tokens"`
	PresenceLimit    int           `yaml:"presence_limit"`
	Timezone         string        `yaml:"timezone"`
	IdleTTL          time.Duration `yaml:"idle_ttl"` // negative keeps conversations forever
}

// Location resolves Timezone.
func (c ConversationConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}

// ToolsConfig configures the agent executor.
type ToolsConfig struct {
	tools.ScriptConfig `yaml:",inline"`
	ShellExec          tools.ShellConfig `yaml:"shell_exec"`
	Browser            BrowserConfig     `yaml:"browser"`
	Cache              tools.CacheConfig `yaml:"cache"`
	// Watch rescans agents_dir when it changes.
	Watch         bool          `yaml:"watch"`
	WatchDebounce time.Duration `yaml:"watch_debounce"`
}

// BrowserConfig configures the browser tool.
type BrowserConfig struct {
	Enabled bool          `yaml:"enabled"`
	Fetch   fetch.Config  `yaml:"fetch"`
	Search  search.Config `yaml:"search"`
}

// MQTTConfig configures the Home Assistant telemetry publisher.
type MQTTConfig struct {
	Broker             string `yaml:"broker"` // mqtt://host:1883 or mqtts://
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	DeviceName         string `yaml:"device_name"`
	DiscoveryPrefix    string `yaml:"discovery_prefix"`
	PublishIntervalSec int    `yaml:"publish_interval"`
}

// Configured reports whether the publisher should run.
func (c MQTTConfig) Configured() bool {
	return c.Broker != "" && c.DeviceName != ""
}

// Interval is the state publish period, 60s when unset.
func (c MQTTConfig) Interval() time.Duration {
	if c.PublishIntervalSec <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.PublishIntervalSec) * time.Second
}

// Load reads configuration from a YAML file, expanding ${VAR}
// references and filling defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}

	l := &c.LLM
	if l.BaseURL == "" {
		l.BaseURL = "https://openrouter.ai/api/v1"
	}
	if l.MainModel == "" {
		l.MainModel = "anthropic/claude-3.7-sonnet"
	}
	if l.UtilModel == "" {
		l.UtilModel = "anthropic/claude-haiku-4.5"
	}
	if l.MainTemperature == 0 {
		l.MainTemperature = 0.8
	}
	if l.UtilTemperature == 0 {
		l.UtilTemperature = 0.3
	}
	if l.TopP == 0 {
		l.TopP = 0.9
	}
	if l.Timeout == 0 {
		l.Timeout = 2 * time.Minute
	}
	if l.Referer == "" {
		l.Referer = "http://localhost"
	}
	if l.Title == "" {
		l.Title = "SEL"
	}

	m := &c.Memory
	if m.Backend == "" {
		m.Backend = MemoryHIM
	}
	if m.HIMURL == "" {
		m.HIMURL = "http://localhost:8000"
	}
	if m.RecallLimit == 0 {
		m.RecallLimit = 10
	}
	if m.SQLitePath == "" {
		m.SQLitePath = filepath.Join(c.DataDir, "memory.db")
	}

	conv := &c.Conversation
	if conv.AgentName == "" {
		conv.AgentName = "SEL"
	}
	if conv.HistoryLimit == 0 {
		conv.HistoryLimit = 20
	}
	if conv.MaxReplyTokens == 0 {
		conv.MaxReplyTokens = 1000
	}
	if conv.IdleTTL == 0 {
		conv.IdleTTL = 24 * time.Hour
	}

	t := &c.Tools
	if t.Dir == "" {
		t.Dir = "./agents"
	}
	if len(t.Interpreters) == 0 {
		t.Interpreters = tools.DefaultInterpreters()
	}
	if t.ShellExec.Deny == nil {
		t.ShellExec.Deny = tools.DefaultShellConfig().Deny
	}
	if t.Cache.Dir == "" && t.Cache.Enabled {
		t.Cache.Dir = filepath.Join(c.DataDir, "toolcache")
	}

	if c.MQTT.DiscoveryPrefix == "" {
		c.MQTT.DiscoveryPrefix = "homeassistant"
	}
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("listen.port %d out of range", c.Listen.Port))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format %q (valid: text, json)", c.LogFormat))
	}
	if c.LLM.APIKey == "" && strings.Contains(c.LLM.BaseURL, "openrouter.ai") {
		errs = append(errs, errors.New("llm.api_key is required for OpenRouter"))
	}
	switch c.Memory.Backend {
	case MemoryHIM, MemorySQLite, MemoryNone:
	default:
		errs = append(errs, fmt.Errorf("memory.backend %q (valid: him, sqlite, none)", c.Memory.Backend))
	}
	if _, err := c.Conversation.Location(); err != nil {
		errs = append(errs, fmt.Errorf("conversation.timezone: %w", err))
	}
	if c.Conversation.DecayRatePerHour < 0 {
		errs = append(errs, errors.New("conversation.decay_rate_per_hour must not be negative"))
	}
	for ext := range c.Tools.Interpreters {
		if !strings.HasPrefix(ext, ".") {
			errs = append(errs, fmt.Errorf("tools.interpreters: extension %q must start with a dot", ext))
		}
	}
	if c.MQTT.Broker != "" && c.MQTT.DeviceName == "" {
		errs = append(errs, errors.New("mqtt.device_name is required when mqtt.broker is set"))
	}
	return errors.Join(errs...)
}

// ResolvePersona returns the persona file's contents, or "" when no
// file is configured.
func (c *Config) ResolvePersona() (string, error) {
	if c.PersonaFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.PersonaFile)
	if err != nil {
		return "", fmt.Errorf("read persona file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
