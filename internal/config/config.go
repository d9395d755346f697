// Package config resolves server and client settings from flags, PARLEY_*
// environment variables and an optional parley.{toml,yaml,json} file, in
// that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	EnvPrefix  = "PARLEY"
	configName = "parley"
)

type Config struct {
	Provider Provider `mapstructure:"provider"`
	Agent    Agent    `mapstructure:"agent"`
	Session  Session  `mapstructure:"session"`
	Tools    Tools    `mapstructure:"tools"`
	Server   Server   `mapstructure:"server"`
	Store    Store    `mapstructure:"store"`
	Log      Log      `mapstructure:"log"`
}

// Provider holds the default credentials of new sessions. Name forces an
// adapter ("mock", "openai-compatible", "vendor-oauth", "generic"); empty
// detects it from the model.
type Provider struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	Name    string        `mapstructure:"name"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type Agent struct {
	ProfilePath string `mapstructure:"profile_path"`
	Active      string `mapstructure:"active"`
}

type Session struct {
	DefaultOwner   string        `mapstructure:"default_owner"`
	IdleInterval   time.Duration `mapstructure:"idle_interval"`
	IdleThreshold  time.Duration `mapstructure:"idle_threshold"`
	CompressRetain int           `mapstructure:"compress_retain"`
	MessageWindow  int           `mapstructure:"message_window"`
}

type Tools struct {
	Approval string `mapstructure:"approval"`
}

type Server struct {
	Network        string        `mapstructure:"network"`
	Address        string        `mapstructure:"address"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
}

// Store.Path selects the SQLite history database. Empty keeps history in
// memory.
type Store struct {
	Path string `mapstructure:"path"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultSocket is the server address used when none is configured.
func DefaultSocket() string {
	return filepath.Join(os.TempDir(), "parley.sock")
}

func defaults() map[string]any {
	return map[string]any{
		"provider.base_url":       "",
		"provider.api_key":        "",
		"provider.model":          "",
		"provider.name":           "",
		"provider.timeout":        2 * time.Minute,
		"agent.profile_path":      "",
		"agent.active":            "",
		"session.default_owner":   "local",
		"session.idle_interval":   time.Hour,
		"session.idle_threshold":  time.Hour,
		"session.compress_retain": 10,
		"session.message_window":  200,
		"tools.approval":          "auto",
		"server.network":          "unix",
		"server.address":          DefaultSocket(),
		"server.command_timeout":  3 * time.Second,
		"store.path":              "",
		"log.level":               "info",
		"log.format":              "text",
	}
}

// flagKeys maps command-line flags onto config keys.
var flagKeys = map[string]string{
	"base-url":         "provider.base_url",
	"api-key":          "provider.api_key",
	"model":            "provider.model",
	"provider":         "provider.name",
	"provider-timeout": "provider.timeout",
	"agents":           "agent.profile_path",
	"agent":            "agent.active",
	"owner":            "session.default_owner",
	"idle-interval":    "session.idle_interval",
	"idle-threshold":   "session.idle_threshold",
	"compress-retain":  "session.compress_retain",
	"message-window":   "session.message_window",
	"approval":         "tools.approval",
	"network":          "server.network",
	"address":          "server.address",
	"command-timeout":  "server.command_timeout",
	"store":            "store.path",
	"log-level":        "log.level",
	"log-format":       "log.format",
}

// RegisterServerFlags adds every server option to fs.
func RegisterServerFlags(fs *pflag.FlagSet) {
	d := defaults()
	fs.String("config", "", "config file (default ./parley.{toml,yaml,json} or $XDG_CONFIG_HOME/parley)")
	fs.String("base-url", "", "default provider base URL")
	fs.String("api-key", "", "default provider API key")
	fs.String("model", "", "default provider model")
	fs.String("provider", "", "force provider adapter: mock|openai-compatible|vendor-oauth|generic")
	fs.Duration("provider-timeout", d["provider.timeout"].(time.Duration), "provider request timeout")
	fs.String("agents", "", "agent profile file (.toml, .yaml or .json)")
	fs.String("agent", "", "active agent profile id")
	fs.String("owner", d["session.default_owner"].(string), "owner of sessions created implicitly")
	fs.Duration("idle-interval", d["session.idle_interval"].(time.Duration), "idle sweep interval")
	fs.Duration("idle-threshold", d["session.idle_threshold"].(time.Duration), "inactivity before a session is evicted")
	fs.Int("compress-retain", d["session.compress_retain"].(int), "non-system turns kept by compress_session")
	fs.Int("message-window", d["session.message_window"].(int), "display entries kept per session")
	fs.String("approval", d["tools.approval"].(string), "tool approval mode: auto|explicit")
	RegisterClientFlags(fs)
	fs.Duration("command-timeout", d["server.command_timeout"].(time.Duration), "per-command timeout")
	fs.String("store", "", "SQLite history database path (empty keeps history in memory)")
	fs.String("log-level", d["log.level"].(string), "log level: debug|info|warn|error")
	fs.String("log-format", d["log.format"].(string), "log format: text|json")
}

// RegisterClientFlags adds the options a client needs to reach the server.
func RegisterClientFlags(fs *pflag.FlagSet) {
	d := defaults()
	fs.String("network", d["server.network"].(string), "server network: unix|tcp")
	fs.String("address", d["server.address"].(string), "server socket path or host:port")
}

// Load resolves the configuration. fs may be nil; only flags it defines are
// bound. A missing config file is not an error unless it was named
// explicitly.
func Load(fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	for key, value := range defaults() {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configFile := ""
	if fs != nil {
		if f := fs.Lookup("config"); f != nil {
			configFile = f.Value.String()
		}
		for name, key := range flagKeys {
			f := fs.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}
	if configFile == "" {
		configFile = os.Getenv(EnvPrefix + "_CONFIG")
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, configName))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Provider.Name {
	case "", "mock", "openai-compatible", "openai", "vendor-oauth", "gemini", "generic":
	default:
		return fmt.Errorf("invalid_config: provider.name %q", c.Provider.Name)
	}
	switch c.Tools.Approval {
	case "auto", "explicit":
	default:
		return fmt.Errorf("invalid_config: tools.approval must be auto or explicit, got %q", c.Tools.Approval)
	}
	switch c.Server.Network {
	case "unix", "tcp":
	default:
		return fmt.Errorf("invalid_config: server.network must be unix or tcp, got %q", c.Server.Network)
	}
	if strings.TrimSpace(c.Server.Address) == "" {
		return fmt.Errorf("invalid_config: server.address is required")
	}
	if c.Server.CommandTimeout <= 0 {
		return fmt.Errorf("invalid_config: server.command_timeout must be > 0")
	}
	if c.Provider.Timeout < 0 {
		return fmt.Errorf("invalid_config: provider.timeout must be >= 0")
	}
	if c.Session.IdleInterval <= 0 || c.Session.IdleThreshold <= 0 {
		return fmt.Errorf("invalid_config: session idle durations must be > 0")
	}
	if c.Session.CompressRetain <= 0 {
		return fmt.Errorf("invalid_config: session.compress_retain must be > 0")
	}
	if c.Session.MessageWindow <= 0 {
		return fmt.Errorf("invalid_config: session.message_window must be > 0")
	}
	return nil
}
