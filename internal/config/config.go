// Package config loads coachflow settings from .env, an optional YAML file
// and COACHFLOW_ environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	providerfactory "github.com/PipeOpsHQ/coachflow/providers/factory"
	statefactory "github.com/PipeOpsHQ/coachflow/state/factory"
	"github.com/PipeOpsHQ/coachflow/toolproc"
)

const envPrefix = "COACHFLOW"

type Config struct {
	Log      LogConfig           `mapstructure:"log"`
	Provider ProviderConfig      `mapstructure:"provider"`
	State    statefactory.Config `mapstructure:"state"`
	Tools    ToolsConfig         `mapstructure:"tools"`
	Engine   EngineConfig        `mapstructure:"engine"`
	Actions  ActionsConfig       `mapstructure:"actions"`
	Profiles ProfilesConfig      `mapstructure:"profiles"`
	Prompts  PromptsConfig       `mapstructure:"prompts"`
	Tracing  TracingConfig       `mapstructure:"tracing"`
	Events   EventsConfig        `mapstructure:"events"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

type ProviderConfig struct {
	Name    string `mapstructure:"name"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

// Settings converts the provider section for the provider factory.
func (p ProviderConfig) Settings() providerfactory.Settings {
	return providerfactory.Settings{Provider: p.Name, APIKey: p.APIKey, Model: p.Model, BaseURL: p.BaseURL}
}

// ToolsConfig describes the tool process. An empty command disables tool
// access: context loading, actions and code execution are skipped.
type ToolsConfig struct {
	Command          string        `mapstructure:"command"`
	Args             []string      `mapstructure:"args"`
	Dir              string        `mapstructure:"dir"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	CallTimeout      time.Duration `mapstructure:"call_timeout"`
	CodeTimeout      time.Duration `mapstructure:"code_timeout"`
}

func (t ToolsConfig) Enabled() bool { return strings.TrimSpace(t.Command) != "" }

type EngineConfig struct {
	MaxSteps            int `mapstructure:"max_steps"`
	CompactionThreshold int `mapstructure:"compaction_threshold"`
}

// ActionsConfig selects where finished turns send their actions: "tools"
// applies them through the tool process, "outbox" publishes them to a Redis
// stream, "both" does both and "discard" leaves them on the returned state.
type ActionsConfig struct {
	Mode         string `mapstructure:"mode"`
	OutboxPrefix string `mapstructure:"outbox_prefix"`
	OutboxMaxLen int64  `mapstructure:"outbox_max_len"`
}

type ProfilesConfig struct {
	Cache bool          `mapstructure:"cache"`
	TTL   time.Duration `mapstructure:"ttl"`
}

type PromptsConfig struct {
	Dir string `mapstructure:"dir"`
}

type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// EventsConfig names the SQLite file observer events are recorded in. An
// empty path disables recording.
type EventsConfig struct {
	Path string `mapstructure:"path"`
}

// Load reads .env, then path (or coachflow.yaml in the working directory
// when path is empty), then the environment.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("coachflow")
		v.SetConfigType("yaml")
	}
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults seeds every key so AutomaticEnv can override it. The legacy
// AGENT_* and provider variables read by the factories become the defaults.
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	p := providerfactory.SettingsFromEnv()
	v.SetDefault("provider.name", p.Provider)
	v.SetDefault("provider.api_key", p.APIKey)
	v.SetDefault("provider.model", p.Model)
	v.SetDefault("provider.base_url", p.BaseURL)

	s := statefactory.ConfigFromEnv()
	v.SetDefault("state.backend", s.Backend)
	v.SetDefault("state.sqlite_path", s.SQLitePath)
	v.SetDefault("state.redis.addr", s.Redis.Addr)
	v.SetDefault("state.redis.password", s.Redis.Password)
	v.SetDefault("state.redis.db", s.Redis.DB)
	v.SetDefault("state.redis.prefix", s.Redis.Prefix)
	v.SetDefault("state.redis.ttl", s.Redis.TTL)

	v.SetDefault("tools.command", getenv("TOOL_PROCESS_COMMAND", ""))
	v.SetDefault("tools.args", []string{})
	v.SetDefault("tools.dir", "")
	v.SetDefault("tools.handshake_timeout", 10*time.Second)
	v.SetDefault("tools.call_timeout", 30*time.Second)
	v.SetDefault("tools.code_timeout", toolproc.DefaultExecTimeout)

	v.SetDefault("engine.max_steps", 0)
	v.SetDefault("engine.compaction_threshold", 6)

	v.SetDefault("actions.mode", "tools")
	v.SetDefault("actions.outbox_prefix", "coachflow:actions")
	v.SetDefault("actions.outbox_max_len", 10000)

	v.SetDefault("profiles.cache", true)
	v.SetDefault("profiles.ttl", 15*time.Minute)

	v.SetDefault("prompts.dir", "./.coachflow/prompts")
	v.SetDefault("tracing.enabled", ParseBoolString(getenv("OTEL_ENABLED", ""), false))
	v.SetDefault("events.path", "./.coachflow/events.db")
}

func (c *Config) Validate() error {
	switch strings.ToLower(c.Actions.Mode) {
	case "tools", "outbox", "both", "discard":
	default:
		return fmt.Errorf("unsupported actions mode %q (use tools, outbox, both or discard)", c.Actions.Mode)
	}
	if c.Tools.CodeTimeout > toolproc.MaxExecTimeout {
		return fmt.Errorf("tools.code_timeout %s exceeds the %s limit", c.Tools.CodeTimeout, toolproc.MaxExecTimeout)
	}
	if c.Engine.MaxSteps < 0 || c.Engine.CompactionThreshold < 0 {
		return fmt.Errorf("engine limits must not be negative")
	}
	return nil
}
