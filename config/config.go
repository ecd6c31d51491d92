// Package config loads agentcrew configuration from built-in defaults, an
// optional YAML file and AGENTCREW_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hupe1980/agentcrew/logging"
)

// EnvPrefix prefixes every environment override, e.g.
// AGENTCREW_ENGINE_TIMEOUT=1m.
const EnvPrefix = "AGENTCREW"

// Config holds all configuration for a crew.
type Config struct {
	// Simulated replaces every live capability with its deterministic
	// counterpart.
	Simulated     bool          `mapstructure:"simulated" yaml:"simulated"`
	Model         ModelConfig   `mapstructure:"model" yaml:"model"`
	Engine        EngineConfig  `mapstructure:"engine" yaml:"engine"`
	Planner       PlannerConfig `mapstructure:"planner" yaml:"planner"`
	Store         StoreConfig   `mapstructure:"store" yaml:"store"`
	Tools         ToolsConfig   `mapstructure:"tools" yaml:"tools"`
	Log           LogConfig     `mapstructure:"log" yaml:"log"`
	DomainExperts []string      `mapstructure:"domain_experts" yaml:"domain_experts"`
}

// ModelConfig selects and tunes the live language model.
type ModelConfig struct {
	// Provider is openai or anthropic.
	Provider    string  `mapstructure:"provider" yaml:"provider"`
	Name        string  `mapstructure:"name" yaml:"name"`
	APIKey      string  `mapstructure:"api_key" yaml:"api_key"`
	BaseURL     string  `mapstructure:"base_url" yaml:"base_url"`
	Temperature float64 `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int64   `mapstructure:"max_tokens" yaml:"max_tokens"`
	// MaxCalls bounds model calls per run; 0 is unlimited.
	MaxCalls int `mapstructure:"max_calls" yaml:"max_calls"`
}

// EngineConfig mirrors the orchestration policies of the engine.
type EngineConfig struct {
	MaxIterations         int           `mapstructure:"max_iterations" yaml:"max_iterations"`
	Timeout               time.Duration `mapstructure:"timeout" yaml:"timeout"`
	StaleAfter            time.Duration `mapstructure:"stale_after" yaml:"stale_after"`
	ForceComplete         bool          `mapstructure:"force_complete" yaml:"force_complete"`
	PollInterval          time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	FallbackToCoordinator bool          `mapstructure:"fallback_to_coordinator" yaml:"fallback_to_coordinator"`
	HeartbeatInterval     time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	// Workers runs one goroutine per agent instead of ticking.
	Workers bool `mapstructure:"workers" yaml:"workers"`
}

// PlannerConfig tunes the plan executor.
type PlannerConfig struct {
	MaxTasks int `mapstructure:"max_tasks" yaml:"max_tasks"`
}

// StoreConfig selects the plan store.
type StoreConfig struct {
	// Driver is memory or sqlite.
	Driver string `mapstructure:"driver" yaml:"driver"`
	// Path is the sqlite database file.
	Path string `mapstructure:"path" yaml:"path"`
}

// ToolsConfig configures the live tool set.
type ToolsConfig struct {
	SearchEndpoint string        `mapstructure:"search_endpoint" yaml:"search_endpoint"`
	MaxFetchBytes  int64         `mapstructure:"max_fetch_bytes" yaml:"max_fetch_bytes"`
	Interpreter    string        `mapstructure:"interpreter" yaml:"interpreter"`
	CodeTimeout    time.Duration `mapstructure:"code_timeout" yaml:"code_timeout"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// LogLevel returns the parsed level, Info when it does not parse.
func (c LogConfig) LogLevel() logging.LogLevel {
	l, _ := logging.ParseLogLevel(c.Level)
	return l
}

// Load reads configuration. Precedence from highest to lowest:
//  1. AGENTCREW_* environment variables (and OPENAI_API_KEY /
//     ANTHROPIC_API_KEY for the model key)
//  2. the YAML file at path, when path is not empty
//  3. built-in defaults
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config from %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Model.APIKey = os.ExpandEnv(cfg.Model.APIKey)
	if cfg.Model.APIKey == "" {
		cfg.Model.APIKey = providerKey(cfg.Model.Provider)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in defaults without reading files or the
// environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	// Defaults always decode.
	_ = v.Unmarshal(cfg)
	return cfg
}

// Validate reports configuration values no component can work with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Model.Provider {
	case "openai", "anthropic":
	default:
		errs = append(errs, fmt.Errorf("model.provider: unknown provider %q", c.Model.Provider))
	}
	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path: required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver))
	}
	if _, err := logging.ParseLogLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Engine.Timeout <= 0 {
		errs = append(errs, errors.New("engine.timeout: must be positive"))
	}
	if c.Engine.PollInterval <= 0 {
		errs = append(errs, errors.New("engine.poll_interval: must be positive"))
	}
	return errors.Join(errs...)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// setDefaults configures default values. Every key needs a default so that
// AutomaticEnv can see it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("simulated", false)
	v.SetDefault("domain_experts", []string{})

	v.SetDefault("model.provider", "openai")
	v.SetDefault("model.name", "")
	v.SetDefault("model.api_key", "")
	v.SetDefault("model.base_url", "")
	v.SetDefault("model.temperature", 0.2)
	v.SetDefault("model.max_tokens", 2048)
	v.SetDefault("model.max_calls", 0)

	v.SetDefault("engine.max_iterations", 0)
	v.SetDefault("engine.timeout", "30s")
	v.SetDefault("engine.stale_after", "10s")
	v.SetDefault("engine.force_complete", true)
	v.SetDefault("engine.poll_interval", "10ms")
	v.SetDefault("engine.fallback_to_coordinator", true)
	v.SetDefault("engine.heartbeat_interval", "15s")
	v.SetDefault("engine.workers", false)

	v.SetDefault("planner.max_tasks", 10)

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.path", "")

	v.SetDefault("tools.search_endpoint", "")
	v.SetDefault("tools.max_fetch_bytes", 1<<20)
	v.SetDefault("tools.interpreter", "python3")
	v.SetDefault("tools.code_timeout", "60s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

func providerKey(provider string) string {
	switch provider {
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	default:
		return ""
	}
}
