package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/ajitpratap0/quasar/pkg/errors"
	"github.com/ajitpratap0/quasar/pkg/graph"
)

// EnvPrefix prefixes the environment variables read by LoadRuntime
const EnvPrefix = "QUASAR"

// RuntimeConfig holds the process settings of a run. It is organized into
// sections like the graph definition, but is read from flags, QUASAR_*
// environment variables and an optional file instead.
type RuntimeConfig struct {
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing" yaml:"tracing"`
	Engine  EngineConfig  `mapstructure:"engine" yaml:"engine"`
}

// LogConfig configures the global logger
type LogConfig struct {
	// Level is debug, info, warn or error
	Level string `mapstructure:"level" yaml:"level"`
	// Format is json or console
	Format string `mapstructure:"format" yaml:"format"`
}

// MetricsConfig configures the prometheus endpoint
type MetricsConfig struct {
	// Address to serve /metrics on; empty disables the endpoint
	Address string `mapstructure:"address" yaml:"address"`
}

// TracingConfig configures span export
type TracingConfig struct {
	Enabled    bool    `mapstructure:"enabled" yaml:"enabled"`
	SampleRate float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
	Exporter   string  `mapstructure:"exporter" yaml:"exporter"`
}

// EngineConfig tunes graph execution
type EngineConfig struct {
	// EdgeCapacity is used for edges that declare none
	EdgeCapacity int `mapstructure:"edge_capacity" yaml:"edge_capacity"`
	// MemoryInterval enables process memory sampling when positive
	MemoryInterval time.Duration `mapstructure:"memory_interval" yaml:"memory_interval"`
}

// NewRuntimeConfig returns the defaults
func NewRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		Log:     LogConfig{Level: "info", Format: "json"},
		Tracing: TracingConfig{SampleRate: 1.0, Exporter: "stdout"},
		Engine:  EngineConfig{EdgeCapacity: graph.DefaultEdgeCapacity},
	}
}

// SetDefaults registers the defaults with v so that environment variables
// are picked up for every key.
func SetDefaults(v *viper.Viper) {
	d := NewRuntimeConfig()
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("metrics.address", d.Metrics.Address)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("engine.edge_capacity", d.Engine.EdgeCapacity)
	v.SetDefault("engine.memory_interval", d.Engine.MemoryInterval)
}

// LoadRuntime reads the runtime settings from v. Keys map to environment
// variables as QUASAR_LOG_LEVEL, QUASAR_ENGINE_EDGE_CAPACITY and so on. A
// non-empty file is merged in first.
func LoadRuntime(v *viper.Viper, file string) (*RuntimeConfig, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read runtime config").
				WithDetail("path", file)
		}
	}
	cfg := NewRuntimeConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid runtime config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and enumerations
func (c *RuntimeConfig) Validate() error {
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return errors.Newf(errors.ErrorTypeConfig, "unknown log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return errors.Newf(errors.ErrorTypeConfig, "log format must be json or console, not %q", c.Log.Format)
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return errors.New(errors.ErrorTypeConfig, "tracing sample rate must be within 0..1")
	}
	if c.Engine.EdgeCapacity <= 0 {
		return errors.New(errors.ErrorTypeConfig, "edge capacity must be positive")
	}
	if c.Engine.MemoryInterval < 0 {
		return errors.New(errors.ErrorTypeConfig, "memory interval cannot be negative")
	}
	return nil
}
