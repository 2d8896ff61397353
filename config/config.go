// Package config loads engine configuration from file and environment.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/incinerator/engine"
	"github.com/wippyai/incinerator/errors"
	"github.com/wippyai/incinerator/metrics"
	"github.com/wippyai/incinerator/native"
)

// EnvPrefix prefixes every environment override.
// Example: INCINERATOR_ENGINE_WORKERS=8
const EnvPrefix = "INCINERATOR"

// Config represents the incinerator configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (INCINERATOR_*)
//  2. Configuration file (YAML)
//  3. Default values
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Engine controls sweeping and background maintenance
	Engine EngineConfig `mapstructure:"engine" yaml:"engine"`

	// Native controls the wazero-backed reclamation backend
	Native NativeConfig `mapstructure:"native" yaml:"native"`

	// Metrics controls Prometheus metrics collection
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LogLevel is a zap level name, stored in uppercase.
type LogLevel string

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level LogLevel `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`

	// Development enables development logging. Invariant violations such
	// as a negative pending count panic instead of being logged.
	Development bool `mapstructure:"development" yaml:"development"`
}

// EngineConfig controls the reclamation engine.
type EngineConfig struct {
	// Workers bounds the number of loaders swept concurrently
	// Default: 4
	Workers int `mapstructure:"workers" validate:"gte=1,lte=256" yaml:"workers"`

	// TriggerDelay is the pause between a trigger and the background pass
	// Default: 300ms
	TriggerDelay time.Duration `mapstructure:"trigger_delay" validate:"gt=0" yaml:"trigger_delay"`
}

// NativeConfig controls the native backend.
type NativeConfig struct {
	// Enabled makes the runtime hook require a working native backend
	// Default: true
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// MemoryLimitPages caps guest memory per compiled module in 64KB pages
	// 0 means the wazero default
	MemoryLimitPages uint32 `mapstructure:"memory_limit_pages" validate:"lte=65536" yaml:"memory_limit_pages"`
}

// MetricsConfig controls metrics collection.
type MetricsConfig struct {
	// Enabled registers engine collectors on the default Prometheus registry
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// Load reads configuration from configPath and the environment.
// A missing file is not an error: defaults and environment apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if _, err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "unmarshal config")
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes cfg to path as YAML.
func Save(cfg *Config, path string) error {
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "write config")
	}
	return nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "marshal config")
	}
	return data, nil
}

// EngineConfig derives the engine configuration.
func (c *Config) EngineConfig(m *metrics.Metrics, log *zap.Logger) *engine.Config {
	return &engine.Config{
		Metrics:      m,
		Logger:       log,
		Workers:      c.Engine.Workers,
		TriggerDelay: c.Engine.TriggerDelay,
	}
}

// NativeConfig derives the native backend configuration.
func (c *Config) NativeConfig() *native.Config {
	return &native.Config{MemoryLimitPages: c.Native.MemoryLimitPages}
}

func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the INCINERATOR_ prefix and underscores
	// Example: INCINERATOR_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Registering every key lets AutomaticEnv override keys absent from the file.
	d := Default()
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)
	v.SetDefault("logging.development", d.Logging.Development)
	v.SetDefault("engine.workers", d.Engine.Workers)
	v.SetDefault("engine.trigger_delay", d.Engine.TriggerDelay.String())
	v.SetDefault("native.enabled", d.Native.Enabled)
	v.SetDefault("native.memory_limit_pages", d.Native.MemoryLimitPages)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("incinerator")
		v.SetConfigType("yaml")
	}
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		// Explicit config file that does not exist
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "read config file")
	}
	return true, nil
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		levelDecodeHook(),
	)
}

// levelDecodeHook accepts log levels in any case.
func levelDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf(LogLevel("")) {
			return data, nil
		}
		return LogLevel(strings.ToUpper(reflect.ValueOf(data).String())), nil
	}
}

// durationDecodeHook converts strings like "300ms" to time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, fmt.Errorf("invalid duration %q: %w", v, err)
			}
			return d, nil
		case int:
			// Raw integers are milliseconds
			return time.Duration(v) * time.Millisecond, nil
		case int64:
			return time.Duration(v) * time.Millisecond, nil
		case float64:
			// YAML often deserializes numbers as float64
			return time.Duration(v * float64(time.Millisecond)), nil
		default:
			return data, nil
		}
	}
}
