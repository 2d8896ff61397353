package config

import (
	"strings"

	"github.com/wippyai/incinerator/engine"
	"github.com/wippyai/incinerator/sweep"
)

// Default returns the configuration used when nothing is configured.
func Default() *Config {
	cfg := &Config{
		Native: NativeConfig{Enabled: true},
	}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults sets default values for any unspecified configuration fields.
// Zero values are replaced with defaults; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyEngineDefaults(&cfg.Engine)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = LogLevel(strings.ToUpper(string(cfg.Level)))

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

func applyEngineDefaults(cfg *EngineConfig) {
	if cfg.Workers == 0 {
		cfg.Workers = sweep.DefaultWorkers
	}
	if cfg.TriggerDelay == 0 {
		cfg.TriggerDelay = engine.DefaultTriggerDelay
	}
}
