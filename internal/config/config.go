// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"icc.tech/daq-core/internal/log"
)

// GlobalConfig represents the top-level static configuration document.
// Maps to the root of the YAML file (see SPEC_FULL.md §5).
type GlobalConfig struct {
	Node        NodeConfig        `mapstructure:"node"`
	Application ApplicationConfig `mapstructure:"application"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Instruments map[string]InstrumentConfig `mapstructure:"instruments"`
	Processors  map[string][]ProcessorConfig `mapstructure:"processors"`
	Log         log.LoggerConfig  `mapstructure:"log"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Reconnect   ReconnectConfig   `mapstructure:"reconnect"`
}

// ─── Node Identity ───

// NodeConfig contains node identification settings.
type NodeConfig struct {
	ID string `mapstructure:"id"`
}

// ─── Application ───

// ApplicationConfig holds the daemon-wide channel capacities, the Data
// Distributor's tuning knobs, and component timeouts.
type ApplicationConfig struct {
	BroadcastChannelCapacity int                  `mapstructure:"broadcast_channel_capacity"`
	CommandChannelCapacity   int                  `mapstructure:"command_channel_capacity"`
	DataDistributor          DataDistributorConfig `mapstructure:"data_distributor"`
	Timeouts                 TimeoutsConfig        `mapstructure:"timeouts"`
}

// DataDistributorConfig mirrors distributor.Config.
type DataDistributorConfig struct {
	SubscriberCapacity     int     `mapstructure:"subscriber_capacity"`
	WarnDropRatePercent    float64 `mapstructure:"warn_drop_rate_percent"`
	ErrorSaturationPercent float64 `mapstructure:"error_saturation_percent"`
	MetricsWindowSecs      int     `mapstructure:"metrics_window_secs"`
}

// TimeoutsConfig bounds the Manager's blocking operations.
type TimeoutsConfig struct {
	InstrumentStop               time.Duration `mapstructure:"instrument_stop"`
	RecordingStop                time.Duration `mapstructure:"recording_stop"`
	DeviceStateFetch             time.Duration `mapstructure:"device_state_fetch"`
	DeviceStateFanoutConcurrency int           `mapstructure:"device_state_fanout_concurrency"`
}

// ─── Storage ───

// StorageConfig selects the default recording sink.
type StorageConfig struct {
	DefaultPath   string `mapstructure:"default_path"`
	DefaultFormat string `mapstructure:"default_format"` // csv | hdf5-like | arrow-like | kafka
}

// ─── Instruments & Processors ───

// InstrumentConfig is one entry under `instruments:`. Driver-specific
// fields live in Settings and are passed through to the driver factory
// unparsed — the Manager and driver constructors own their own
// validation, this layer only owns shape.
type InstrumentConfig struct {
	Type     string         `mapstructure:"type"`
	Settings map[string]any `mapstructure:",remain"`
}

// ProcessorConfig is one entry under `processors.<instrument_id>`.
type ProcessorConfig struct {
	Type   string         `mapstructure:"type"`
	Config map[string]any `mapstructure:"config"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
	Path string `mapstructure:"path"`
}

// ─── Reconnect ───

// ReconnectConfig mirrors reconnect.Config plus reconnect.HealthConfig,
// flattened into one document section.
type ReconnectConfig struct {
	InitialDelay           time.Duration `mapstructure:"initial_delay"`
	MaxDelay               time.Duration `mapstructure:"max_delay"`
	BackoffMultiplier      float64       `mapstructure:"backoff_multiplier"`
	MaxAttempts            int           `mapstructure:"max_attempts"`
	Jitter                 bool          `mapstructure:"jitter"`
	Enabled                bool          `mapstructure:"enabled"`
	HealthCheckInterval    time.Duration `mapstructure:"health_check_interval"`
	HealthFailureThreshold int           `mapstructure:"health_failure_threshold"`
}

// ─── Loading ───

// Load reads the configuration document at path, applies defaults for
// absent sections, and validates it. Unknown top-level keys are treated
// as errors by viper's strict unmarshal; unknown driver-specific
// instrument fields are not rejected here (InstrumentConfig.Settings
// absorbs them) — the driver factories read the keys they know and ignore
// the rest without logging.
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	v.SetEnvPrefix("DAQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var cfg GlobalConfig
	if err := v.UnmarshalExact(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.applyDefaultsAndValidate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("application.broadcast_channel_capacity", 1024)
	v.SetDefault("application.command_channel_capacity", 64)
	v.SetDefault("application.data_distributor.subscriber_capacity", 1024)
	v.SetDefault("application.data_distributor.warn_drop_rate_percent", 10)
	v.SetDefault("application.data_distributor.error_saturation_percent", 80)
	v.SetDefault("application.data_distributor.metrics_window_secs", 5)
	v.SetDefault("application.timeouts.instrument_stop", "5s")
	v.SetDefault("application.timeouts.recording_stop", "5s")
	v.SetDefault("application.timeouts.device_state_fetch", "3s")
	v.SetDefault("application.timeouts.device_state_fanout_concurrency", 8)

	v.SetDefault("storage.default_format", "csv")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pattern", "%time [%level] %field %msg")
	v.SetDefault("log.time", "2006-01-02T15:04:05.000Z07:00")

	v.SetDefault("metrics.addr", ":9091")
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("reconnect.initial_delay", "1s")
	v.SetDefault("reconnect.max_delay", "30s")
	v.SetDefault("reconnect.backoff_multiplier", 2.0)
	v.SetDefault("reconnect.max_attempts", 0)
	v.SetDefault("reconnect.jitter", true)
	v.SetDefault("reconnect.enabled", true)
	v.SetDefault("reconnect.health_check_interval", "30s")
	v.SetDefault("reconnect.health_failure_threshold", 2)
}

// applyDefaultsAndValidate fills node identity and rejects structurally
// invalid sections; driver-specific instrument settings are validated by
// the Manager at spawn time, not here.
func (cfg *GlobalConfig) applyDefaultsAndValidate() error {
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if cfg.Log.Level != "" && !validLevels[strings.ToLower(cfg.Log.Level)] {
		return fmt.Errorf("invalid log.level: %s", cfg.Log.Level)
	}

	validFormats := map[string]bool{"csv": true, "hdf5-like": true, "arrow-like": true, "kafka": true}
	if cfg.Storage.DefaultFormat != "" && !validFormats[cfg.Storage.DefaultFormat] {
		return fmt.Errorf("invalid storage.default_format: %s", cfg.Storage.DefaultFormat)
	}

	for id, inst := range cfg.Instruments {
		if inst.Type == "" {
			return fmt.Errorf("instruments.%s: type is required", id)
		}
	}

	return nil
}
