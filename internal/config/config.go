// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Databases() map[string]DatabaseConfig
	Adapt() AdaptConfig
	Optimizer() OptimizerConfig
	Scheduler() SchedulerConfig
	Partitioning() PartitioningConfig
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg       LoggerConfig              `mapstructure:"logger" yaml:"logger"`
	DatabasesCfg    map[string]DatabaseConfig `mapstructure:"databases" yaml:"databases"`
	AdaptCfg        AdaptConfig               `mapstructure:"adapt" yaml:"adapt"`
	OptimizerCfg    OptimizerConfig           `mapstructure:"optimizer" yaml:"optimizer"`
	SchedulerCfg    SchedulerConfig           `mapstructure:"scheduler" yaml:"scheduler"`
	PartitioningCfg PartitioningConfig        `mapstructure:"partitioning" yaml:"partitioning"`
}

var _ Interface = (*Config)(nil)

func (c *Config) Logger() LoggerConfig                 { return c.LoggerCfg }
func (c *Config) Databases() map[string]DatabaseConfig { return c.DatabasesCfg }
func (c *Config) Adapt() AdaptConfig                   { return c.AdaptCfg }
func (c *Config) Optimizer() OptimizerConfig           { return c.OptimizerCfg }
func (c *Config) Scheduler() SchedulerConfig           { return c.SchedulerCfg }
func (c *Config) Partitioning() PartitioningConfig     { return c.PartitioningCfg }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig describes the connection pool for one logical database.
type DatabaseConfig struct {
	URL               string        `mapstructure:"url" yaml:"url"`
	MaxConns          int32         `mapstructure:"max_conns" yaml:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns" yaml:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime" yaml:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time" yaml:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period" yaml:"health_check_period"`
}

// AdaptConfig configures the signal evaluation and hold behavior.
type AdaptConfig struct {
	// Indicators lists the indicator names evaluated per migration. More than
	// one name combines them into a composite indicator.
	Indicators       []string      `mapstructure:"indicators" yaml:"indicators"`
	IndicatorTimeout time.Duration `mapstructure:"indicator_timeout" yaml:"indicator_timeout"`
	HoldDuration     time.Duration `mapstructure:"hold_duration" yaml:"hold_duration"`
}

// OptimizerConfig tunes the batch size optimizer.
type OptimizerConfig struct {
	TargetEfficiencyMin float64 `mapstructure:"target_efficiency_min" yaml:"target_efficiency_min"`
	TargetEfficiencyMax float64 `mapstructure:"target_efficiency_max" yaml:"target_efficiency_max"`
	MinBatchSize        int     `mapstructure:"min_batch_size" yaml:"min_batch_size"`
	MaxBatchSize        int     `mapstructure:"max_batch_size" yaml:"max_batch_size"`
	MaxMultiplier       float64 `mapstructure:"max_multiplier" yaml:"max_multiplier"`
	NumberOfJobs        int     `mapstructure:"number_of_jobs" yaml:"number_of_jobs"`
	SmoothingAlpha      float64 `mapstructure:"smoothing_alpha" yaml:"smoothing_alpha"`
}

// SchedulerConfig configures the periodic loops of `pacer run`.
type SchedulerConfig struct {
	AdaptInterval     time.Duration `mapstructure:"adapt_interval" yaml:"adapt_interval"`
	PartitionInterval time.Duration `mapstructure:"partition_interval" yaml:"partition_interval"`
	Concurrency       int           `mapstructure:"concurrency" yaml:"concurrency"`
	// RateLimit bounds indicator evaluations per second across all migrations.
	RateLimit   float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	MetricsAddr string  `mapstructure:"metrics_addr" yaml:"metrics_addr"`
}

// PartitioningConfig configures partition management.
type PartitioningConfig struct {
	DynamicSchema   string        `mapstructure:"dynamic_schema" yaml:"dynamic_schema"`
	LockTimeout     time.Duration `mapstructure:"lock_timeout" yaml:"lock_timeout"`
	DetachRetention time.Duration `mapstructure:"detach_retention" yaml:"detach_retention"`
	Concurrency     int           `mapstructure:"concurrency" yaml:"concurrency"`
	CoreModels      []ModelConfig `mapstructure:"core_models" yaml:"core_models"`
	ExtensionModels []ModelConfig `mapstructure:"extension_models" yaml:"extension_models"`
}

// ModelConfig registers one partitioned table.
type ModelConfig struct {
	Database      string `mapstructure:"database" yaml:"database"`
	Schema        string `mapstructure:"schema" yaml:"schema"`
	Table         string `mapstructure:"table" yaml:"table"`
	PartitionKey  string `mapstructure:"partition_key" yaml:"partition_key"`
	Strategy      string `mapstructure:"strategy" yaml:"strategy"`
	RetainFor     int    `mapstructure:"retain_for" yaml:"retain_for"`
	Headroom      int    `mapstructure:"headroom" yaml:"headroom"`
	PartitionSize int64  `mapstructure:"partition_size" yaml:"partition_size"`
	Ahead         int    `mapstructure:"ahead" yaml:"ahead"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "pacer")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Databases --
	// Keys must be known to viper for PACER_DATABASES_<NAME>_URL to apply.
	v.SetDefault("databases.main.url", "postgres://localhost:5432/gitlabhq_development?sslmode=disable")
	v.SetDefault("databases.main.max_conns", 10)
	v.SetDefault("databases.main.min_conns", 1)
	v.SetDefault("databases.main.max_conn_lifetime", "1h")
	v.SetDefault("databases.main.max_conn_idle_time", "30m")
	v.SetDefault("databases.main.health_check_period", "1m")

	// -- Adapt --
	v.SetDefault("adapt.indicators", []string{"autovacuum"})
	v.SetDefault("adapt.indicator_timeout", "5s")
	v.SetDefault("adapt.hold_duration", "10m")

	// -- Optimizer --
	v.SetDefault("optimizer.target_efficiency_min", 0.90)
	v.SetDefault("optimizer.target_efficiency_max", 0.95)
	v.SetDefault("optimizer.min_batch_size", 1_000)
	v.SetDefault("optimizer.max_batch_size", 2_000_000)
	v.SetDefault("optimizer.max_multiplier", 1.2)
	v.SetDefault("optimizer.number_of_jobs", 20)
	v.SetDefault("optimizer.smoothing_alpha", 0.2)

	// -- Scheduler --
	v.SetDefault("scheduler.adapt_interval", "1m")
	v.SetDefault("scheduler.partition_interval", "6h")
	v.SetDefault("scheduler.concurrency", 4)
	v.SetDefault("scheduler.rate_limit", 10.0)
	v.SetDefault("scheduler.metrics_addr", ":9394")

	// -- Partitioning --
	v.SetDefault("partitioning.dynamic_schema", "gitlab_partitions_dynamic")
	v.SetDefault("partitioning.lock_timeout", "3s")
	v.SetDefault("partitioning.detach_retention", "168h")
	v.SetDefault("partitioning.concurrency", 4)
	v.SetDefault("partitioning.core_models", []map[string]any{
		{"database": "main", "schema": "public", "table": "audit_events", "partition_key": "created_at", "strategy": "monthly"},
		{"database": "main", "schema": "public", "table": "web_hook_logs", "partition_key": "created_at", "strategy": "monthly", "retain_for": 1},
		{"database": "main", "schema": "public", "table": "incident_management_pending_alert_escalations", "partition_key": "process_at", "strategy": "monthly"},
	})
	v.SetDefault("partitioning.extension_models", []map[string]any{})
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if len(c.DatabasesCfg) == 0 {
		return fmt.Errorf("at least one database must be configured")
	}
	for name, db := range c.DatabasesCfg {
		if db.URL == "" {
			return fmt.Errorf("databases.%s.url is a required configuration field", name)
		}
		if db.MinConns > db.MaxConns && db.MaxConns > 0 {
			return fmt.Errorf("databases.%s.min_conns must not exceed max_conns", name)
		}
	}
	if c.AdaptCfg.HoldDuration <= 0 {
		return fmt.Errorf("adapt.hold_duration must be a positive duration")
	}
	if err := c.OptimizerCfg.Validate(); err != nil {
		return fmt.Errorf("optimizer configuration invalid: %w", err)
	}
	if c.SchedulerCfg.Concurrency <= 0 {
		return fmt.Errorf("scheduler.concurrency must be a positive integer")
	}
	if c.PartitioningCfg.Concurrency <= 0 {
		return fmt.Errorf("partitioning.concurrency must be a positive integer")
	}
	for _, m := range append(append([]ModelConfig(nil), c.PartitioningCfg.CoreModels...), c.PartitioningCfg.ExtensionModels...) {
		if _, ok := c.DatabasesCfg[m.Database]; !ok {
			return fmt.Errorf("partitioned table %s.%s references unknown database %q", m.Schema, m.Table, m.Database)
		}
	}
	return nil
}

// Validate checks the optimizer bounds.
func (o *OptimizerConfig) Validate() error {
	if o.TargetEfficiencyMin <= 0 || o.TargetEfficiencyMax > 1.0 || o.TargetEfficiencyMin > o.TargetEfficiencyMax {
		return fmt.Errorf("target efficiency range must satisfy 0 < min <= max <= 1")
	}
	if o.MinBatchSize <= 0 || o.MinBatchSize > o.MaxBatchSize {
		return fmt.Errorf("min_batch_size must be positive and not exceed max_batch_size")
	}
	if o.MaxMultiplier < 1.0 {
		return fmt.Errorf("max_multiplier must be at least 1.0")
	}
	if o.NumberOfJobs <= 0 {
		return fmt.Errorf("number_of_jobs must be a positive integer")
	}
	if o.SmoothingAlpha <= 0 || o.SmoothingAlpha >= 1 {
		return fmt.Errorf("smoothing_alpha must be between 0 and 1")
	}
	return nil
}
