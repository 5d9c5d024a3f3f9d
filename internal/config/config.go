package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Global        GlobalConfig         `mapstructure:"global" yaml:"global"`
	Logs          map[string]LogConfig `mapstructure:"logs" yaml:"logs"`
	Lambda        LambdaConfig         `mapstructure:"lambda" yaml:"lambda"`
	Logging       LoggingConfig        `mapstructure:"logging" yaml:"logging"`
	Observability ObservabilityConfig  `mapstructure:"observability" yaml:"observability"`

	// path is where the config was loaded from; Save writes back here.
	path string
}

type GlobalConfig struct {
	Account        AccountConfig        `mapstructure:"account" yaml:"account"`
	Infrastructure InfrastructureConfig `mapstructure:"infrastructure" yaml:"infrastructure"`
}

type AccountConfig struct {
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
	Region string `mapstructure:"region" yaml:"region"`
}

type InfrastructureConfig struct {
	Firehose FirehoseConfig `mapstructure:"firehose" yaml:"firehose"`
}

type FirehoseConfig struct {
	Enabled            bool     `mapstructure:"enabled" yaml:"enabled"`
	S3BucketSuffix     string   `mapstructure:"s3_bucket_suffix" yaml:"s3_bucket_suffix"`
	EnabledLogs        []string `mapstructure:"enabled_logs" yaml:"enabled_logs"`
	CatalogName        string   `mapstructure:"catalog_name" yaml:"catalog_name,omitempty"`
	CatalogTablePrefix string   `mapstructure:"catalog_table_prefix" yaml:"catalog_table_prefix,omitempty"`
}

// LogConfig describes one log source: its schema (field name to type tag, or
// a nested mapping for struct fields) and optional ingestion settings.
type LogConfig struct {
	Schema        map[string]interface{} `mapstructure:"schema" yaml:"schema"`
	Configuration LogOptions             `mapstructure:"configuration" yaml:"configuration,omitempty"`
}

type LogOptions struct {
	EnvelopeKeys map[string]interface{} `mapstructure:"envelope_keys" yaml:"envelope_keys,omitempty"`
}

type LambdaConfig struct {
	AthenaPartitionRefresh AthenaPartitionRefreshConfig `mapstructure:"athena_partition_refresh_config" yaml:"athena_partition_refresh_config"`
}

// AthenaPartitionRefreshConfig holds the query service settings shared with
// the partition refresh function. Buckets maps registered data buckets to a
// table type tag.
type AthenaPartitionRefreshConfig struct {
	DatabaseName  string            `mapstructure:"database_name" yaml:"database_name,omitempty"`
	ResultsBucket string            `mapstructure:"results_bucket" yaml:"results_bucket,omitempty"`
	Buckets       map[string]string `mapstructure:"buckets" yaml:"buckets"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	OutputPath string `mapstructure:"output_path" yaml:"output_path"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
	LocalTime  bool   `mapstructure:"local_time" yaml:"local_time"`
}

type ObservabilityConfig struct {
	ErrorReporting ErrorReportingConfig `mapstructure:"error_reporting" yaml:"error_reporting"`
	LogExporting   LogExportingConfig   `mapstructure:"log_exporting" yaml:"log_exporting"`
}

type ErrorReportingConfig struct {
	Enabled  bool         `mapstructure:"enabled" yaml:"enabled"`
	Provider string       `mapstructure:"provider" yaml:"provider"` // sentry, noop
	Sentry   SentryConfig `mapstructure:"sentry" yaml:"sentry"`
}

type SentryConfig struct {
	DSN          string        `mapstructure:"dsn" yaml:"dsn"`
	Environment  string        `mapstructure:"environment" yaml:"environment"`
	Release      string        `mapstructure:"release" yaml:"release"`
	SampleRate   float64       `mapstructure:"sample_rate" yaml:"sample_rate"`
	Debug        bool          `mapstructure:"debug" yaml:"debug"`
	FlushTimeout time.Duration `mapstructure:"flush_timeout" yaml:"flush_timeout"`
}

type LogExportingConfig struct {
	Enabled  bool           `mapstructure:"enabled" yaml:"enabled"`
	Provider string         `mapstructure:"provider" yaml:"provider"` // newrelic, noop
	NewRelic NewRelicConfig `mapstructure:"newrelic" yaml:"newrelic"`
}

type NewRelicConfig struct {
	LicenseKey    string        `mapstructure:"license_key" yaml:"license_key"`
	AppName       string        `mapstructure:"app_name" yaml:"app_name"`
	LogForwarding bool          `mapstructure:"log_forwarding" yaml:"log_forwarding"`
	MinLogLevel   string        `mapstructure:"min_log_level" yaml:"min_log_level"`
	FlushTimeout  time.Duration `mapstructure:"flush_timeout" yaml:"flush_timeout"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigType("yaml")

	setDefaults(v)

	// Read config file as raw bytes
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables
	expandedData, err := expandEnvWithDefaults(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to expand environment variables: %w", err)
	}

	// Parse the expanded configuration
	if err := v.ReadConfig(bytes.NewReader([]byte(expandedData))); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// viper lowercases map keys on unmarshal. Schema field names describe
	// case-sensitive data fields, so the logs section is decoded again
	// straight from the YAML, which keeps key case intact.
	var logs struct {
		Logs map[string]LogConfig `yaml:"logs"`
	}
	if err := yaml.Unmarshal([]byte(expandedData), &logs); err != nil {
		return nil, fmt.Errorf("failed to parse logs section: %w", err)
	}
	if logs.Logs != nil {
		cfg.Logs = logs.Logs
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	cfg.path = configPath

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("global.infrastructure.firehose.s3_bucket_suffix", "alertlake.data")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output_path", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 7)
	v.SetDefault("logging.compress", true)
	v.SetDefault("logging.local_time", true)

	v.SetDefault("observability.error_reporting.enabled", false)
	v.SetDefault("observability.error_reporting.provider", "sentry")
	v.SetDefault("observability.error_reporting.sentry.sample_rate", 1.0)
	v.SetDefault("observability.error_reporting.sentry.flush_timeout", "5s")

	v.SetDefault("observability.log_exporting.enabled", false)
	v.SetDefault("observability.log_exporting.provider", "newrelic")
	v.SetDefault("observability.log_exporting.newrelic.log_forwarding", true)
	v.SetDefault("observability.log_exporting.newrelic.min_log_level", "info")
	v.SetDefault("observability.log_exporting.newrelic.flush_timeout", "5s")
}

func validate(cfg *Config) error {
	if cfg.Global.Account.Prefix == "" {
		return fmt.Errorf("global.account.prefix is required")
	}
	if cfg.Global.Account.Region == "" {
		return fmt.Errorf("global.account.region is required")
	}

	for name, log := range cfg.Logs {
		if len(log.Schema) == 0 {
			return fmt.Errorf("logs.%s.schema must not be empty", name)
		}
	}

	if err := validateRange(cfg.Logging.MaxSize, 1, 1000, "logging.max_size"); err != nil {
		return err
	}
	if err := validateRange(cfg.Logging.MaxBackups, 0, 100, "logging.max_backups"); err != nil {
		return err
	}
	if err := validateRange(cfg.Logging.MaxAge, 0, 365, "logging.max_age"); err != nil {
		return err
	}

	return nil
}

// DatabaseName returns the configured query service database, falling back to
// the account-prefixed default.
func (c *Config) DatabaseName() string {
	if c.Lambda.AthenaPartitionRefresh.DatabaseName != "" {
		return c.Lambda.AthenaPartitionRefresh.DatabaseName
	}
	return fmt.Sprintf("%s_alertlake", c.Global.Account.Prefix)
}

// ResultsBucket returns the S3 location where query results are stored,
// falling back to the account-prefixed default.
func (c *Config) ResultsBucket() string {
	if c.Lambda.AthenaPartitionRefresh.ResultsBucket != "" {
		return c.Lambda.AthenaPartitionRefresh.ResultsBucket
	}
	return fmt.Sprintf("s3://%s.alertlake.athena-results", c.Global.Account.Prefix)
}

// CatalogName returns the data catalog database, falling back to the query
// service database name.
func (c *Config) CatalogName() string {
	if c.Global.Infrastructure.Firehose.CatalogName != "" {
		return c.Global.Infrastructure.Firehose.CatalogName
	}
	return c.DatabaseName()
}

// FirehoseBucket returns the ingestion data bucket name.
func (c *Config) FirehoseBucket() string {
	return fmt.Sprintf("%s.%s", c.Global.Account.Prefix, c.Global.Infrastructure.Firehose.S3BucketSuffix)
}

// WithPartitionBucket returns a derived snapshot with the bucket registered
// for partition refresh. The receiver is left untouched; the second return
// reports whether the snapshot actually differs.
func (c *Config) WithPartitionBucket(bucket string) (*Config, bool) {
	if _, ok := c.Lambda.AthenaPartitionRefresh.Buckets[bucket]; ok {
		return c, false
	}

	next := *c
	next.Lambda.AthenaPartitionRefresh.Buckets = make(map[string]string, len(c.Lambda.AthenaPartitionRefresh.Buckets)+1)
	for k, v := range c.Lambda.AthenaPartitionRefresh.Buckets {
		next.Lambda.AthenaPartitionRefresh.Buckets[k] = v
	}
	next.Lambda.AthenaPartitionRefresh.Buckets[bucket] = "data"

	return &next, true
}

// Save persists the configuration back to the file it was loaded from. The
// write goes through a temp file in the same directory followed by a rename,
// so a failure cannot leave a half-written config behind.
func (c *Config) Save() error {
	if c.path == "" {
		return fmt.Errorf("config has no backing file")
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(c.path)
	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write temp config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp config file: %w", err)
	}

	if err := os.Rename(tmp.Name(), c.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace config file: %w", err)
	}

	return nil
}

// validateRange checks if an integer is within a specified range
func validateRange(value int, min int, max int, name string) error {
	if value < min || value > max {
		return fmt.Errorf("%s must be between %d and %d, got %d", name, min, max, value)
	}
	return nil
}
