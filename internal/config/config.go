// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. URLFETCH_PIPELINE_WORKERS.
const EnvPrefix = "URLFETCH"

// DefaultUserAgent identifies the fetcher to upstream servers.
const DefaultUserAgent = "urlfetch/1.0 (+https://github.com/JakeFAU/urlfetch)"

// Config captures all run configuration knobs loaded via Viper.
type Config struct {
	Input    string         `mapstructure:"input"`
	Output   string         `mapstructure:"output"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Mirrors  MirrorsConfig  `mapstructure:"mirrors"`
}

// PipelineConfig sizes the worker pool and its buffers.
type PipelineConfig struct {
	Workers    int `mapstructure:"workers"`
	QueueDepth int `mapstructure:"queue_depth"`
	SinkBuffer int `mapstructure:"sink_buffer"`
}

// HTTPConfig configures the shared fetch client.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
	MaxBodyBytes   int    `mapstructure:"max_body_bytes"`
}

// LoggingConfig toggles zap development features and an optional log file.
type LoggingConfig struct {
	Development bool          `mapstructure:"development"`
	File        LogFileConfig `mapstructure:"file"`
}

// LogFileConfig configures the rotating log file. An empty Path disables it.
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig controls the optional metrics listener. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// TracingConfig toggles the OpenTelemetry trace provider.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// MirrorsConfig lists optional per-record side outputs.
type MirrorsConfig struct {
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
}

// PubSubConfig holds the topic records are published to.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// Enabled reports whether the Pub/Sub mirror is configured.
func (c PubSubConfig) Enabled() bool {
	return c.ProjectID != "" && c.TopicID != ""
}

// PostgresConfig holds the table records are inserted into.
type PostgresConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// Enabled reports whether the Postgres mirror is configured.
func (c PostgresConfig) Enabled() bool {
	return c.DSN != ""
}

// MongoConfig holds the collection records are inserted into.
type MongoConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

// Enabled reports whether the MongoDB mirror is configured.
func (c MongoConfig) Enabled() bool {
	return c.URI != ""
}

// flagKeys maps CLI flag names onto configuration keys.
var flagKeys = map[string]string{
	"input":   "input",
	"output":  "output",
	"workers": "pipeline.workers",
	"timeout": "http.timeout_seconds",
}

// Load builds a Config from defaults, an optional file, the environment and
// any flags in flags that were set explicitly. Later sources win.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			flag := flags.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("input", "urls.txt")
	v.SetDefault("output", "results.jsonl")
	v.SetDefault("pipeline.workers", 5)
	v.SetDefault("pipeline.queue_depth", 64)
	v.SetDefault("pipeline.sink_buffer", 64)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.user_agent", DefaultUserAgent)
	v.SetDefault("http.max_body_bytes", 10*1024*1024)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.file.path", "")
	v.SetDefault("logging.file.max_size_mb", 100)
	v.SetDefault("logging.file.max_backups", 3)
	v.SetDefault("logging.file.max_age_days", 28)
	v.SetDefault("logging.file.compress", false)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "urlfetch")
	v.SetDefault("mirrors.pubsub.project_id", "")
	v.SetDefault("mirrors.pubsub.topic_id", "")
	v.SetDefault("mirrors.postgres.dsn", "")
	v.SetDefault("mirrors.postgres.table", "fetch_results")
	v.SetDefault("mirrors.mongo.uri", "")
	v.SetDefault("mirrors.mongo.database", "urlfetch")
	v.SetDefault("mirrors.mongo.collection", "fetch_results")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Input) == "" {
		errs = append(errs, errors.New("input must be set"))
	}
	if strings.TrimSpace(c.Output) == "" {
		errs = append(errs, errors.New("output must be set"))
	}
	if c.Pipeline.Workers <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.workers must be > 0"))
	}
	if c.Pipeline.QueueDepth < 0 {
		errs = append(errs, fmt.Errorf("pipeline.queue_depth must be >= 0"))
	}
	if c.Pipeline.SinkBuffer <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.sink_buffer must be > 0"))
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("http.timeout_seconds must be > 0"))
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("http.max_body_bytes must be > 0"))
	}
	if c.Logging.File.Path != "" && c.Logging.File.MaxSizeMB <= 0 {
		errs = append(errs, fmt.Errorf("logging.file.max_size_mb must be > 0"))
	}
	ps := c.Mirrors.PubSub
	if (ps.ProjectID == "") != (ps.TopicID == "") {
		errs = append(errs, fmt.Errorf("mirrors.pubsub.project_id and mirrors.pubsub.topic_id must be set together"))
	}
	if c.Mirrors.Postgres.Enabled() && c.Mirrors.Postgres.Table == "" {
		errs = append(errs, fmt.Errorf("mirrors.postgres.table must be set when a dsn is configured"))
	}
	if m := c.Mirrors.Mongo; m.Enabled() && (m.Database == "" || m.Collection == "") {
		errs = append(errs, fmt.Errorf("mirrors.mongo.database and mirrors.mongo.collection must be set when a uri is configured"))
	}
	return errors.Join(errs...)
}

// RequestTimeout converts the HTTP timeout into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
