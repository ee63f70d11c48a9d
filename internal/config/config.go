// Package config loads and validates status publisher configuration via Viper.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Status   StatusConfig   `mapstructure:"status"`
	Training TrainingConfig `mapstructure:"training"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Watch    WatchConfig    `mapstructure:"watch"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Sinks    SinksConfig    `mapstructure:"sinks"`
}

// StatusConfig controls the status file publisher.
type StatusConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Filename       string `mapstructure:"filename"`
	ExportDir      string `mapstructure:"export_dir"`
	Cadence        uint64 `mapstructure:"cadence"`
	SinkTimeoutMs  int    `mapstructure:"sink_timeout_ms"`
	FinalTimeoutMs int    `mapstructure:"final_timeout_ms"`
	LogSnapshots   bool   `mapstructure:"log_snapshots"`
}

// TrainingConfig shapes the synthetic training loop.
type TrainingConfig struct {
	TotalIterations uint64 `mapstructure:"total_iterations"`
	StepDelayMs     int    `mapstructure:"step_delay_ms"`
	EvalEvery       uint64 `mapstructure:"eval_every"`
	EvalDelayMs     int    `mapstructure:"eval_delay_ms"`
	ExportEvery     uint64 `mapstructure:"export_every"`
	ExportDelayMs   int    `mapstructure:"export_delay_ms"`
	FailAt          uint64 `mapstructure:"fail_at"`
	InitialSplats   uint64 `mapstructure:"initial_splats"`
	MaxSplats       uint64 `mapstructure:"max_splats"`
	Seed            int64  `mapstructure:"seed"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// MetricsConfig controls the optional Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// WatchConfig controls the status file watcher.
type WatchConfig struct {
	PollIntervalMs int `mapstructure:"poll_interval_ms"`
}

// TracingConfig controls OpenTelemetry span export for status publishes.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	ProjectID   string  `mapstructure:"project_id"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// SinksConfig configures optional mirrors of the status document. A mirror is
// enabled by setting its destination (bucket, dsn, or topic).
type SinksConfig struct {
	GCS      GCSSinkConfig      `mapstructure:"gcs"`
	Postgres PostgresSinkConfig `mapstructure:"postgres"`
	PubSub   PubSubSinkConfig   `mapstructure:"pubsub"`
}

// GCSSinkConfig mirrors the status document into a Cloud Storage object.
type GCSSinkConfig struct {
	Bucket string `mapstructure:"bucket"`
	Object string `mapstructure:"object"`
}

// PostgresSinkConfig upserts the latest status row per run.
type PostgresSinkConfig struct {
	DSN               string `mapstructure:"dsn"`
	Table             string `mapstructure:"table"`
	MaxConns          int32  `mapstructure:"max_conns"`
	MaxConnLifetimeMs int    `mapstructure:"max_conn_lifetime_ms"`
}

// PubSubSinkConfig announces phase changes on a topic.
type PubSubSinkConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Enabled reports whether the GCS mirror is configured.
func (c GCSSinkConfig) Enabled() bool { return strings.TrimSpace(c.Bucket) != "" }

// Enabled reports whether the Postgres mirror is configured.
func (c PostgresSinkConfig) Enabled() bool { return strings.TrimSpace(c.DSN) != "" }

// Enabled reports whether phase notifications are configured.
func (c PubSubSinkConfig) Enabled() bool { return strings.TrimSpace(c.Topic) != "" }

// flagKeys maps CLI flag names onto configuration keys.
var flagKeys = map[string]string{
	"save-status":      "status.enabled",
	"status-filename":  "status.filename",
	"export-path":      "status.export_dir",
	"status-cadence":   "status.cadence",
	"total-iterations": "training.total_iterations",
	"step-delay-ms":    "training.step_delay_ms",
	"eval-every":       "training.eval_every",
	"export-every":     "training.export_every",
	"fail-at":          "training.fail_at",
	"seed":             "training.seed",
	"dev":              "logging.development",
	"metrics-addr":     "metrics.addr",
	"poll-interval-ms": "watch.poll_interval_ms",
}

// Load builds a Config from defaults, an optional file, the environment, and
// any recognized flags in flags (highest precedence).
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TRAINSTATUS")
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
		if flag := flags.Lookup("metrics-addr"); flag != nil && flag.Changed {
			v.Set("metrics.enabled", true)
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
	v.SetDefault("status.enabled", false)
	v.SetDefault("status.filename", "training_status.json")
	v.SetDefault("status.export_dir", "./output")
	v.SetDefault("status.cadence", 10)
	v.SetDefault("status.sink_timeout_ms", 10000)
	v.SetDefault("status.final_timeout_ms", 5000)
	v.SetDefault("status.log_snapshots", false)
	v.SetDefault("training.total_iterations", 30000)
	v.SetDefault("training.step_delay_ms", 1)
	v.SetDefault("training.eval_every", 1000)
	v.SetDefault("training.eval_delay_ms", 50)
	v.SetDefault("training.export_every", 5000)
	v.SetDefault("training.export_delay_ms", 100)
	v.SetDefault("training.fail_at", 0)
	v.SetDefault("training.initial_splats", 10000)
	v.SetDefault("training.max_splats", 3000000)
	v.SetDefault("training.seed", 1)
	v.SetDefault("logging.development", true)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9464")
	v.SetDefault("watch.poll_interval_ms", 1000)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "training-status")
	v.SetDefault("tracing.project_id", "")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("sinks.gcs.bucket", "")
	v.SetDefault("sinks.gcs.object", "training_status.json")
	v.SetDefault("sinks.postgres.dsn", "")
	v.SetDefault("sinks.postgres.table", "training_status")
	v.SetDefault("sinks.postgres.max_conns", 2)
	v.SetDefault("sinks.postgres.max_conn_lifetime_ms", 300000)
	v.SetDefault("sinks.pubsub.project_id", "")
	v.SetDefault("sinks.pubsub.topic", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Status.Enabled {
		if strings.TrimSpace(c.Status.Filename) == "" {
			return fmt.Errorf("status.filename must be set when status is enabled")
		}
		if filepath.Base(c.Status.Filename) != c.Status.Filename {
			return fmt.Errorf("status.filename must be a bare file name")
		}
	}
	if c.Status.Cadence == 0 {
		return fmt.Errorf("status.cadence must be > 0")
	}
	if c.Status.SinkTimeoutMs <= 0 {
		return fmt.Errorf("status.sink_timeout_ms must be > 0")
	}
	if c.Status.FinalTimeoutMs <= 0 {
		return fmt.Errorf("status.final_timeout_ms must be > 0")
	}
	if c.Training.TotalIterations == 0 {
		return fmt.Errorf("training.total_iterations must be > 0")
	}
	if c.Training.StepDelayMs < 0 || c.Training.EvalDelayMs < 0 || c.Training.ExportDelayMs < 0 {
		return fmt.Errorf("training delays must be >= 0")
	}
	if c.Metrics.Enabled && strings.TrimSpace(c.Metrics.Addr) == "" {
		return fmt.Errorf("metrics.addr must be set when metrics are enabled")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0,1]")
	}
	if c.Sinks.GCS.Enabled() && strings.TrimSpace(c.Sinks.GCS.Object) == "" {
		return fmt.Errorf("sinks.gcs.object must be set when a bucket is configured")
	}
	if c.Sinks.Postgres.Enabled() && c.Sinks.Postgres.MaxConns <= 0 {
		return fmt.Errorf("sinks.postgres.max_conns must be > 0")
	}
	if c.Sinks.PubSub.Enabled() && strings.TrimSpace(c.Sinks.PubSub.ProjectID) == "" {
		return fmt.Errorf("sinks.pubsub.project_id must be set when a topic is configured")
	}
	if c.Watch.PollIntervalMs <= 0 {
		return fmt.Errorf("watch.poll_interval_ms must be > 0")
	}
	return nil
}

// StatusPath returns the full path of the status file.
func (c Config) StatusPath() string {
	return filepath.Join(c.Status.ExportDir, c.Status.Filename)
}

// SinkTimeout converts the per-sink timeout into a duration.
func (c Config) SinkTimeout() time.Duration {
	return time.Duration(c.Status.SinkTimeoutMs) * time.Millisecond
}

// FinalTimeout converts the terminal publish timeout into a duration.
func (c Config) FinalTimeout() time.Duration {
	return time.Duration(c.Status.FinalTimeoutMs) * time.Millisecond
}

// PostgresMaxConnLifetime converts the pool connection lifetime into a duration.
func (c Config) PostgresMaxConnLifetime() time.Duration {
	return time.Duration(c.Sinks.Postgres.MaxConnLifetimeMs) * time.Millisecond
}

// PollInterval converts the watcher poll interval into a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Watch.PollIntervalMs) * time.Millisecond
}
