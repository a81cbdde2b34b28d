package types

import "time"

// Config is the root of introspect.yaml.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Stream    StreamConfig    `yaml:"stream"`
	Relay     RelayConfig     `yaml:"relay"`
	Guard     GuardConfig     `yaml:"guard"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Profile   ProfileConfig   `yaml:"profile"`
	Server    *ServerConfig   `yaml:"server,omitempty"`
	Alerts    []AlertConfig   `yaml:"alerts,omitempty"`
	Telemetry TelemetryConfig `yaml:"telemetry,omitempty"`
	Shutdown  ShutdownConfig  `yaml:"shutdown,omitempty"`
}

// StorageConfig selects and configures the durable store.
type StorageConfig struct {
	Driver string `yaml:"driver"` // "postgres" or "memory"
	DSN    string `yaml:"dsn,omitempty"`
}

// StreamConfig selects and configures the event stream backend.
type StreamConfig struct {
	Driver            string             `yaml:"driver"` // "redis", "sqs" or "memory"
	Name              string             `yaml:"name"`   // logical stream, e.g. "events"
	VisibilityTimeout string             `yaml:"visibilityTimeout,omitempty"` // default "30s"
	Redis             *RedisStreamConfig `yaml:"redis,omitempty"`
	SQS               *SQSStreamConfig   `yaml:"sqs,omitempty"`
}

// RedisStreamConfig holds Redis Streams connection settings.
type RedisStreamConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password,omitempty"`
	DB        int    `yaml:"db,omitempty"`
	KeyPrefix string `yaml:"keyPrefix,omitempty"`
	MaxLen    int64  `yaml:"maxLen,omitempty"` // approximate stream trim length
}

// SQSStreamConfig holds SQS FIFO settings. Each consumer group reads from
// its own queue; Publish fans out to every configured queue.
type SQSStreamConfig struct {
	Region      string            `yaml:"region"`
	GroupQueues map[string]string `yaml:"groupQueues"` // group name -> queue URL
}

// RelayConfig controls the outbox relay loop.
type RelayConfig struct {
	PollInterval string `yaml:"pollInterval,omitempty"` // default "1s"
	BatchSize    int    `yaml:"batchSize,omitempty"`    // default 100
	MaxAttempts  int    `yaml:"maxAttempts,omitempty"`  // default 8
	BaseBackoff  string `yaml:"baseBackoff,omitempty"`  // default "2s"
	MaxBackoff   string `yaml:"maxBackoff,omitempty"`   // default "5m"
}

// GuardConfig holds the resilience defaults applied to every dependency
// tier: circuit breaker thresholds and retry budget.
type GuardConfig struct {
	FailureThreshold  int    `yaml:"failureThreshold,omitempty"`  // default 5
	OpenTimeout       string `yaml:"openTimeout,omitempty"`       // default "60s"
	HalfOpenMaxTrials int    `yaml:"halfOpenMaxTrials,omitempty"` // default 3
	RetryMaxAttempts  int    `yaml:"retryMaxAttempts,omitempty"`  // default 3
	RetryBaseDelay    string `yaml:"retryBaseDelay,omitempty"`    // default "200ms"
	RetryMaxDelay     string `yaml:"retryMaxDelay,omitempty"`     // default "5s"
}

// TierConfig describes one AI dependency tier, ordered best-first by the
// caller. The chain itself is tier-order-agnostic.
type TierConfig struct {
	Label    string `yaml:"label"`
	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model,omitempty"`
	APIKey   string `yaml:"apiKey,omitempty"`
}

// AnalysisConfig controls the two-phase analysis coordinator.
type AnalysisConfig struct {
	Group          string       `yaml:"group,omitempty"`          // default "analysis-worker"
	Consumers      int          `yaml:"consumers,omitempty"`      // default 2
	InstantTimeout string       `yaml:"instantTimeout,omitempty"` // default "500ms"
	DeepTimeout    string       `yaml:"deepTimeout,omitempty"`    // default "60s"
	Tiers          []TierConfig `yaml:"tiers"`
}

// ProfileConfig controls the profile-storage consumer group.
type ProfileConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Group   string `yaml:"group,omitempty"` // default "profile-storage"
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr string `yaml:"addr,omitempty"` // default ":3000"
}

// AlertConfig configures one alert sink.
type AlertConfig struct {
	Type AlertType `yaml:"type"`
	URL  string    `yaml:"url,omitempty"`  // webhook
	Path string    `yaml:"path,omitempty"` // file
}

// TelemetryConfig configures OTLP trace export. Empty endpoint disables it.
type TelemetryConfig struct {
	ServiceName  string `yaml:"serviceName,omitempty"`
	OTLPEndpoint string `yaml:"otlpEndpoint,omitempty"`
}

// ShutdownConfig bounds the drain of in-flight background tasks.
type ShutdownConfig struct {
	DrainTimeout string `yaml:"drainTimeout,omitempty"` // default "30s"
}

// ParseDurationDefault parses s as a duration, returning def when s is
// empty or invalid.
func ParseDurationDefault(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
