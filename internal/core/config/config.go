package config

import (
	"time"

	"github.com/vietddude/failover/internal/core/domain"
	"github.com/vietddude/failover/internal/infra/resilience"
	"github.com/vietddude/failover/internal/infra/storage/postgres"
	redisstore "github.com/vietddude/failover/internal/infra/storage/redis"
	"github.com/vietddude/failover/internal/recovery"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server      ServerConfig       `yaml:"server"`
	Logging     LoggingConfig      `yaml:"logging"`
	Storage     StorageConfig      `yaml:"storage"`
	Database    postgres.Config    `yaml:"database"`
	Redis       redisstore.Config  `yaml:"redis"`
	Providers   []ProviderConfig   `yaml:"providers"`
	Routing     RoutingConfig      `yaml:"routing"`
	Presets     resilience.Presets `yaml:"presets"`
	Recovery    RecoveryConfig     `yaml:"recovery"`
	Degradation DegradationConfig  `yaml:"degradation"`
	Queue       QueueConfig        `yaml:"queue"`
	Retention   RetentionConfig    `yaml:"retention"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// StorageConfig selects where recovery logs and queued jobs live.
type StorageConfig struct {
	Backend string `yaml:"backend"`
}

// Provider transports.
const (
	TransportHTTP = "http"
	TransportGRPC = "grpc"
)

// ProviderConfig holds settings for a video generation provider.
type ProviderConfig struct {
	Name         string              `yaml:"name"`
	Transport    string              `yaml:"transport"` // http, grpc
	URL          string              `yaml:"url"`
	Method       string              `yaml:"method"` // grpc full method name
	APIKey       string              `yaml:"api_key"`
	Timeout      time.Duration       `yaml:"timeout"`
	Preset       string              `yaml:"preset"`   // resilience preset, defaults to name
	Priority     int                 `yaml:"priority"` // higher is preferred
	Capabilities domain.Capabilities `yaml:"capabilities"`
}

// RoutingConfig holds provider selection settings.
type RoutingConfig struct {
	Strategy string `yaml:"strategy"` // priority, round_robin
}

// RecoveryConfig holds recovery engine settings.
type RecoveryConfig struct {
	JitterFactor float64 `yaml:"jitter_factor"`
}

// DegradationConfig holds the option degradation ladder.
type DegradationConfig struct {
	Steps []recovery.DegradationStep `yaml:"steps"`
}

// QueueConfig holds queue worker settings.
type QueueConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

// RetentionConfig holds data retention settings.
type RetentionConfig struct {
	RecoveryLogs time.Duration `yaml:"recovery_logs"` // 0 = infinite
}
