package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/failover/internal/infra/resilience"
	"github.com/vietddude/failover/internal/infra/routing"
	"github.com/vietddude/failover/internal/recovery"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid config")

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML content, applies defaults and validates the result.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendMemory
	}
	if c.Routing.Strategy == "" {
		c.Routing.Strategy = string(routing.StrategyPriority)
	}
	if c.Recovery.JitterFactor == 0 {
		c.Recovery.JitterFactor = 0.1
	}
	if len(c.Degradation.Steps) == 0 {
		c.Degradation.Steps = recovery.DefaultDegradationSteps
	}
	if c.Queue.PollInterval == 0 {
		c.Queue.PollInterval = 30 * time.Second
	}
	if c.Queue.BatchSize == 0 {
		c.Queue.BatchSize = 10
	}
	if c.Queue.MaxAttempts == 0 {
		c.Queue.MaxAttempts = 5
	}
	if c.Retention.RecoveryLogs == 0 {
		c.Retention.RecoveryLogs = 30 * 24 * time.Hour
	}

	c.Presets = mergePresets(resilience.DefaultPresets(), c.Presets)

	for i := range c.Providers {
		p := &c.Providers[i]
		if p.Transport == "" {
			p.Transport = TransportHTTP
		}
		if p.Timeout == 0 {
			p.Timeout = 5 * time.Minute
		}
		if p.Preset == "" {
			p.Preset = p.Name
		}
	}
}

// mergePresets overlays overrides on base. Sections an override leaves
// empty are taken from the base preset of the same name.
func mergePresets(base, overrides resilience.Presets) resilience.Presets {
	filled := make(resilience.Presets, len(overrides))
	for name, o := range overrides {
		b := base.Get(name)
		if o.Retry.MaxAttempts == 0 {
			o.Retry = b.Retry
		}
		if o.Circuit.FailureThreshold == 0 {
			o.Circuit = b.Circuit
		}
		if o.RateLimit.MaxRequests == 0 && o.RateLimit.Window == 0 {
			o.RateLimit = b.RateLimit
		}
		filled[name] = o
	}
	return base.Merge(filled)
}

// Validate rejects values the service cannot run with.
func (c *AppConfig) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("%w: database.url is required for postgres storage", ErrInvalidConfig)
		}
	case BackendRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("%w: redis.url is required for redis storage", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown storage backend %q", ErrInvalidConfig, c.Storage.Backend)
	}

	switch routing.Strategy(c.Routing.Strategy) {
	case routing.StrategyPriority, routing.StrategyRoundRobin:
	default:
		return fmt.Errorf("%w: unknown routing strategy %q", ErrInvalidConfig, c.Routing.Strategy)
	}

	if c.Recovery.JitterFactor < 0 || c.Recovery.JitterFactor > 1 {
		return fmt.Errorf("%w: recovery.jitter_factor must be within [0,1]", ErrInvalidConfig)
	}
	if c.Queue.PollInterval < 0 || c.Queue.BatchSize < 0 || c.Queue.MaxAttempts < 0 {
		return fmt.Errorf("%w: queue settings must not be negative", ErrInvalidConfig)
	}
	if c.Retention.RecoveryLogs < 0 {
		return fmt.Errorf("%w: retention.recovery_logs must not be negative", ErrInvalidConfig)
	}

	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("%w: provider name is required", ErrInvalidConfig)
		}
		if seen[p.Name] {
			return fmt.Errorf("%w: duplicate provider %q", ErrInvalidConfig, p.Name)
		}
		seen[p.Name] = true

		switch p.Transport {
		case TransportHTTP:
		case TransportGRPC:
			if p.Method == "" {
				return fmt.Errorf("%w: provider %q: grpc method is required", ErrInvalidConfig, p.Name)
			}
		default:
			return fmt.Errorf("%w: provider %q: unknown transport %q", ErrInvalidConfig, p.Name, p.Transport)
		}
		if p.URL == "" {
			return fmt.Errorf("%w: provider %q: url is required", ErrInvalidConfig, p.Name)
		}
		if p.Timeout < 0 {
			return fmt.Errorf("%w: provider %q: timeout must not be negative", ErrInvalidConfig, p.Name)
		}
	}

	for name, preset := range c.Presets {
		if err := preset.Retry.Validate(); err != nil {
			return fmt.Errorf("%w: preset %q retry: %v", ErrInvalidConfig, name, err)
		}
		if err := preset.Circuit.Validate(); err != nil {
			return fmt.Errorf("%w: preset %q circuit: %v", ErrInvalidConfig, name, err)
		}
	}

	for i, step := range c.Degradation.Steps {
		if step.Quality < 0 || step.Quality > 1 {
			return fmt.Errorf("%w: degradation step %d: quality must be within [0,1]", ErrInvalidConfig, i)
		}
	}
	return nil
}
