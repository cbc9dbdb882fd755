// Package config provides configuration management with hot-reload support.
// It uses fsnotify to watch for file changes and atomic pointer swaps for zero-downtime updates.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/corterix/gateway/internal/observability"
)

// Config represents the complete router configuration.
type Config struct {
	Deployment    DeploymentConfig                  `yaml:"deployment"`
	Models        []ModelSourceConfig                `yaml:"models"`
	Registry      RegistryConfig                    `yaml:"registry"`
	Routing       RoutingConfig                     `yaml:"routing"`
	Pipeline      PipelineConfig                    `yaml:"pipeline"`
	Stream        StreamConfig                      `yaml:"stream"`
	RateLimit     RateLimitConfig                   `yaml:"rate_limit"`
	Governance    GovernanceConfig                  `yaml:"governance"`
	Logging       LoggingConfig                     `yaml:"logging"`
	Metrics       MetricsConfig                     `yaml:"metrics"`
	Tracing       TracingConfig                     `yaml:"tracing"`
	Observability observability.ObservabilityConfig `yaml:"observability"`
	Cache         CacheConfig                       `yaml:"cache"`
	HealthCheck   HealthCheckConfig                 `yaml:"healthcheck"`
	PricingFile   string                            `yaml:"pricing_file"`
}

// DeploymentConfig contains deployment mode settings.
// Modes: standalone, distributed, development.
type DeploymentConfig struct {
	Mode string `yaml:"mode"`
}

// ModelSourceConfig declares a model the Registry should load at startup,
// replacing the teacher's HTTP-provider-credential ProviderConfig with a
// loader-format-agnostic model source descriptor.
type ModelSourceConfig struct {
	ID             string   `yaml:"id"`
	Format         string   `yaml:"format"` // explicit loader format tag, or "" to auto-detect
	URI            string   `yaml:"uri"`
	Tags           []string `yaml:"tags"`
	PreloadOnStart bool     `yaml:"preload_on_start"`
}

// RegistryConfig contains model registry settings.
type RegistryConfig struct {
	Capacity     int    `yaml:"capacity"` // max concurrently loaded models (LRU eviction)
	SnapshotPath string `yaml:"snapshot_path"`
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	Enabled   bool              `yaml:"enabled"`
	Type      string            `yaml:"type"`      // local, redis, dual
	Namespace string            `yaml:"namespace"` // Key namespace prefix
	TTL       time.Duration     `yaml:"ttl"`       // Default TTL
	Memory    MemoryCacheConfig `yaml:"memory"`    // In-memory cache config
	Redis     RedisCacheConfig  `yaml:"redis"`     // Redis cache config
}

// HealthCheckConfig contains proactive health probe settings.
type HealthCheckConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// MemoryCacheConfig contains in-memory cache settings.
type MemoryCacheConfig struct {
	MaxSize         int           `yaml:"max_size"`         // Maximum number of items
	DefaultTTL      time.Duration `yaml:"default_ttl"`      // Default TTL
	MaxItemSize     int           `yaml:"max_item_size"`    // Maximum size per item in bytes
	CleanupInterval time.Duration `yaml:"cleanup_interval"` // Cleanup interval
}

// RedisCacheConfig contains Redis cache settings.
type RedisCacheConfig struct {
	Addr           string        `yaml:"addr"`            // Redis address
	Password       string        `yaml:"password"`        // Redis password
	DB             int           `yaml:"db"`              // Redis database number
	ClusterAddrs   []string      `yaml:"cluster_addrs"`   // Redis cluster addresses
	SentinelAddrs  []string      `yaml:"sentinel_addrs"`  // Sentinel addresses
	SentinelMaster string        `yaml:"sentinel_master"` // Sentinel master name
	DialTimeout    time.Duration `yaml:"dial_timeout"`    // Connection timeout
	ReadTimeout    time.Duration `yaml:"read_timeout"`    // Read timeout
	WriteTimeout   time.Duration `yaml:"write_timeout"`   // Write timeout
	PoolSize       int           `yaml:"pool_size"`       // Connection pool size
	MinIdleConns   int           `yaml:"min_idle_conns"`  // Minimum idle connections
	MaxRetries     int           `yaml:"max_retries"`     // Maximum retries
}

// PipelineConfig contains per-request processing settings: local retry of a
// single already-selected Model and the response cache. Distinct from
// RoutingConfig's retry fields, which govern the Orchestrator's
// fallback-chain retries across different Models entirely.
type PipelineConfig struct {
	MaxConcurrent    int           `yaml:"max_concurrent"`
	Retries          int           `yaml:"retries"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
	RetryMaxBackoff  time.Duration `yaml:"retry_max_backoff"`
	RetryJitter      float64       `yaml:"retry_jitter"`
	ResponseCacheTTL time.Duration `yaml:"response_cache_ttl"`
}

// StreamConfig contains stream-specific behavior.
type StreamConfig struct {
	RecoveryMode string `yaml:"recovery_mode"` // off, append, retry
}

// RoutingConfig contains routing and load balancing settings.
type RoutingConfig struct {
	DefaultStrategy string        `yaml:"default_strategy"` // quality-first, cost-optimized, speed-priority, balanced, round-robin, least-loaded, capability-match, random
	FallbackEnabled bool          `yaml:"fallback_enabled"`
	RetryCount      int           `yaml:"retry_count"`
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
	RetryMaxBackoff time.Duration `yaml:"retry_max_backoff"`
	RetryJitter     float64       `yaml:"retry_jitter"`
	CooldownPeriod  time.Duration `yaml:"cooldown_period"`
	ScoreRefresh    time.Duration `yaml:"score_refresh"`  // how often Router strategy scores are recomputed
	CachePurge      time.Duration `yaml:"cache_purge"`    // TTL for cached route decisions before they expire
	Distributed     bool          `yaml:"distributed"`    // Enable Redis-backed distributed routing stats
}

// RateLimitConfig defines rate limiting parameters.
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled"`
	RequestsPerMinute int64         `yaml:"requests_per_minute"` // RPM limit
	TokensPerMinute   int64         `yaml:"tokens_per_minute"`   // TPM limit
	BurstSize         int           `yaml:"burst_size"`
	WindowSize        time.Duration `yaml:"window_size"`  // Sliding window duration (default: 1m)
	KeyStrategy       string        `yaml:"key_strategy"` // tenant, model, tenant_model
	FailOpen          bool          `yaml:"fail_open"`    // Allow requests when limiter backend fails

	// Distributed rate limiting (Redis-backed)
	Distributed bool `yaml:"distributed"` // Enable Redis-backed distributed rate limiting
}

// GovernanceConfig defines governance engine behavior.
type GovernanceConfig struct {
	Enabled           bool          `yaml:"enabled"`
	AsyncAccounting   bool          `yaml:"async_accounting"`
	IdempotencyWindow time.Duration `yaml:"idempotency_window"`
	AuditEnabled      bool          `yaml:"audit_enabled"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig contains OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"` // Service name for traces
	SampleRate  float64 `yaml:"sample_rate"`  // Sampling rate (0.0 to 1.0)
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Deployment: DeploymentConfig{
			Mode: "standalone",
		},
		Registry: RegistryConfig{
			Capacity: 100,
		},
		Routing: RoutingConfig{
			DefaultStrategy: "balanced",
			FallbackEnabled: true,
			RetryCount:      3,
			RetryBackoff:    100 * time.Millisecond,
			RetryMaxBackoff: 5 * time.Second,
			RetryJitter:     0.2,
			CooldownPeriod:  60 * time.Second,
			ScoreRefresh:    5 * time.Minute,
			CachePurge:      time.Hour,
		},
		Pipeline: PipelineConfig{
			MaxConcurrent:    5,
			Retries:          3,
			RetryBackoff:     time.Second,
			RetryMaxBackoff:  30 * time.Second,
			RetryJitter:      0.1,
			ResponseCacheTTL: time.Hour,
		},
		Stream: StreamConfig{
			RecoveryMode: "retry",
		},
		RateLimit: RateLimitConfig{
			Enabled:           false,
			RequestsPerMinute: 60,
			TokensPerMinute:   100000,
			BurstSize:         10,
			WindowSize:        time.Minute,
			KeyStrategy:       "tenant",
			FailOpen:          true,
			Distributed:       false,
		},
		Governance: GovernanceConfig{
			Enabled:           true,
			AsyncAccounting:   true,
			IdempotencyWindow: 10 * time.Minute,
			AuditEnabled:      true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "corterix",
			SampleRate:  1.0,
		},
		Observability: observability.DefaultObservabilityConfig(),
		Cache: CacheConfig{
			Enabled:   false,
			Type:      "local",
			Namespace: "corterix",
			TTL:       time.Hour,
			Memory: MemoryCacheConfig{
				MaxSize:         1000,
				DefaultTTL:      10 * time.Minute,
				MaxItemSize:     1024 * 1024,
				CleanupInterval: time.Minute,
			},
			Redis: RedisCacheConfig{
				Addr:         "localhost:6379",
				DB:           0,
				DialTimeout:  5 * time.Second,
				ReadTimeout:  3 * time.Second,
				WriteTimeout: 3 * time.Second,
				PoolSize:     10,
				MinIdleConns: 2,
				MaxRetries:   3,
			},
		},
		HealthCheck: HealthCheckConfig{
			Enabled:  false,
			Interval: 30 * time.Second,
			Timeout:  10 * time.Second,
		},
	}
}

// LoadFromFile reads and parses a YAML configuration file.
// Environment variables in the format ${VAR_NAME} are expanded.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	mode, err := normalizeDeploymentMode(c.Deployment.Mode)
	if err != nil {
		return err
	}

	if c.Registry.Capacity <= 0 {
		return fmt.Errorf("registry.capacity must be positive")
	}

	for i, m := range c.Models {
		if m.ID == "" {
			return fmt.Errorf("models[%d]: id is required", i)
		}
		if m.URI == "" {
			return fmt.Errorf("models[%d] %q: uri is required", i, m.ID)
		}
	}

	// Validate routing config
	if c.Routing.RetryCount < 0 {
		return fmt.Errorf("routing.retry_count cannot be negative")
	}
	if c.Routing.RetryBackoff < 0 {
		return fmt.Errorf("routing.retry_backoff cannot be negative")
	}
	if c.Routing.RetryMaxBackoff < 0 {
		return fmt.Errorf("routing.retry_max_backoff cannot be negative")
	}
	if c.Routing.RetryJitter < 0 || c.Routing.RetryJitter > 1 {
		return fmt.Errorf("routing.retry_jitter must be between 0 and 1")
	}
	if c.Routing.CooldownPeriod < 0 {
		return fmt.Errorf("routing.cooldown_period cannot be negative")
	}
	if c.HealthCheck.Interval < 0 {
		return fmt.Errorf("healthcheck.interval cannot be negative")
	}
	if c.HealthCheck.Timeout < 0 {
		return fmt.Errorf("healthcheck.timeout cannot be negative")
	}
	switch c.Stream.RecoveryMode {
	case "", "off", "append", "retry":
	default:
		return fmt.Errorf("stream.recovery_mode must be one of: off, append, retry")
	}

	if c.Governance.IdempotencyWindow < 0 {
		return fmt.Errorf("governance.idempotency_window cannot be negative")
	}

	if c.Pipeline.Retries < 0 {
		return fmt.Errorf("pipeline.retries cannot be negative")
	}
	if c.Pipeline.MaxConcurrent < 0 {
		return fmt.Errorf("pipeline.max_concurrent cannot be negative")
	}
	if c.Pipeline.RetryJitter < 0 || c.Pipeline.RetryJitter > 1 {
		return fmt.Errorf("pipeline.retry_jitter must be between 0 and 1")
	}

	if mode == "distributed" {
		if !c.Routing.Distributed {
			return fmt.Errorf("deployment.mode=distributed requires routing.distributed=true for shared routing stats")
		}
		if c.Routing.Distributed && !hasRedisConfig(c.Cache.Redis) {
			return fmt.Errorf("deployment.mode=distributed requires cache.redis.addr or cache.redis.cluster_addrs for routing stats")
		}
		if c.RateLimit.Enabled && !c.RateLimit.Distributed {
			return fmt.Errorf("deployment.mode=distributed requires rate_limit.distributed=true when rate_limit.enabled")
		}
		if c.RateLimit.Enabled && c.RateLimit.Distributed && !hasRedisConfig(c.Cache.Redis) {
			return fmt.Errorf("deployment.mode=distributed requires cache.redis.addr or cache.redis.cluster_addrs for rate limiting")
		}
	}

	return nil
}

func normalizeDeploymentMode(mode string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(mode))
	if normalized == "" {
		return "standalone", nil
	}
	switch normalized {
	case "standalone", "distributed", "development":
		return normalized, nil
	default:
		return "", fmt.Errorf("deployment.mode must be one of: standalone, distributed, development")
	}
}

func hasRedisConfig(cfg RedisCacheConfig) bool {
	return cfg.Addr != "" || len(cfg.ClusterAddrs) > 0
}
