package corterix

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/corterix/gateway/internal/abtesting"
	"github.com/corterix/gateway/internal/cache"
	"github.com/corterix/gateway/internal/config"
	"github.com/corterix/gateway/internal/eventbus"
	"github.com/corterix/gateway/internal/loader"
	"github.com/corterix/gateway/internal/metrics"
	"github.com/corterix/gateway/internal/observability"
	"github.com/corterix/gateway/internal/pipeline"
	"github.com/corterix/gateway/internal/pricing"
	"github.com/corterix/gateway/internal/registry"
	"github.com/corterix/gateway/internal/resilience"
	"github.com/corterix/gateway/internal/router"
	"github.com/corterix/gateway/internal/scorer"
	"github.com/corterix/gateway/internal/tenancy"
	"github.com/corterix/gateway/pkg/modelapi"
	goredis "github.com/redis/go-redis/v9"
)

// Gateway is the top-level Orchestrator: it owns one instance each of the
// Registry, Router, Pipeline, MultiTenancy manager, ABTesting manager, and
// event bus, and composes them per request in Complete/Stream.
type Gateway struct {
	cfg *config.Config
	log *slog.Logger

	reg       *registry.Registry
	loaders   *loader.Registry
	rt        *router.Router
	pipe      *pipeline.Pipeline
	tenants   *tenancy.Manager
	experiments *abtesting.Manager
	bus       *eventbus.Bus
	breakers  *resilience.Manager
	collector *metrics.Collector
	tracer    *observability.TracerProvider

	// rateLimitCfg and distLimiter back the optional request-admission rate
	// limit (internal/config.RateLimitConfig), distinct from tenancy's own
	// precise sliding-window RPM/TPM quotas: this is a cheap circuit that
	// protects the gateway process itself from bursts. distLimiter is nil
	// unless RateLimitConfig.Distributed is set and a Redis address is
	// configured, in which case it is a *resilience.RedisLimiter shared
	// across every gateway replica; otherwise checkRateLimit falls back to
	// breakers' per-tenant in-memory token bucket.
	rateLimitCfg config.RateLimitConfig
	distLimiter  resilience.DistributedLimiter
}

// Deps allows callers to inject already-built components (primarily for
// tests); any left nil are constructed from cfg by New.
type Deps struct {
	Registry  *registry.Registry
	Loaders   *loader.Registry
	Router    *router.Router
	Pipeline  *pipeline.Pipeline
	Tenants   *tenancy.Manager
	Experiments *abtesting.Manager
	Bus       *eventbus.Bus
}

// New builds a Gateway from cfg, wiring every component the way SPEC_FULL.md
// §4 describes. Model sources marked PreloadOnStart are loaded and
// registered before New returns; a failure to preload one is fatal, as a
// gateway advertising a model it cannot serve is worse than failing fast.
func New(ctx context.Context, cfg *config.Config, deps Deps, log *slog.Logger) (*Gateway, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if log == nil {
		log = buildLogger(cfg.Logging)
	}

	bus := deps.Bus
	if bus == nil {
		bus = eventbus.New(log)
	}

	reg := deps.Registry
	if reg == nil {
		reg = registry.New(cfg.Registry.Capacity)
	}

	loaders := deps.Loaders
	if loaders == nil {
		loaders = defaultLoaders()
	}

	responseCache, err := cache.NewCache(cache.Config{
		Type:      cache.CacheType(cfg.Cache.Type),
		Enabled:   cfg.Cache.Enabled,
		Namespace: cfg.Cache.Namespace,
		TTL:       cfg.Cache.TTL,
		Memory:    cache.MemoryCacheConfig(cfg.Cache.Memory),
		Redis: cache.RedisCacheConfig{
			Addr: cfg.Cache.Redis.Addr, Password: cfg.Cache.Redis.Password, DB: cfg.Cache.Redis.DB,
			ClusterAddrs: cfg.Cache.Redis.ClusterAddrs, SentinelAddrs: cfg.Cache.Redis.SentinelAddrs,
			SentinelMaster: cfg.Cache.Redis.SentinelMaster, DialTimeout: cfg.Cache.Redis.DialTimeout,
			ReadTimeout: cfg.Cache.Redis.ReadTimeout, WriteTimeout: cfg.Cache.Redis.WriteTimeout,
			PoolSize: cfg.Cache.Redis.PoolSize, MinIdleConns: cfg.Cache.Redis.MinIdleConns,
			MaxRetries: cfg.Cache.Redis.MaxRetries,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("build response cache: %w", err)
	}

	rt := deps.Router
	if rt == nil {
		rt = router.New(cfg.Routing, reg, scorer.QualityTable{}, pricing.DefaultPricing, log,
			router.WithCache(responseCache, "route", cfg.Routing.CachePurge))
	}

	pipe := deps.Pipeline
	if pipe == nil {
		pipe = pipeline.New(cfg.Pipeline, responseCache, log)
	}

	tenants := deps.Tenants
	if tenants == nil {
		tenants = tenancy.New(tenancy.Config{
			EnableBilling: true,
			DefaultQuotas: map[tenancy.QuotaType]int64{},
		}, bus, log)
	}

	experiments := deps.Experiments
	if experiments == nil {
		experiments = abtesting.New(bus, log)
	}

	rateLimitCfg := cfg.RateLimit
	defaultRate, defaultBurst := 100.0, 50
	if rateLimitCfg.Enabled {
		defaultRate = float64(rateLimitCfg.RequestsPerMinute) / 60.0
		defaultBurst = rateLimitCfg.BurstSize
	}

	var distLimiter resilience.DistributedLimiter
	if rateLimitCfg.Enabled && rateLimitCfg.Distributed && cfg.Cache.Redis.Addr != "" {
		distLimiter = resilience.NewRedisLimiter(goredis.NewClient(&goredis.Options{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		}))
	}

	g := &Gateway{
		cfg:         cfg,
		log:         log,
		reg:         reg,
		loaders:     loaders,
		rt:          rt,
		pipe:        pipe,
		tenants:     tenants,
		experiments: experiments,
		bus:         bus,
		breakers: resilience.NewManager(resilience.ManagerConfig{
			CircuitBreaker: resilience.CircuitBreakerConfig{
				FailureThreshold:    circuitThreshold,
				SuccessThreshold:    2,
				Timeout:             circuitWindow,
				HalfOpenMaxRequests: 3,
			},
			DefaultRate:  defaultRate,
			DefaultBurst: defaultBurst,
		}),
		collector:    metrics.NewCollector(),
		rateLimitCfg: rateLimitCfg,
		distLimiter:  distLimiter,
	}

	tracer, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	g.tracer = tracer

	if err := g.preload(ctx); err != nil {
		return nil, err
	}

	return g, nil
}

func (g *Gateway) preload(ctx context.Context) error {
	for _, ms := range g.cfg.Models {
		if !ms.PreloadOnStart {
			continue
		}
		m, err := g.loadModel(ctx, ms)
		if err != nil {
			return fmt.Errorf("preload model %s: %w", ms.ID, err)
		}
		if evicted, err := g.reg.Register(m); err != nil {
			return fmt.Errorf("register model %s: %w", ms.ID, err)
		} else if evicted != nil {
			g.log.InfoContext(ctx, "model evicted by preload", "evicted_id", evicted.ID(), "registering_id", ms.ID)
			g.bus.Publish(ctx, eventbus.Event{Name: eventbus.EventEvicted, Fields: map[string]any{"model_id": evicted.ID()}})
		}
		g.bus.Publish(ctx, eventbus.Event{Name: eventbus.EventRegistered, Fields: map[string]any{"model_id": m.ID()}})
	}
	return nil
}

func (g *Gateway) loadModel(ctx context.Context, ms config.ModelSourceConfig) (modelapi.Model, error) {
	source := modelapi.Source{ExplicitFormat: ms.Format, URI: ms.URI, ID: ms.ID, Tags: ms.Tags}
	l, err := g.loaders.Resolve(source)
	if err != nil {
		return nil, err
	}
	return l.Load(ctx, source)
}

// Close stops background loops owned by the Gateway (router score refresh);
// the Registry, caches, and managers hold no background goroutines of their
// own beyond what New started.
func (g *Gateway) Close() {
	g.rt.Stop()
}

// localFileFormats are the weights-file extensions the reference
// LocalFileLoader recognizes, one loader instance per format tag.
var localFileFormats = []string{
	"gguf", "ggml", "onnx", "safetensors", "pytorch", "binary", "tensorflow", "tensorflowjs",
}

func defaultLoaders() *loader.Registry {
	reg := loader.NewRegistry()
	reg.Register(loader.NewMockLoader())
	for _, format := range localFileFormats {
		reg.Register(loader.NewLocalFileLoader(format))
	}
	reg.Register(loader.NewHuggingFaceLoader())
	return reg
}

func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	l := observability.NewLogger(observability.LoggerConfig{
		Level:      level,
		Output:     os.Stdout,
		JSONFormat: cfg.Format != "text",
	}, nil)
	return l.Slog()
}
