package corterix

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corterix/gateway/internal/abtesting"
	"github.com/corterix/gateway/internal/cache"
	"github.com/corterix/gateway/internal/config"
	"github.com/corterix/gateway/internal/eventbus"
	"github.com/corterix/gateway/internal/loader"
	"github.com/corterix/gateway/internal/metrics"
	"github.com/corterix/gateway/internal/pipeline"
	"github.com/corterix/gateway/internal/pricing"
	"github.com/corterix/gateway/internal/registry"
	"github.com/corterix/gateway/internal/resilience"
	"github.com/corterix/gateway/internal/router"
	"github.com/corterix/gateway/internal/scorer"
	"github.com/corterix/gateway/internal/tenancy"
	"github.com/corterix/gateway/pkg/modelapi"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestGateway wires every component directly (bypassing New's config
// plumbing and tracing init) so tests can register deterministic mock
// models without a YAML config file, mirroring the teacher's
// WithProviderInstance test-construction style.
func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	log := testLogger()
	bus := eventbus.New(log)
	reg := registry.New(10)

	responseCache, err := cache.NewCache(cache.DefaultConfig())
	require.NoError(t, err)

	rt := router.New(config.RoutingConfig{DefaultStrategy: "balanced"}, reg, scorer.QualityTable{}, pricing.DefaultPricing, log)
	pipe := pipeline.New(config.PipelineConfig{MaxConcurrent: 5, Retries: 2}, responseCache, log)
	tenants := tenancy.New(tenancy.Config{EnableBilling: true}, bus, log)
	experiments := abtesting.New(bus, log)

	g := &Gateway{
		cfg:         config.DefaultConfig(),
		log:         log,
		reg:         reg,
		loaders:     defaultLoaders(),
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
			DefaultRate:  100,
			DefaultBurst: 50,
		}),
		collector:    metrics.NewCollector(),
		rateLimitCfg: config.DefaultConfig().RateLimit,
	}
	t.Cleanup(g.Close)
	return g
}

// registerMockModel loads and registers a deterministic mock model under id,
// returning it for assertions.
func registerMockModel(t *testing.T, g *Gateway, id string) modelapi.Model {
	t.Helper()
	m, err := loader.NewMockLoader().Load(context.Background(), modelapi.Source{ExplicitFormat: "mock", ID: id})
	require.NoError(t, err)
	_, err = g.reg.Register(m)
	require.NoError(t, err)
	return m
}

// createTestTenant creates a tenant with no quota limits set (every quota
// type is treated as unlimited), so tests can exercise tenant-scoped paths
// without also constructing quota fixtures.
func createTestTenant(t *testing.T, g *Gateway, id string) {
	t.Helper()
	_, err := g.tenants.CreateTenant(context.Background(), tenancy.CreateRequest{ID: id, Name: id})
	require.NoError(t, err)
}

func TestDefaultLoaders_ResolvesEveryLocalFormat(t *testing.T) {
	loaders := defaultLoaders()
	for _, format := range localFileFormats {
		l, err := loaders.Resolve(modelapi.Source{ExplicitFormat: format})
		require.NoError(t, err)
		require.Equal(t, format, l.Format())
	}
}

func TestBuildLogger_LevelMapping(t *testing.T) {
	cases := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tc := range cases {
		log := buildLogger(config.LoggingConfig{Level: tc.level})
		require.True(t, log.Enabled(context.Background(), tc.want))
	}
}
