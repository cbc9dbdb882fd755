package router

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corterix/gateway/internal/cache"
	"github.com/corterix/gateway/internal/config"
	"github.com/corterix/gateway/internal/loader"
	"github.com/corterix/gateway/internal/pricing"
	"github.com/corterix/gateway/internal/registry"
	"github.com/corterix/gateway/internal/scorer"
	"github.com/corterix/gateway/pkg/modelapi"
	"github.com/corterix/gateway/pkg/routerapi"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustLoadMock(t *testing.T, id string, tags []string) modelapi.Model {
	t.Helper()
	ml := loader.NewMockLoader()
	m, err := ml.Load(context.Background(), modelapi.Source{ID: id, ExplicitFormat: "mock", Tags: tags})
	require.NoError(t, err)
	return m
}

func newTestRouter(t *testing.T, reg *registry.Registry) *Router {
	t.Helper()
	cfg := config.RoutingConfig{DefaultStrategy: "balanced"}
	return New(cfg, reg, scorer.QualityTable{"gpt-4*": 0.9}, []pricing.ModelPricing{}, testLogger())
}

func TestRouter_Select_QualityFirst(t *testing.T) {
	reg := registry.New(0)
	_, err := reg.Register(mustLoadMock(t, "gpt-4-small", nil))
	require.NoError(t, err)
	_, err = reg.Register(mustLoadMock(t, "budget-model", nil))
	require.NoError(t, err)

	r := newTestRouter(t, reg)
	decision, err := r.Select(context.Background(), routerapi.SelectRequest{
		Prompt:       "hello world",
		PromptTokens: 10,
		Strategy:     routerapi.StrategyQualityFirst,
	})
	require.NoError(t, err)
	require.Equal(t, "gpt-4-small", decision.Model.ID())
	require.False(t, decision.Cached)
}

func TestRouter_Select_CacheHit(t *testing.T) {
	reg := registry.New(0)
	_, err := reg.Register(mustLoadMock(t, "model-a", nil))
	require.NoError(t, err)

	r := New(config.RoutingConfig{DefaultStrategy: "balanced"}, reg, scorer.QualityTable{"gpt-4*": 0.9}, []pricing.ModelPricing{}, testLogger(),
		WithCache(cache.NewMemoryCache(cache.DefaultMemoryCacheConfig()), "route", time.Minute))
	req := routerapi.SelectRequest{Prompt: "same prompt", PromptTokens: 5, Strategy: routerapi.StrategyBalanced}

	first, err := r.Select(context.Background(), req)
	require.NoError(t, err)
	require.False(t, first.Cached)

	second, err := r.Select(context.Background(), req)
	require.NoError(t, err)
	require.True(t, second.Cached)
	require.Equal(t, first.Model.ID(), second.Model.ID())
}

func TestRouter_Select_NoCandidates(t *testing.T) {
	reg := registry.New(0)
	r := newTestRouter(t, reg)

	_, err := r.Select(context.Background(), routerapi.SelectRequest{Prompt: "x"})
	require.Error(t, err)
}

func TestRouter_Select_RequiredTagsFilter(t *testing.T) {
	reg := registry.New(0)
	_, err := reg.Register(mustLoadMock(t, "tagged-model", []string{"gpu", "fast"}))
	require.NoError(t, err)
	_, err = reg.Register(mustLoadMock(t, "untagged-model", nil))
	require.NoError(t, err)

	r := newTestRouter(t, reg)
	decision, err := r.Select(context.Background(), routerapi.SelectRequest{
		Prompt:   "hello",
		Strategy: routerapi.StrategyBalanced,
		Requirements: routerapi.Requirements{
			RequiredTags: []string{"gpu"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "tagged-model", decision.Model.ID())
}

func TestRouter_Select_RoundRobin(t *testing.T) {
	reg := registry.New(0)
	_, err := reg.Register(mustLoadMock(t, "rr-a", nil))
	require.NoError(t, err)
	_, err = reg.Register(mustLoadMock(t, "rr-b", nil))
	require.NoError(t, err)

	r := newTestRouter(t, reg)
	seen := map[string]int{}
	for i := 0; i < 4; i++ {
		decision, err := r.Select(context.Background(), routerapi.SelectRequest{
			Prompt:   "distinct-" + string(rune('a'+i)),
			Strategy: routerapi.StrategyRoundRobin,
		})
		require.NoError(t, err)
		seen[decision.Model.ID()]++
	}
	require.Equal(t, 2, len(seen))
}

func TestRouter_ReportOutcome_UnknownModel(t *testing.T) {
	reg := registry.New(0)
	r := newTestRouter(t, reg)
	// Should not panic even though no model is registered.
	r.ReportOutcome(context.Background(), "missing-model", 0, 0, true)
}

func TestRouter_RefreshScores(t *testing.T) {
	reg := registry.New(0)
	_, err := reg.Register(mustLoadMock(t, "m1", nil))
	require.NoError(t, err)

	r := newTestRouter(t, reg)
	r.refreshScores()
	scores := r.Scores()
	require.Contains(t, scores, "m1")
}
