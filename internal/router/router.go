// Package router implements the Router module: candidate filtering, the
// eight selection strategies, a decision cache keyed on request fingerprint,
// and an outcome-reporting hook that logs results. Grounded on the
// teacher's internal/router package (base.go's chooseDeployment, the
// round-robin cursor, and cooldown bookkeeping), generalized from
// provider/deployment selection to format-agnostic Model selection.
package router

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/corterix/gateway/internal/cache"
	"github.com/corterix/gateway/internal/config"
	"github.com/corterix/gateway/internal/pricing"
	"github.com/corterix/gateway/internal/registry"
	"github.com/corterix/gateway/internal/scorer"
	"github.com/corterix/gateway/pkg/ferrors"
	"github.com/corterix/gateway/pkg/modelapi"
	"github.com/corterix/gateway/pkg/routerapi"
)

// scoreEpsilon is the tie-break margin below which two candidate scores are
// treated as equal; ties are then broken by lexicographically-lower model
// ID for determinism, grounded on SPEC_FULL.md's Open Question decision.
const scoreEpsilon = 1e-9

// Router is the concrete routerapi.Router: it filters the Registry's models
// against Requirements, scores survivors per Strategy, and remembers the
// winner in a decision cache keyed on the request's full fingerprint.
type Router struct {
	reg     *registry.Registry
	scorers *scorers
	cache   *routeCache
	log     *slog.Logger

	defaultStrategy routerapi.Strategy

	mu         sync.RWMutex
	lastScores map[string]float64 // snapshot of each model's Balanced score, refreshed periodically

	stop chan struct{}
	once sync.Once
}

// Option configures optional Router dependencies at construction.
type Option func(*Router)

// WithCache wires a response cache backend (nil disables decision caching).
func WithCache(backend cache.Cache, namespace string, ttl time.Duration) Option {
	return func(r *Router) {
		r.cache = newRouteCache(backend, namespace, ttl)
	}
}

// New constructs a Router bound to reg, scoring with the given quality
// table and pricing table.
func New(cfg config.RoutingConfig, reg *registry.Registry, qualityTable scorer.QualityTable, pricingTable []pricing.ModelPricing, log *slog.Logger, opts ...Option) *Router {
	if log == nil {
		log = slog.Default()
	}
	r := &Router{
		reg: reg,
		scorers: &scorers{
			quality: scorer.NewQualityScorer(qualityTable),
			cost:    scorer.NewCostScorer(pricingTable),
			balance: scorer.NewLoadBalanceScorer(),
		},
		log:             log,
		defaultStrategy: routerapi.Strategy(cfg.DefaultStrategy),
		lastScores:      make(map[string]float64),
		stop:            make(chan struct{}),
	}
	if r.defaultStrategy == "" {
		r.defaultStrategy = routerapi.StrategyBalanced
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cache == nil {
		// No backend wired: operate with caching disabled rather than nil-check
		// everywhere downstream.
		r.cache = newRouteCache(nil, "route", cfg.CachePurge)
	}
	return r
}

// Run starts the background score-refresh loop; it blocks until ctx is
// done or Stop is called, so callers should invoke it in its own goroutine.
func (r *Router) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			r.refreshScores()
		}
	}
}

// Stop halts the background refresh loop; safe to call multiple times.
func (r *Router) Stop() {
	r.once.Do(func() { close(r.stop) })
}

func (r *Router) refreshScores() {
	models := r.reg.All()
	snap := make(map[string]float64, len(models))
	req := routerapi.SelectRequest{Strategy: routerapi.StrategyBalanced}
	for _, m := range models {
		snap[m.ID()] = r.scorers.balanced(m, req, "")
	}
	r.mu.Lock()
	r.lastScores = snap
	r.mu.Unlock()
}

// Scores returns the most recently refreshed Balanced-strategy score for
// every known model, useful for introspection/diagnostics.
func (r *Router) Scores() map[string]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]float64, len(r.lastScores))
	for k, v := range r.lastScores {
		out[k] = v
	}
	return out
}

// Select picks the best candidate Model for req, consulting the decision
// cache first.
func (r *Router) Select(ctx context.Context, req routerapi.SelectRequest) (routerapi.Decision, error) {
	strategy := req.Strategy
	if strategy == "" {
		strategy = r.defaultStrategy
	}
	req.Strategy = strategy

	if cd, ok := r.cache.get(ctx, req); ok {
		if m, err := r.reg.Get(cd.ModelID); err == nil {
			return routerapi.Decision{Model: m, Strategy: cd.Strategy, Cached: true, Score: cd.Score}, nil
		}
		// Cached model was evicted/unregistered since; fall through to a
		// fresh selection rather than erroring.
	}

	candidates := filterCandidates(r.reg.All(), req.Requirements)
	if len(candidates) == 0 {
		return routerapi.Decision{}, ferrors.NewNoCandidateError("no model satisfies the given requirements")
	}

	decision, err := r.selectFrom(candidates, req)
	if err != nil {
		return routerapi.Decision{}, err
	}

	r.cache.put(ctx, req, cachedDecision{ModelID: decision.Model.ID(), Strategy: decision.Strategy, Score: decision.Score})
	return decision, nil
}

func (r *Router) selectFrom(candidates []modelapi.Model, req routerapi.SelectRequest) (routerapi.Decision, error) {
	if req.Strategy == routerapi.StrategyRoundRobin {
		return r.selectRoundRobin(candidates, req)
	}

	score := r.scorers.scoreFor(req.Strategy)
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID() < candidates[j].ID() })

	var best modelapi.Model
	var bestScore float64
	for _, m := range candidates {
		s := score(m, req, "")
		if best == nil || s > bestScore+scoreEpsilon {
			best, bestScore = m, s
		}
	}

	return routerapi.Decision{Model: best, Strategy: req.Strategy, Score: bestScore}, nil
}

func (r *Router) selectRoundRobin(candidates []modelapi.Model, req routerapi.SelectRequest) (routerapi.Decision, error) {
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID() < candidates[j].ID() })
	setKey := roundRobinSetKey(candidates)
	idx := r.scorers.balance.Next(setKey, len(candidates))
	chosen := candidates[idx]
	return routerapi.Decision{Model: chosen, Strategy: req.Strategy, Score: 1.0}, nil
}

func roundRobinSetKey(candidates []modelapi.Model) string {
	var sb []byte
	for i, m := range candidates {
		if i > 0 {
			sb = append(sb, ',')
		}
		sb = append(sb, m.ID()...)
	}
	return string(sb)
}

// ReportOutcome records a completed request's latency/TTFT/failure for a
// model at debug log level. It does not change the model's rolling metrics;
// Generate and Stream already update those through the model's own
// recordResult path.
func (r *Router) ReportOutcome(ctx context.Context, modelID string, latency time.Duration, ttft time.Duration, failed bool) {
	m, err := r.reg.Get(modelID)
	if err != nil {
		r.log.WarnContext(ctx, "report outcome for unknown model", "model_id", modelID)
		return
	}
	// Models already track their own metrics through Generate/Stream; this
	// path exists for out-of-band outcome attribution and is intentionally
	// a log-only hook until a model-level external-record API is needed.
	r.log.DebugContext(ctx, "reported outcome", "model_id", m.ID(), "latency_ms", latency.Milliseconds(), "ttft_ms", ttft.Milliseconds(), "failed", failed)
}
