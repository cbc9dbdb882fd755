package router

import (
	"math/rand"

	"github.com/corterix/gateway/internal/scorer"
	"github.com/corterix/gateway/pkg/modelapi"
	"github.com/corterix/gateway/pkg/routerapi"
)

// scoreFn ranks a single candidate; higher is better. setKey identifies the
// candidate set for strategies (round-robin) that need a stable cursor.
type scoreFn func(m modelapi.Model, req routerapi.SelectRequest, setKey string) float64

// scorers bundles the three composable scoring signals a Router draws on.
type scorers struct {
	quality *scorer.QualityScorer
	cost    *scorer.CostScorer
	balance *scorer.LoadBalanceScorer
}

// scoreFor dispatches to the scoring function for a strategy, falling back
// to Balanced for an unrecognized value rather than rejecting the request.
func (s *scorers) scoreFor(strategy routerapi.Strategy) scoreFn {
	switch strategy {
	case routerapi.StrategyQualityFirst:
		return s.qualityFirst
	case routerapi.StrategyCostOptimized:
		return s.costOptimized
	case routerapi.StrategySpeedPriority:
		return s.speedPriority
	case routerapi.StrategyRoundRobin:
		return s.roundRobin
	case routerapi.StrategyLeastLoaded:
		return s.leastLoaded
	case routerapi.StrategyCapabilityMatch:
		return s.capabilityMatch
	case routerapi.StrategyRandom:
		return s.random
	case routerapi.StrategyBalanced:
		return s.balanced
	default:
		return s.balanced
	}
}

func (s *scorers) qualityFirst(m modelapi.Model, req routerapi.SelectRequest, _ string) float64 {
	return s.quality.Score(m, req.Prompt, req.PromptTokens)
}

func (s *scorers) costOptimized(m modelapi.Model, req routerapi.SelectRequest, _ string) float64 {
	return s.cost.Score(m, req.Requirements.MaxTokens)
}

// latencyScore ranks a model by observed latency, grounded on the teacher's
// latency-aware deployment selection in internal/router/base.go. Lower
// average latency scores higher; a model with no history yet
// (AvgLatencyMs == 0) is treated as moderately fast so it gets a chance to
// accrue real metrics rather than being starved forever. Shared by
// speedPriority and balanced so both strategies rank latency identically.
func latencyScore(m modelapi.Model) float64 {
	lat := m.Metrics().AvgLatencyMs
	if lat == 0 {
		lat = 500
	}
	return 1.0 / (1.0 + lat/1000.0)
}

func (s *scorers) speedPriority(m modelapi.Model, _ routerapi.SelectRequest, _ string) float64 {
	return latencyScore(m)
}

func (s *scorers) roundRobin(_ modelapi.Model, _ routerapi.SelectRequest, _ string) float64 {
	// roundRobin does not rank by score; selection happens via Next in
	// selectRoundRobin, so every candidate ties here and order is preserved.
	return 0
}

func (s *scorers) leastLoaded(m modelapi.Model, _ routerapi.SelectRequest, _ string) float64 {
	return s.balance.LeastLoadedScore(m)
}

// capabilityMatch scores a model by the fraction of the request's declared
// capability/context requirements it satisfies (via Model.Supports and
// Parameters().ContextWindow), rather than a fixed set of boolean checks, so
// it generalizes to any subset of spec.md §3's 9-item capability set.
func (s *scorers) capabilityMatch(m modelapi.Model, req routerapi.SelectRequest, _ string) float64 {
	reqs := req.Requirements
	total, matched := 0, 0

	check := func(required bool, capability modelapi.Capability) {
		if !required {
			return
		}
		total++
		if m.Supports(capability) {
			matched++
		}
	}
	check(reqs.RequireStreaming, modelapi.CapabilityStreaming)
	check(reqs.RequireEmbedding, modelapi.CapabilityEmbedding)
	for _, capability := range reqs.RequiredCapabilities {
		total++
		if m.Supports(capability) {
			matched++
		}
	}

	params := m.Parameters()
	if reqs.MinContextWindow > 0 {
		total++
		if params.ContextWindow >= reqs.MinContextWindow {
			matched++
		}
	}

	if total == 0 {
		// No requirements were declared; fall back to context window as the
		// tiebreaker signal so "capability-match" still orders candidates.
		return float64(params.ContextWindow) / 1_000_000.0
	}
	return float64(matched) / float64(total)
}

func (s *scorers) random(_ modelapi.Model, _ routerapi.SelectRequest, _ string) float64 {
	return rand.Float64()
}

// balanced blends quality, cost, and latency signals with the weights
// spec.md §4.5 specifies ("0.4 quality + 0.3/cost + 0.3/latency"), grounded
// on the teacher's weighted deployment scoring in
// internal/router/base.go's chooseDeployment.
func (s *scorers) balanced(m modelapi.Model, req routerapi.SelectRequest, _ string) float64 {
	const wQuality, wCost, wLatency = 0.4, 0.3, 0.3
	q := s.quality.Score(m, req.Prompt, req.PromptTokens)
	c := s.cost.Score(m, req.Requirements.MaxTokens)
	l := latencyScore(m)
	return wQuality*q + wCost*c + wLatency*l
}
