package router

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corterix/gateway/internal/pricing"
	"github.com/corterix/gateway/internal/scorer"
	"github.com/corterix/gateway/pkg/modelapi"
	"github.com/corterix/gateway/pkg/routerapi"
)

func testScorers() *scorers {
	return &scorers{
		quality: scorer.NewQualityScorer(scorer.QualityTable{"gpt-4*": 0.9}),
		cost:    scorer.NewCostScorer([]pricing.ModelPricing{}),
		balance: scorer.NewLoadBalanceScorer(),
	}
}

func TestScorers_QualityFirst_PrefersHigherTable(t *testing.T) {
	s := testScorers()
	premium := &fakeModel{id: "gpt-4-small", params: modelapi.Parameters{ContextWindow: 8192}}
	budget := &fakeModel{id: "budget", params: modelapi.Parameters{ContextWindow: 8192}}

	req := routerapi.SelectRequest{Prompt: "hello", PromptTokens: 100}
	require.Greater(t, s.qualityFirst(premium, req, ""), s.qualityFirst(budget, req, ""))
}

func TestScorers_CapabilityMatch_RewardsSatisfiedRequirement(t *testing.T) {
	s := testScorers()
	streamer := &fakeModel{id: "a", caps: modelapi.Capabilities{modelapi.CapabilityStreaming: true}}
	nonStreamer := &fakeModel{id: "b", caps: modelapi.Capabilities{}}

	req := routerapi.SelectRequest{Requirements: routerapi.Requirements{RequireStreaming: true}}
	require.Greater(t, s.capabilityMatch(streamer, req, ""), s.capabilityMatch(nonStreamer, req, ""))
}

func TestScorers_LeastLoaded_PrefersLowerConcurrency(t *testing.T) {
	s := testScorers()
	idle := &fakeModel{id: "idle"}
	req := routerapi.SelectRequest{}
	require.Equal(t, 1.0, s.leastLoaded(idle, req, ""))
}

func TestScorers_ScoreFor_FallsBackToBalanced(t *testing.T) {
	s := testScorers()
	fn := s.scoreFor(routerapi.Strategy("unknown-strategy"))
	m := &fakeModel{id: "x", params: modelapi.Parameters{ContextWindow: 4096}}
	// Should not panic and should produce a score in a sane range.
	score := fn(m, routerapi.SelectRequest{Prompt: "hi", PromptTokens: 10}, "")
	require.GreaterOrEqual(t, score, 0.0)
}

// TestScorers_Balanced_PrefersLowerLatencyOnTie exercises spec.md §8's
// concrete scenario 1: two models tying on quality and cost must be broken
// by latency, not by load (balanced's third term is latency, not
// least-loaded).
func TestScorers_Balanced_PrefersLowerLatencyOnTie(t *testing.T) {
	s := testScorers()
	fast := &fakeModel{id: "same", params: modelapi.Parameters{ContextWindow: 4096}, metrics: modelapi.Metrics{AvgLatencyMs: 200}}
	slow := &fakeModel{id: "same", params: modelapi.Parameters{ContextWindow: 4096}, metrics: modelapi.Metrics{AvgLatencyMs: 2000}}

	req := routerapi.SelectRequest{Prompt: "hi", Requirements: routerapi.Requirements{MaxTokens: 256}}
	require.Greater(t, s.balanced(fast, req, ""), s.balanced(slow, req, ""))
}

func TestLatencyScore_LowerLatencyScoresHigher(t *testing.T) {
	fast := &fakeModel{metrics: modelapi.Metrics{AvgLatencyMs: 200}}
	slow := &fakeModel{metrics: modelapi.Metrics{AvgLatencyMs: 2000}}
	require.Greater(t, latencyScore(fast), latencyScore(slow))
}
