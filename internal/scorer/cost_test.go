package scorer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corterix/gateway/internal/pricing"
	"github.com/corterix/gateway/pkg/modelapi"
)

func TestCostScorer_EstimateCost_UsesMaxTokensNotPromptTokens(t *testing.T) {
	s := NewCostScorer([]pricing.ModelPricing{
		{Model: "m", InputCostPer1K: 1.0, OutputCostPer1K: 1.0},
	})
	m := &fakeQualityModel{id: "m", params: modelapi.Parameters{Engine: modelapi.EngineNode, SizeGB: 1}}

	small := s.EstimateCost(m, 1000)
	large := s.EstimateCost(m, 1_000_000)
	require.Greater(t, large, small)
}

func TestCostScorer_EstimateCost_IncludesComputeCost(t *testing.T) {
	s := NewCostScorer([]pricing.ModelPricing{
		{Model: "m", InputCostPer1K: 0.01, OutputCostPer1K: 0.01},
	})
	cheap := &fakeQualityModel{id: "m", params: modelapi.Parameters{Engine: modelapi.EngineWebGPU, SizeGB: 4}}
	expensive := &fakeQualityModel{id: "m", params: modelapi.Parameters{Engine: modelapi.EngineCloud, SizeGB: 4}}

	require.Greater(t, s.EstimateCost(expensive, 1000), s.EstimateCost(cheap, 1000))
}

func TestCostScorer_Score_CheaperModelScoresHigher(t *testing.T) {
	s := NewCostScorer([]pricing.ModelPricing{
		{Model: "cheap", InputCostPer1K: 0.0001, OutputCostPer1K: 0.0001},
		{Model: "pricey", InputCostPer1K: 1.0, OutputCostPer1K: 1.0},
	})
	cheap := &fakeQualityModel{id: "cheap", params: modelapi.Parameters{Engine: modelapi.EngineWebGPU, SizeGB: 1}}
	pricey := &fakeQualityModel{id: "pricey", params: modelapi.Parameters{Engine: modelapi.EngineCloud, SizeGB: 1}}

	require.Greater(t, s.Score(cheap, 1000), s.Score(pricey, 1000))
}

func TestCostScorer_Score_UnknownModelStillPricesCompute(t *testing.T) {
	s := NewCostScorer([]pricing.ModelPricing{})
	m := &fakeQualityModel{id: "unknown", params: modelapi.Parameters{Engine: modelapi.EngineCloud, SizeGB: 10}}

	score := s.Score(m, 1000)
	require.Greater(t, score, 0.0)
	require.Less(t, score, 1.0)
}
