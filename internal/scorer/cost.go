package scorer

import (
	"github.com/corterix/gateway/internal/pricing"
	"github.com/corterix/gateway/pkg/modelapi"
)

// CostScorer ranks candidates by estimated request cost, cheaper scoring
// higher. It implements spec.md §4.4's Cost scorer: a token-cost term
// derived from the request's declared maxTokens under a fixed 30/70
// input/output split, plus a compute-cost term keyed by the model's
// declared execution engine and size in GB.
type CostScorer struct {
	calc *pricing.Calculator
}

func NewCostScorer(table []pricing.ModelPricing) *CostScorer {
	return &CostScorer{calc: pricing.NewCalculator(table)}
}

// Score returns a higher-is-better value: 1/(1+cost) so a free/cheap model
// approaches 1 and an expensive one approaches 0, keeping the scale
// comparable to QualityScorer's [0,1] range for Balanced blending.
func (s *CostScorer) Score(m modelapi.Model, maxTokens int) float64 {
	return 1.0 / (1.0 + s.EstimateCost(m, maxTokens))
}

// EstimateCost returns the raw estimated USD cost for a request against m,
// per spec.md §4.4: token-cost from maxTokens (30% input / 70% output),
// summed with engine-keyed compute-cost (hourly rate per declared GB). This
// is a relative ranking signal only, never billed.
func (s *CostScorer) EstimateCost(m modelapi.Model, maxTokens int) float64 {
	params := m.Parameters()
	return s.calc.CalculateFromRequirements(m.ID(), maxTokens, params.Engine, params.SizeGB)
}
