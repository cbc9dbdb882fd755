package pricing

import (
	"strings"

	"github.com/corterix/gateway/pkg/modelapi"
)

// ModelPricing defines the pricing for a model.
type ModelPricing struct {
	Model           string  // model name or wildcard pattern, e.g. "gpt-4*"
	InputCostPer1K  float64 // USD per 1000 input tokens
	OutputCostPer1K float64 // USD per 1000 output tokens
	ComputeHourly   float64 // USD per hour of dedicated compute, for self-hosted models
}

// expectedTokensFallback is the maxTokens assumed when a request declares
// none, so the token-cost term still produces a meaningful relative ranking.
const expectedTokensFallback = 1024

// tokenInputShare and tokenOutputShare are the fixed 30/70 input/output
// split spec.md §4.4's token-cost formula assumes.
const (
	tokenInputShare  = 0.3
	tokenOutputShare = 0.7
)

// DefaultComputeRates is the hourly USD-per-declared-GB rate for each
// execution engine, used by the Cost scorer's compute-cost term. Engines
// closer to the caller (in-browser WebGPU/WASM) are assumed to run on
// hardware the caller already owns, so their rates are far below a
// dedicated cloud GPU's.
var DefaultComputeRates = map[modelapi.ExecutionEngine]float64{
	modelapi.EngineWebGPU: 0.01,
	modelapi.EngineWASM:   0.02,
	modelapi.EngineEdge:   0.12,
	modelapi.EngineNode:   0.35,
	modelapi.EngineCloud:  2.50,
}

// DefaultPricing contains default pricing for common models.
// Prices are in USD per 1000 tokens, as of 2024.
var DefaultPricing = []ModelPricing{
	// OpenAI GPT-4 models
	{Model: "gpt-4o", InputCostPer1K: 0.005, OutputCostPer1K: 0.015},
	{Model: "gpt-4o-mini", InputCostPer1K: 0.00015, OutputCostPer1K: 0.0006},
	{Model: "gpt-4-turbo*", InputCostPer1K: 0.01, OutputCostPer1K: 0.03},
	{Model: "gpt-4*", InputCostPer1K: 0.03, OutputCostPer1K: 0.06}, // Fallback for gpt-4
	{Model: "gpt-3.5-turbo", InputCostPer1K: 0.0005, OutputCostPer1K: 0.0015},

	// Anthropic Claude models
	{Model: "claude-3-5-sonnet*", InputCostPer1K: 0.003, OutputCostPer1K: 0.015},
	{Model: "claude-3-opus*", InputCostPer1K: 0.015, OutputCostPer1K: 0.075},
	{Model: "claude-3-sonnet*", InputCostPer1K: 0.003, OutputCostPer1K: 0.015},
	{Model: "claude-3-haiku*", InputCostPer1K: 0.00025, OutputCostPer1K: 0.00125},
	{Model: "claude-2*", InputCostPer1K: 0.008, OutputCostPer1K: 0.024},

	// Google Gemini models
	{Model: "gemini-1.5-pro*", InputCostPer1K: 0.00125, OutputCostPer1K: 0.005},
	{Model: "gemini-1.5-flash*", InputCostPer1K: 0.000075, OutputCostPer1K: 0.0003},
	{Model: "gemini-pro*", InputCostPer1K: 0.0005, OutputCostPer1K: 0.0015},

	// DeepSeek models
	{Model: "deepseek-chat", InputCostPer1K: 0.00014, OutputCostPer1K: 0.00028},
	{Model: "deepseek-coder", InputCostPer1K: 0.00014, OutputCostPer1K: 0.00028},

	// Meta Llama models (via providers)
	{Model: "llama-3*", InputCostPer1K: 0.0002, OutputCostPer1K: 0.0002},
	{Model: "llama-2*", InputCostPer1K: 0.0002, OutputCostPer1K: 0.0002},

	// Mistral models
	{Model: "mistral-large*", InputCostPer1K: 0.004, OutputCostPer1K: 0.012},
	{Model: "mistral-medium*", InputCostPer1K: 0.0027, OutputCostPer1K: 0.0081},
	{Model: "mistral-small*", InputCostPer1K: 0.001, OutputCostPer1K: 0.003},
	{Model: "mixtral-8x7b*", InputCostPer1K: 0.0007, OutputCostPer1K: 0.0007},

	// Cohere models
	{Model: "command-r-plus*", InputCostPer1K: 0.003, OutputCostPer1K: 0.015},
	{Model: "command-r*", InputCostPer1K: 0.0005, OutputCostPer1K: 0.0015},
	{Model: "command*", InputCostPer1K: 0.001, OutputCostPer1K: 0.002},
}

// Calculator calculates the cost of API usage.
type Calculator struct {
	pricing      map[string]ModelPricing
	computeRates map[modelapi.ExecutionEngine]float64
}

// NewCalculator creates a new pricing calculator.
// If no pricing is provided, uses DefaultPricing.
func NewCalculator(pricing []ModelPricing) *Calculator {
	if pricing == nil {
		pricing = DefaultPricing
	}

	c := &Calculator{
		pricing:      make(map[string]ModelPricing),
		computeRates: DefaultComputeRates,
	}

	for _, p := range pricing {
		c.pricing[p.Model] = p
	}

	return c
}

// Calculate returns the cost for the given model and token counts.
// Returns 0 if the model is not found in the pricing data.
func (c *Calculator) Calculate(model string, inputTokens, outputTokens int) float64 {
	pricing, ok := c.findPricing(model)
	if !ok {
		return 0 // Unknown model, return 0
	}

	inputCost := float64(inputTokens) / 1000.0 * pricing.InputCostPer1K
	outputCost := float64(outputTokens) / 1000.0 * pricing.OutputCostPer1K

	return inputCost + outputCost
}

// ComputeCost returns the hourly compute cost for a model of sizeGB running
// under engine, per spec.md §4.4's "hourly rate table keyed by declared
// execution engine ... times model-size-in-GB." An unrecognized engine falls
// back to the cloud rate, the most conservative (highest) of the table.
func (c *Calculator) ComputeCost(engine modelapi.ExecutionEngine, sizeGB int64) float64 {
	rate, ok := c.computeRates[engine]
	if !ok {
		rate = c.computeRates[modelapi.EngineCloud]
	}
	return rate * float64(sizeGB)
}

// CalculateFromRequirements implements spec.md §4.4's Cost scorer formula:
// estimate expected-tokens from maxTokens (falling back to a fixed default
// when unset), split 30% input / 70% output, scale by expected-tokens per
// million, and add the engine-keyed compute-cost term.
func (c *Calculator) CalculateFromRequirements(model string, maxTokens int, engine modelapi.ExecutionEngine, sizeGB int64) float64 {
	p, _ := c.findPricing(model)

	expectedTokens := maxTokens
	if expectedTokens <= 0 {
		expectedTokens = expectedTokensFallback
	}

	inputPerMillion := p.InputCostPer1K * 1000
	outputPerMillion := p.OutputCostPer1K * 1000
	tokenCost := (inputPerMillion*tokenInputShare + outputPerMillion*tokenOutputShare) * (float64(expectedTokens) / 1_000_000.0)

	return tokenCost + c.ComputeCost(engine, sizeGB)
}

// findPricing finds the pricing for a model, supporting wildcards.
// Tries exact match first, then wildcard matching.
func (c *Calculator) findPricing(model string) (ModelPricing, bool) {
	// Normalize model name to lowercase for comparison
	modelLower := strings.ToLower(model)

	// 1. Try exact match first
	for pattern, p := range c.pricing {
		if strings.EqualFold(pattern, model) {
			return p, true
		}
	}

	// 2. Try wildcard matching (prefix matching)
	// The longest matching prefix wins, so the most specific pattern applies
	var bestMatch *ModelPricing
	var bestMatchLen int

	for pattern, p := range c.pricing {
		if strings.HasSuffix(pattern, "*") {
			prefix := strings.ToLower(strings.TrimSuffix(pattern, "*"))
			if strings.HasPrefix(modelLower, prefix) {
				// Keep the longest matching prefix
				if len(prefix) > bestMatchLen {
					pCopy := p
					bestMatch = &pCopy
					bestMatchLen = len(prefix)
				}
			}
		}
	}

	if bestMatch != nil {
		return *bestMatch, true
	}

	return ModelPricing{}, false
}

// AddPricing adds or updates pricing for a specific model.
func (c *Calculator) AddPricing(pricing ModelPricing) {
	c.pricing[pricing.Model] = pricing
}

// GetPricing retrieves the pricing for a model.
// Returns the pricing and true if found, zero pricing and false otherwise.
func (c *Calculator) GetPricing(model string) (ModelPricing, bool) {
	return c.findPricing(model)
}
