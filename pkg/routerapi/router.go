// Package routerapi is the public contract for model selection. Concrete
// strategy implementations and the route cache live in internal/router,
// mirroring the pkg/router vs internal/router split the teacher uses
// (pkg/router/router.go re-exporting the richer internal/router.Router).
package routerapi

import (
	"context"
	"time"

	"github.com/corterix/gateway/pkg/modelapi"
)

// Strategy selects how the Router ranks and picks among candidates.
type Strategy string

const (
	StrategyQualityFirst    Strategy = "quality-first"
	StrategyCostOptimized   Strategy = "cost-optimized"
	StrategySpeedPriority   Strategy = "speed-priority"
	StrategyBalanced        Strategy = "balanced"
	StrategyRoundRobin      Strategy = "round-robin"
	StrategyLeastLoaded     Strategy = "least-loaded"
	StrategyCapabilityMatch Strategy = "capability-match"
	StrategyRandom          Strategy = "random"
)

// Requirements narrows the candidate set before scoring, mirroring spec.md
// §6's logical request shape (`capabilities`, `format`, `maxSize`) and the
// teacher's tag-based filtering (internal/router/base.go: filterByTags).
type Requirements struct {
	Task             string
	RequiredTags     []string
	MinContextWindow int
	RequireStreaming bool
	RequireEmbedding bool

	// RequiredCapabilities lists additional capabilities (beyond the
	// RequireStreaming/RequireEmbedding convenience fields) every candidate
	// must support, per spec.md §4.3 step 3.
	RequiredCapabilities []modelapi.Capability
	// Format, when set, must match a candidate's declared Format exactly.
	Format string
	// MaxSize, when set, is a parameter-count ceiling: a candidate's
	// declared Parameters().Count must not exceed it.
	MaxSize int64
	// MaxTokens is the requested generation's declared output budget, used
	// by the Cost scorer's token-cost estimate.
	MaxTokens int
}

// SelectRequest is the input to Router.Select.
type SelectRequest struct {
	Prompt       string
	PromptTokens int
	Strategy     Strategy
	Requirements Requirements
}

// Decision is the outcome of a Select call.
type Decision struct {
	Model    modelapi.Model
	Strategy Strategy
	Cached   bool
	Score    float64
}

// Router selects the best candidate Model for a request.
type Router interface {
	Select(ctx context.Context, req SelectRequest) (Decision, error)
	ReportOutcome(ctx context.Context, modelID string, latency time.Duration, ttft time.Duration, failed bool)
}
