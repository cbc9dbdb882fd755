package corterix

import (
	"github.com/corterix/gateway/pkg/modelapi"
	"github.com/corterix/gateway/pkg/routerapi"
)

// Requirements narrows model selection, mirroring spec.md §6's logical
// request shape (`capabilities`, `format`, `maxSize`, `preferredModel`).
type Requirements struct {
	Task             string
	RequiredTags     []string
	MinContextWindow int
	RequireStreaming bool
	RequireEmbedding bool
	// Capabilities lists additional capabilities, beyond RequireStreaming/
	// RequireEmbedding, every candidate must support.
	Capabilities []modelapi.Capability
	// Format, when set, must match a candidate's declared Format exactly.
	Format string
	// MaxSize, when set, is a parameter-count ceiling: a candidate's
	// declared parameter count must not exceed it.
	MaxSize int64
	// MaxTokens is the requested generation's declared output budget, used
	// by the Cost scorer's token-cost estimate.
	MaxTokens int
	// PreferredModel, when set, is access- and quota-checked against the
	// requesting tenant before selection; it does not bypass Router.Select.
	PreferredModel string
}

func (r Requirements) toRouter() routerapi.Requirements {
	return routerapi.Requirements{
		Task:                 r.Task,
		RequiredTags:         r.RequiredTags,
		MinContextWindow:     r.MinContextWindow,
		RequireStreaming:     r.RequireStreaming,
		RequireEmbedding:     r.RequireEmbedding,
		RequiredCapabilities: r.Capabilities,
		Format:               r.Format,
		MaxSize:              r.MaxSize,
		MaxTokens:            r.MaxTokens,
	}
}

// RequestContext carries the caller identity and execution mode, mirroring
// spec.md §6's `context: { userId?, tenantId?, mode? }`.
type RequestContext struct {
	UserID   string
	TenantID string
	Mode     string // realtime, normal, batch

	// Extra feeds ABTesting targeting rules and weighted-segment lookup
	// (e.g. "userSegment", "country").
	Extra map[string]any
}

// Request is the logical, transport-agnostic inference request described
// by spec.md §6.
type Request struct {
	Prompt       string
	Requirements Requirements
	Options      Options
	Context      RequestContext

	// FallbackChain is an ordered sequence of model IDs the Orchestrator
	// attempts, in order, after the primary selection fails with a
	// non-policy error.
	FallbackChain []string

	Strategy Strategy
}

// Response is the logical non-streaming response shape from spec.md §6.
type Response struct {
	Text          string
	Tokens        int
	ModelID       string
	DurationMs    int64
	Cached        bool
	FallbacksUsed int
}

// StreamChunk is one unit of a streamed Response, per spec.md §6: a
// terminator chunk carries Finished=true and, once known, FullResponseLen.
type StreamChunk struct {
	Text            string
	Finished        bool
	Error           string
	FullResponseLen int
}

// StreamHandle is a pull-based iterator over StreamChunks.
type StreamHandle interface {
	Recv() (StreamChunk, error)
	Close() error
}
