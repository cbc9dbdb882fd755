// Package abtesting implements experiment/variant definitions, deterministic
// user assignment, and per-variant event tracking. Hash-based bucketing is
// grounded on client.go's buildRateLimitKey key-construction style,
// generalized to a SHA-256 digest for a uniform [0,1) admission/bucketing
// value. Weighted-splitting re-normalization fixes the non-renormalizing
// allocation bug flagged against the source implementation.
package abtesting

import "time"

// Status is the lifecycle stage of an Experiment.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusArchived  Status = "archived"
)

// SplitAlgorithm selects how a variant is picked once a user is admitted.
type SplitAlgorithm string

const (
	SplitRandomHash SplitAlgorithm = "random-hash"
	SplitWeighted   SplitAlgorithm = "weighted"
	SplitGeographic SplitAlgorithm = "geographic"
	SplitTemporal   SplitAlgorithm = "temporal"
)

// Variant is one arm of an Experiment.
type Variant struct {
	Name       string
	Allocation float64 // normalized share in [0,1]; all variants sum to 1
	// Overrides are merged into the request (routing strategy, generation
	// parameters) once this variant is assigned, before the request reaches
	// the Router.
	Overrides map[string]any
}

// Experiment is a single A/B test definition.
type Experiment struct {
	ID                string
	Name              string
	Status            Status
	TrafficPercentage float64 // 0-100
	Splitting         SplitAlgorithm
	Variants          []Variant
	PrimaryMetric     string
	SecondaryMetrics  []string
	Targeting         Rule // boolean-expression AST, nil means "always match"

	// SegmentWeights optionally adjusts per-segment allocation before
	// re-normalization for SplitWeighted, keyed by context.userSegment value,
	// then by variant name.
	SegmentWeights map[string]map[string]float64

	CreatedAt time.Time
	StartedAt *time.Time
	StoppedAt *time.Time
}

func (e *Experiment) variantNames() map[string]bool {
	names := make(map[string]bool, len(e.Variants))
	for _, v := range e.Variants {
		names[v.Name] = true
	}
	return names
}

// Assignment is the deterministic outcome of bucketing one user into one
// variant of one experiment.
type Assignment struct {
	ExperimentID string
	UserID       string
	Variant      string
	AssignedAt   time.Time
}

// eventRecord is a single trackEvent occurrence appended to a variant's
// event buffer.
type eventRecord struct {
	At     time.Time
	UserID string
	Name   string
	Data   map[string]any
}

// RequestContext is the subset of request context available to targeting
// rules and weighted-segment adjustment.
type RequestContext map[string]any

const (
	contextKeyUserSegment = "userSegment"
)
