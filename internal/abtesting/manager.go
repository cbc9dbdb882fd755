package abtesting

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/corterix/gateway/internal/eventbus"
	"github.com/corterix/gateway/pkg/ferrors"
)

const allocationTolerance = 1e-3

// experimentState bundles an Experiment definition with its assignment table
// and per-variant event buffers, one mutex per experiment so unrelated
// experiments never contend.
type experimentState struct {
	mu sync.Mutex

	exp Experiment

	assignments map[string]Assignment // userID -> Assignment
	events      map[string][]eventRecord // variant name -> events
}

// Manager owns the full set of experiments.
type Manager struct {
	bus *eventbus.Bus
	log *slog.Logger

	mu   sync.RWMutex
	byID map[string]*experimentState
}

// New constructs a Manager.
func New(bus *eventbus.Bus, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if bus == nil {
		bus = eventbus.New(log)
	}
	return &Manager{bus: bus, log: log, byID: make(map[string]*experimentState)}
}

// CreateExperiment validates variants, allocations, and metric names, then
// registers exp in Draft status.
func (m *Manager) CreateExperiment(exp Experiment) (*Experiment, error) {
	if exp.ID == "" || exp.Name == "" {
		return nil, ferrors.NewInvalidRequestError("experiment id and name are required")
	}
	if len(exp.Variants) < 2 {
		return nil, ferrors.NewInvalidRequestError("experiment requires at least 2 variants")
	}
	var sum float64
	for _, v := range exp.Variants {
		if v.Name == "" {
			return nil, ferrors.NewInvalidRequestError("variant name cannot be empty")
		}
		sum += v.Allocation
	}
	if math.Abs(sum-1.0) > allocationTolerance {
		return nil, ferrors.NewInvalidRequestError(fmt.Sprintf("variant allocations must sum to 1 (±%.0e), got %f", allocationTolerance, sum))
	}
	if exp.PrimaryMetric == "" {
		return nil, ferrors.NewInvalidRequestError("primary metric is required")
	}
	if exp.TrafficPercentage < 0 || exp.TrafficPercentage > 100 {
		return nil, ferrors.NewInvalidRequestError("traffic percentage must be within [0,100]")
	}
	if exp.Splitting == "" {
		exp.Splitting = SplitRandomHash
	}

	exp.Status = StatusDraft
	exp.CreatedAt = time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byID[exp.ID]; exists {
		return nil, ferrors.NewInvalidRequestError("experiment already exists: " + exp.ID)
	}
	m.byID[exp.ID] = &experimentState{
		exp:         exp,
		assignments: make(map[string]Assignment),
		events:      make(map[string][]eventRecord),
	}
	expCopy := exp
	return &expCopy, nil
}

func (m *Manager) get(id string) (*experimentState, error) {
	m.mu.RLock()
	state, ok := m.byID[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ferrors.NewInvalidRequestError("unknown experiment: " + id)
	}
	return state, nil
}

func (m *Manager) transition(ctx context.Context, id string, allowed map[Status]bool, next Status, eventName string) (*Experiment, error) {
	state, err := m.get(id)
	if err != nil {
		return nil, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	if !allowed[state.exp.Status] {
		return nil, ferrors.NewInvalidRequestError(fmt.Sprintf("cannot transition experiment %q from %s to %s", id, state.exp.Status, next))
	}
	state.exp.Status = next
	now := time.Now()
	switch next {
	case StatusRunning:
		if state.exp.StartedAt == nil {
			state.exp.StartedAt = &now
		}
	case StatusCompleted, StatusArchived:
		state.exp.StoppedAt = &now
	}

	if eventName != "" {
		m.bus.Publish(ctx, eventbus.Event{Name: eventName, Fields: map[string]any{"experiment_id": id}})
	}
	expCopy := state.exp
	return &expCopy, nil
}

// Start transitions a Draft experiment to Running.
func (m *Manager) Start(ctx context.Context, id string) (*Experiment, error) {
	return m.transition(ctx, id, map[Status]bool{StatusDraft: true}, StatusRunning, eventbus.EventExperimentStart)
}

// Pause transitions a Running experiment to Paused.
func (m *Manager) Pause(ctx context.Context, id string) (*Experiment, error) {
	return m.transition(ctx, id, map[Status]bool{StatusRunning: true}, StatusPaused, "")
}

// Resume transitions a Paused experiment back to Running.
func (m *Manager) Resume(ctx context.Context, id string) (*Experiment, error) {
	return m.transition(ctx, id, map[Status]bool{StatusPaused: true}, StatusRunning, eventbus.EventExperimentStart)
}

// Stop transitions a Running or Paused experiment to Completed, a terminal
// state; the caller is responsible for pulling final per-variant stats via
// Stats before doing so if they need them.
func (m *Manager) Stop(ctx context.Context, id string) (*Experiment, error) {
	return m.transition(ctx, id, map[Status]bool{StatusRunning: true, StatusPaused: true}, StatusCompleted, eventbus.EventExperimentStop)
}

// Archive moves a Completed experiment to the terminal Archived state.
func (m *Manager) Archive(ctx context.Context, id string) (*Experiment, error) {
	return m.transition(ctx, id, map[Status]bool{StatusCompleted: true}, StatusArchived, "")
}

// AssignUser admits userID into every Running experiment whose traffic
// percentage and targeting rules pass, returning the resulting Assignments.
// Assignment is deterministic: a fixed (experiment.id, userID, reqCtx) always
// yields the same variant while the experiment stays Running.
func (m *Manager) AssignUser(ctx context.Context, userID string, reqCtx RequestContext) []Assignment {
	m.mu.RLock()
	states := make([]*experimentState, 0, len(m.byID))
	for _, s := range m.byID {
		states = append(states, s)
	}
	m.mu.RUnlock()

	var out []Assignment
	for _, state := range states {
		a, ok := m.assignOne(ctx, state, userID, reqCtx)
		if ok {
			out = append(out, a)
		}
	}
	return out
}

func (m *Manager) assignOne(ctx context.Context, state *experimentState, userID string, reqCtx RequestContext) (Assignment, bool) {
	state.mu.Lock()
	defer state.mu.Unlock()

	if state.exp.Status != StatusRunning {
		return Assignment{}, false
	}

	if existing, ok := state.assignments[userID]; ok {
		return existing, true
	}

	h := bucketValue(userID, state.exp.ID)
	if h >= state.exp.TrafficPercentage/100.0 {
		return Assignment{}, false
	}
	if !matchesTargeting(state.exp.Targeting, reqCtx) {
		return Assignment{}, false
	}

	variant, ok := m.pickVariant(state.exp, h, reqCtx)
	if !ok {
		return Assignment{}, false
	}

	a := Assignment{ExperimentID: state.exp.ID, UserID: userID, Variant: variant, AssignedAt: time.Now()}
	state.assignments[userID] = a
	m.log.DebugContext(ctx, "user assigned to variant", "experiment_id", state.exp.ID, "user_id", userID, "variant", variant)

	m.bus.Publish(ctx, eventbus.Event{
		Name: eventbus.EventAssignmentTrack,
		Fields: map[string]any{
			"experiment_id": state.exp.ID,
			"user_id":       userID,
			"variant":       variant,
		},
	})
	return a, true
}

func (m *Manager) pickVariant(exp Experiment, h float64, reqCtx RequestContext) (string, bool) {
	switch exp.Splitting {
	case SplitWeighted:
		allocations := renormalizedAllocations(exp, reqCtx)
		return cumulativeWalk(exp.Variants, allocations, h), true
	case SplitGeographic:
		if v, ok := geoOverride(exp, reqCtx); ok {
			return v, true
		}
		return cumulativeWalk(exp.Variants, nil, h), true
	case SplitTemporal:
		if v, ok := temporalOverride(exp, reqCtx); ok {
			return v, true
		}
		return cumulativeWalk(exp.Variants, nil, h), true
	default: // SplitRandomHash
		return cumulativeWalk(exp.Variants, nil, h), true
	}
}

// renormalizedAllocations applies exp.SegmentWeights for the segment named in
// reqCtx["userSegment"] (if any), then re-normalizes so the result sums to 1
// — fixing the source's bug of adjusting without re-normalizing, which let
// allocations drift away from summing to 1 after a segment adjustment.
func renormalizedAllocations(exp Experiment, reqCtx RequestContext) map[string]float64 {
	adjusted := make(map[string]float64, len(exp.Variants))
	for _, v := range exp.Variants {
		adjusted[v.Name] = v.Allocation
	}

	segment, _ := reqCtx[contextKeyUserSegment].(string)
	if segment != "" {
		if weights, ok := exp.SegmentWeights[segment]; ok {
			for name, base := range adjusted {
				if w, ok := weights[name]; ok {
					adjusted[name] = base * w
				}
			}
		}
	}

	var total float64
	for _, v := range adjusted {
		total += v
	}
	if total <= 0 {
		return adjusted
	}
	for name := range adjusted {
		adjusted[name] /= total
	}
	return adjusted
}

// cumulativeWalk walks variants in declaration order and returns the first
// variant whose cumulative allocation is >= h. overrides, if non-nil,
// replaces each variant's base Allocation (used by the weighted path after
// re-normalization); nil means use the base allocations directly.
func cumulativeWalk(variants []Variant, overrides map[string]float64, h float64) string {
	var cumulative float64
	for _, v := range variants {
		share := v.Allocation
		if overrides != nil {
			share = overrides[v.Name]
		}
		cumulative += share
		if cumulative >= h {
			return v.Name
		}
	}
	// Floating-point drift in the allocation sum can leave the final
	// cumulative just under h; the last variant absorbs the remainder.
	if len(variants) > 0 {
		return variants[len(variants)-1].Name
	}
	return ""
}

func geoOverride(exp Experiment, reqCtx RequestContext) (string, bool) {
	region, _ := reqCtx["region"].(string)
	if region == "" {
		return "", false
	}
	if !exp.variantNames()[region] {
		return "", false
	}
	return region, true
}

func temporalOverride(exp Experiment, reqCtx RequestContext) (string, bool) {
	// No temporal rule table is modeled beyond the fallback contract; every
	// call falls through to hash-based selection.
	return "", false
}

// TrackEvent appends eventName to the calling user's assigned variant's event
// buffer in every experiment where the user has a live assignment and
// eventName matches the primary metric or one of the secondary metrics.
func (m *Manager) TrackEvent(ctx context.Context, userID, eventName string, data map[string]any) {
	m.mu.RLock()
	states := make([]*experimentState, 0, len(m.byID))
	for _, s := range m.byID {
		states = append(states, s)
	}
	m.mu.RUnlock()

	for _, state := range states {
		state.mu.Lock()
		a, ok := state.assignments[userID]
		if ok && isTrackedMetric(state.exp, eventName) {
			state.events[a.Variant] = append(state.events[a.Variant], eventRecord{
				At: time.Now(), UserID: userID, Name: eventName, Data: data,
			})
		}
		state.mu.Unlock()
	}

	m.bus.Publish(ctx, eventbus.Event{Name: eventbus.EventTracked, Fields: map[string]any{"user_id": userID, "event": eventName}})
}

func isTrackedMetric(exp Experiment, eventName string) bool {
	if eventName == exp.PrimaryMetric {
		return true
	}
	for _, sm := range exp.SecondaryMetrics {
		if sm == eventName {
			return true
		}
	}
	return false
}

// VariantEventCounts returns the raw per-variant event count for eventName —
// determining a statistically significant "winner" is out of scope; callers
// consume these raw counts with their own analysis.
func (m *Manager) VariantEventCounts(experimentID, eventName string) (map[string]int, error) {
	state, err := m.get(experimentID)
	if err != nil {
		return nil, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	counts := make(map[string]int)
	for variant, events := range state.events {
		for _, e := range events {
			if e.Name == eventName {
				counts[variant]++
			}
		}
	}
	return counts, nil
}

// Overrides returns the variant-declared parameter overrides for an
// assignment, merged by the Orchestrator into the request before it reaches
// the Router.
func (m *Manager) Overrides(experimentID, variant string) (map[string]any, error) {
	state, err := m.get(experimentID)
	if err != nil {
		return nil, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	for _, v := range state.exp.Variants {
		if v.Name == variant {
			return v.Overrides, nil
		}
	}
	return nil, nil
}
