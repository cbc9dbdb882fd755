package tenancy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/corterix/gateway/internal/eventbus"
	"github.com/corterix/gateway/pkg/ferrors"
)

// BillingRates are the per-unit cost coefficients used to price a recorded
// Usage, grounded on internal/pricing/calculator.go's linear cost model.
type BillingRates struct {
	PerRequest     float64
	PerToken       float64
	PerComputeUnit float64
}

// Config configures a Manager.
type Config struct {
	EnableBilling bool
	Rates         BillingRates
	// DefaultQuotas seed newly created tenants that don't specify their own.
	DefaultQuotas map[QuotaType]int64
}

// tenantState is the mutable per-tenant record, guarded by its own mutex so
// that unrelated tenants never contend, grounded on internal/router/base.go's
// per-deployment critical sections and internal/cache/memory.go's map
// discipline.
type tenantState struct {
	mu sync.Mutex

	tenant Tenant

	gauges     map[QuotaType]int64
	histories  map[string][]usageEvent // keyed by baseQuantity()
	assigned   map[string]struct{}
	fastGate   *rate.Limiter
}

// Manager owns the full set of tenants and is the only component that
// mutates tenant/quota/billing state.
type Manager struct {
	cfg  Config
	bus  *eventbus.Bus
	log  *slog.Logger
	mu   sync.RWMutex
	byID map[string]*tenantState

	billingMu sync.Mutex
	billing   []BillingEvent
}

// New constructs a Manager.
func New(cfg Config, bus *eventbus.Bus, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if bus == nil {
		bus = eventbus.New(log)
	}
	return &Manager{cfg: cfg, bus: bus, log: log, byID: make(map[string]*tenantState)}
}

func newFastGate(rpm int64) *rate.Limiter {
	if rpm <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := int(rpm)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst)
}

// CreateTenant validates and registers a new tenant, initializing its usage
// counters atomically with the tenant record itself.
func (m *Manager) CreateTenant(ctx context.Context, req CreateRequest) (*Tenant, error) {
	if req.ID == "" || req.Name == "" {
		return nil, ferrors.NewInvalidRequestError("tenant id and name are required")
	}
	if req.Isolation == "" {
		req.Isolation = IsolationShared
	}
	if !req.Isolation.valid() {
		return nil, ferrors.NewInvalidRequestError("invalid isolation mode: " + string(req.Isolation))
	}
	quotas := map[QuotaType]int64{}
	for k, v := range m.cfg.DefaultQuotas {
		quotas[k] = v
	}
	for k, v := range req.Quotas {
		if !allQuotaTypes[k] {
			return nil, ferrors.NewInvalidRequestError("unknown quota type: " + string(k))
		}
		if v < 0 {
			return nil, ferrors.NewInvalidRequestError("quota values must be non-negative")
		}
		quotas[k] = v
	}

	m.mu.Lock()
	if _, exists := m.byID[req.ID]; exists {
		m.mu.Unlock()
		return nil, ferrors.NewInvalidRequestError("tenant already exists: " + req.ID)
	}
	state := &tenantState{
		tenant: Tenant{
			ID:        req.ID,
			Name:      req.Name,
			Isolation: req.Isolation,
			Quotas:    quotas,
			Metadata:  req.Metadata,
			Status:    StatusActive,
			CreatedAt: time.Now(),
		},
		gauges:    make(map[QuotaType]int64),
		histories: make(map[string][]usageEvent),
		assigned:  make(map[string]struct{}),
		fastGate:  newFastGate(quotas[QuotaRequestsPerMinute]),
	}
	m.byID[req.ID] = state
	m.mu.Unlock()

	m.bus.Publish(ctx, eventbus.Event{Name: eventbus.EventTenantCreated, TenantID: req.ID})

	tCopy := state.tenant
	return &tCopy, nil
}

func (m *Manager) get(tenantID string) (*tenantState, error) {
	m.mu.RLock()
	state, ok := m.byID[tenantID]
	m.mu.RUnlock()
	if !ok {
		return nil, ferrors.NewInvalidRequestError("unknown tenant: " + tenantID)
	}
	return state, nil
}

// UpdateTenant merges patch into the tenant record, re-initializing the
// rate-limiter fast gate if RequestsPerMinute changed.
func (m *Manager) UpdateTenant(ctx context.Context, tenantID string, patch Patch) (*Tenant, error) {
	state, err := m.get(tenantID)
	if err != nil {
		return nil, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	if patch.Name != nil {
		state.tenant.Name = *patch.Name
	}
	if patch.Isolation != nil {
		if !patch.Isolation.valid() {
			return nil, ferrors.NewInvalidRequestError("invalid isolation mode: " + string(*patch.Isolation))
		}
		state.tenant.Isolation = *patch.Isolation
	}
	if patch.Status != nil {
		state.tenant.Status = *patch.Status
	}
	if patch.Metadata != nil {
		state.tenant.Metadata = patch.Metadata
	}
	if patch.Quotas != nil {
		for k, v := range patch.Quotas {
			if !allQuotaTypes[k] {
				return nil, ferrors.NewInvalidRequestError("unknown quota type: " + string(k))
			}
			if v < 0 {
				return nil, ferrors.NewInvalidRequestError("quota values must be non-negative")
			}
			state.tenant.Quotas[k] = v
		}
		state.fastGate = newFastGate(state.tenant.Quotas[QuotaRequestsPerMinute])
	}

	tCopy := state.tenant
	m.bus.Publish(ctx, eventbus.Event{Name: eventbus.EventTenantUpdated, TenantID: tenantID})
	return &tCopy, nil
}

// DeleteTenant releases the tenant's counters, assignments, and fast gate.
func (m *Manager) DeleteTenant(ctx context.Context, tenantID string) error {
	m.mu.Lock()
	if _, ok := m.byID[tenantID]; !ok {
		m.mu.Unlock()
		return ferrors.NewInvalidRequestError("unknown tenant: " + tenantID)
	}
	delete(m.byID, tenantID)
	m.mu.Unlock()

	m.bus.Publish(ctx, eventbus.Event{Name: eventbus.EventTenantDeleted, TenantID: tenantID})
	return nil
}

// CheckModelAccess reports whether tenantID may use modelID, given whether
// modelID belongs to the shared pool (the caller determines pool membership;
// the Gateway's admit passes true for every requested model; this
// package only tracks the tenant-assignment half of the decision per §3's
// isolation semantics).
func (m *Manager) CheckModelAccess(tenantID, modelID string, inSharedPool bool) (bool, error) {
	state, err := m.get(tenantID)
	if err != nil {
		return false, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	_, assigned := state.assigned[modelID]
	switch state.tenant.Isolation {
	case IsolationStrict:
		return assigned, nil
	case IsolationShared:
		return assigned || inSharedPool, nil
	case IsolationHybrid:
		return assigned || inSharedPool, nil
	default:
		return false, nil
	}
}

// AssignModelToTenant grants tenantID access to modelID, failing if the
// tenant's current assignment count already equals its ModelCount quota.
func (m *Manager) AssignModelToTenant(ctx context.Context, tenantID, modelID string) error {
	state, err := m.get(tenantID)
	if err != nil {
		return err
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	if limit, ok := state.tenant.Quotas[QuotaModelCount]; ok {
		if int64(len(state.assigned)) >= limit {
			if _, already := state.assigned[modelID]; !already {
				qerr := ferrors.NewQuotaExceededError(tenantID, "model count quota exceeded")
				qerr.Fields = map[string]any{"type": QuotaModelCount, "used": int64(len(state.assigned)), "limit": limit}
				return qerr
			}
		}
	}
	state.assigned[modelID] = struct{}{}
	state.gauges[QuotaModelCount] = int64(len(state.assigned))
	return nil
}

// CheckQuota is a pure read: it reports whether recording delta more units of
// quota would breach tenantID's limit for quota, without mutating any
// counter. A quota type absent from the tenant's Quotas map is treated as
// unlimited.
func (m *Manager) CheckQuota(ctx context.Context, tenantID string, quota QuotaType, delta int64) error {
	state, err := m.get(tenantID)
	if err != nil {
		return err
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	limit, hasLimit := state.tenant.Quotas[quota]
	if !hasLimit {
		return nil
	}

	var used int64
	if w := quota.window(); w > 0 {
		used = sumSince(state.histories[quota.baseQuantity()], time.Now().Add(-w))
	} else {
		used = state.gauges[quota]
	}

	if used+delta > limit {
		qerr := ferrors.NewQuotaExceededError(tenantID, fmt.Sprintf("%s quota exceeded", quota))
		qerr.Fields = map[string]any{"type": quota, "used": used, "limit": limit}
		m.bus.Publish(ctx, eventbus.Event{
			Name:     eventbus.EventQuotaExceeded,
			TenantID: tenantID,
			Fields:   qerr.Fields,
		})
		return qerr
	}
	return nil
}

// FastAdmit is a cheap, non-mutating pre-check backed by a per-tenant
// golang.org/x/time/rate.Limiter, grounded on internal/auth/ratelimiter.go's
// TenantRateLimiter. It never replaces CheckQuota's precise sliding-window
// accounting (the limiter's token bucket only approximates the per-minute
// rate); it exists purely so a saturated tenant can be rejected without
// touching the history buffer, the same fast-path/precise-path split the
// teacher's TenantRateLimiter.Check draws between the distributed limiter and
// local fallback.
func (m *Manager) FastAdmit(tenantID string) bool {
	state, err := m.get(tenantID)
	if err != nil {
		return true
	}
	state.mu.Lock()
	gate := state.fastGate
	state.mu.Unlock()
	if gate == nil {
		return true
	}
	return gate.Tokens() >= 1
}

// IncrementConcurrent raises the ConcurrentRequests gauge for tenantID after
// admission has been granted by CheckQuota.
func (m *Manager) IncrementConcurrent(tenantID string) error {
	state, err := m.get(tenantID)
	if err != nil {
		return err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	state.gauges[QuotaConcurrentReqs]++
	return nil
}

// DecrementConcurrent lowers the ConcurrentRequests gauge on every terminal
// path (normal completion, error, cancellation, abandonment) — callers must
// invoke this via defer immediately after a successful IncrementConcurrent.
func (m *Manager) DecrementConcurrent(tenantID string) {
	state, err := m.get(tenantID)
	if err != nil {
		return
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.gauges[QuotaConcurrentReqs] > 0 {
		state.gauges[QuotaConcurrentReqs]--
	}
}

// RecordUsage updates gauges and sliding-window history buffers for
// tenantID, pruning entries older than historyRetention, and appends a
// billing event when billing is enabled.
func (m *Manager) RecordUsage(ctx context.Context, tenantID string, usage Usage) error {
	state, err := m.get(tenantID)
	if err != nil {
		return err
	}

	now := time.Now()
	state.mu.Lock()
	if usage.Requests != 0 {
		state.histories["requests"] = appendPruned(state.histories["requests"], usageEvent{at: now, value: usage.Requests}, now)
	}
	if usage.Tokens != 0 {
		state.histories["tokens"] = appendPruned(state.histories["tokens"], usageEvent{at: now, value: usage.Tokens}, now)
	}
	if usage.StorageGB != 0 {
		state.gauges[QuotaStorageGB] += usage.StorageGB
	}
	if usage.ComputeUnits != 0 {
		state.gauges[QuotaComputeUnits] += usage.ComputeUnits
	}
	state.mu.Unlock()

	m.bus.Publish(ctx, eventbus.Event{Name: eventbus.EventUsageRecorded, TenantID: tenantID})

	if m.cfg.EnableBilling {
		cost := float64(usage.Requests)*m.cfg.Rates.PerRequest +
			float64(usage.Tokens)*m.cfg.Rates.PerToken +
			float64(usage.ComputeUnits)*m.cfg.Rates.PerComputeUnit
		m.billingMu.Lock()
		m.billing = append(m.billing, BillingEvent{
			TenantID: tenantID,
			At:       now,
			Requests: usage.Requests,
			Tokens:   usage.Tokens,
			ModelID:  usage.ModelID,
			Cost:     cost,
		})
		m.billing = pruneBilling(m.billing, now)
		m.billingMu.Unlock()
	}

	return nil
}

// BillingEvents returns a snapshot of the in-memory billing event buffer.
func (m *Manager) BillingEvents() []BillingEvent {
	m.billingMu.Lock()
	defer m.billingMu.Unlock()
	out := make([]BillingEvent, len(m.billing))
	copy(out, m.billing)
	return out
}

// Tenant returns a copy of the tenant record, or an error if unknown.
func (m *Manager) Tenant(tenantID string) (*Tenant, error) {
	state, err := m.get(tenantID)
	if err != nil {
		return nil, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	tCopy := state.tenant
	return &tCopy, nil
}

func sumSince(events []usageEvent, cutoff time.Time) int64 {
	var sum int64
	for _, e := range events {
		if e.at.After(cutoff) {
			sum += e.value
		}
	}
	return sum
}

func appendPruned(events []usageEvent, ev usageEvent, now time.Time) []usageEvent {
	cutoff := now.Add(-historyRetention)
	kept := events[:0]
	for _, e := range events {
		if e.at.After(cutoff) {
			kept = append(kept, e)
		}
	}
	return append(kept, ev)
}

func pruneBilling(events []BillingEvent, now time.Time) []BillingEvent {
	cutoff := now.Add(-billingRetention)
	kept := events[:0]
	for _, e := range events {
		if e.At.After(cutoff) {
			kept = append(kept, e)
		}
	}
	return kept
}
