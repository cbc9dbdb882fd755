// Package tenancy implements tenant records, isolation-mode model access
// checks, sliding-window quota accounting, and billing event capture.
// Grounded on the teacher's internal/auth/types.go (APIKey/Team budget
// fields) and internal/auth/ratelimiter.go (TenantRateLimiter), generalized
// from per-API-key HTTP auth to the tenant/quota contract this router needs.
package tenancy

import "time"

// IsolationMode controls which Models a Tenant may access.
type IsolationMode string

const (
	// IsolationStrict grants access only to Models explicitly assigned to
	// the tenant.
	IsolationStrict IsolationMode = "strict"
	// IsolationShared grants access to the shared pool plus assigned Models.
	IsolationShared IsolationMode = "shared"
	// IsolationHybrid is the union of Strict and Shared semantics.
	IsolationHybrid IsolationMode = "hybrid"
)

func (m IsolationMode) valid() bool {
	switch m {
	case IsolationStrict, IsolationShared, IsolationHybrid:
		return true
	default:
		return false
	}
}

// Status is the lifecycle state of a Tenant.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// QuotaType enumerates the closed set of quota dimensions a Tenant can be
// bound by.
type QuotaType string

const (
	QuotaRequestsPerMinute QuotaType = "requests_per_minute"
	QuotaRequestsPerHour   QuotaType = "requests_per_hour"
	QuotaRequestsPerDay    QuotaType = "requests_per_day"
	QuotaTokensPerMinute   QuotaType = "tokens_per_minute"
	QuotaTokensPerHour     QuotaType = "tokens_per_hour"
	QuotaTokensPerDay      QuotaType = "tokens_per_day"
	QuotaConcurrentReqs    QuotaType = "concurrent_requests"
	QuotaModelCount        QuotaType = "model_count"
	QuotaStorageGB         QuotaType = "storage_gb"
	QuotaComputeUnits      QuotaType = "compute_units"
)

// allQuotaTypes is the closed set validated against in createTenant/updateTenant.
var allQuotaTypes = map[QuotaType]bool{
	QuotaRequestsPerMinute: true,
	QuotaRequestsPerHour:   true,
	QuotaRequestsPerDay:    true,
	QuotaTokensPerMinute:   true,
	QuotaTokensPerHour:     true,
	QuotaTokensPerDay:      true,
	QuotaConcurrentReqs:    true,
	QuotaModelCount:        true,
	QuotaStorageGB:         true,
	QuotaComputeUnits:      true,
}

// window returns the sliding-window length a quota type is evaluated over,
// or 0 if the quota type is a plain gauge.
func (q QuotaType) window() time.Duration {
	switch q {
	case QuotaRequestsPerMinute, QuotaTokensPerMinute:
		return time.Minute
	case QuotaRequestsPerHour, QuotaTokensPerHour:
		return time.Hour
	case QuotaRequestsPerDay, QuotaTokensPerDay:
		return 24 * time.Hour
	default:
		return 0
	}
}

// baseQuantity groups windowed quota types that are evaluated over the same
// underlying measured quantity (e.g. RequestsPerMinute/Hour/Day all sum the
// same stream of "one request happened" events, just over different window
// lengths) so a single history buffer serves all three instead of
// triplicating storage.
func (q QuotaType) baseQuantity() string {
	switch q {
	case QuotaRequestsPerMinute, QuotaRequestsPerHour, QuotaRequestsPerDay:
		return "requests"
	case QuotaTokensPerMinute, QuotaTokensPerHour, QuotaTokensPerDay:
		return "tokens"
	default:
		return ""
	}
}

// historyRetention is how long a usage event remains in a history buffer
// regardless of which window(s) read it, per spec.md's Usage Counter
// definition ("History retained 24h").
const historyRetention = 24 * time.Hour

// Tenant is a single tenant's identity, isolation policy, and quota limits.
type Tenant struct {
	ID        string
	Name      string
	Isolation IsolationMode
	Quotas    map[QuotaType]int64
	Metadata  map[string]any
	Status    Status
	CreatedAt time.Time
}

// CreateRequest is the input to Manager.CreateTenant.
type CreateRequest struct {
	ID        string
	Name      string
	Isolation IsolationMode
	Quotas    map[QuotaType]int64
	Metadata  map[string]any
}

// Patch is a partial update applied by Manager.UpdateTenant; nil fields are
// left unchanged.
type Patch struct {
	Name      *string
	Isolation *IsolationMode
	Quotas    map[QuotaType]int64
	Metadata  map[string]any
	Status    *Status
}

// usageEvent is a single timestamped contribution to a sliding-window
// history buffer.
type usageEvent struct {
	at    time.Time
	value int64
}

// Usage is the set of measurements recorded after a completed (or failed)
// request.
type Usage struct {
	Requests     int64
	Tokens       int64
	ModelID      string
	StorageGB    int64
	ComputeUnits int64
}

// BillingEvent is a single billable occurrence, retained in-memory for at
// most 30 days before the caller's external sink must have collected it.
type BillingEvent struct {
	TenantID string
	At       time.Time
	Requests int64
	Tokens   int64
	ModelID  string
	Cost     float64
}

const billingRetention = 30 * 24 * time.Hour
