// Package corterix is the root orchestration facade over the Registry,
// Router, Pipeline, MultiTenancy, and ABTesting components: it composes a
// single request's tenant quota check, A/B variant injection, model
// selection, generation, usage accounting, and fallback-chain retry into
// the two entry points Complete and Stream. Grounded on llmux.go's
// library-facade pattern (type aliases re-exporting the richer internal
// packages at the root) and client.go's ChatCompletion/executeWithRetry
// composition.
package corterix

import (
	"github.com/corterix/gateway/pkg/ferrors"
	"github.com/corterix/gateway/pkg/modelapi"
	"github.com/corterix/gateway/pkg/routerapi"
)

// Version identifies this module's API surface for diagnostics and trace
// resource attributes.
const Version = "0.1.0"

// Re-exported so callers need only import this root package for the common
// request path; concrete implementations still live under internal/.
type (
	Options      = modelapi.Options
	Result       = modelapi.Result
	Capabilities = modelapi.Capabilities
	Strategy     = routerapi.Strategy
	RouterError  = ferrors.RouterError
	ErrorKind    = ferrors.Kind
)

const (
	StrategyQualityFirst    = routerapi.StrategyQualityFirst
	StrategyCostOptimized   = routerapi.StrategyCostOptimized
	StrategySpeedPriority   = routerapi.StrategySpeedPriority
	StrategyBalanced        = routerapi.StrategyBalanced
	StrategyRoundRobin      = routerapi.StrategyRoundRobin
	StrategyLeastLoaded     = routerapi.StrategyLeastLoaded
	StrategyCapabilityMatch = routerapi.StrategyCapabilityMatch
	StrategyRandom          = routerapi.StrategyRandom
)

const (
	KindNoCandidate     = ferrors.KindNoCandidate
	KindNoLoader        = ferrors.KindNoLoader
	KindNotLoaded       = ferrors.KindNotLoaded
	KindTimeout         = ferrors.KindTimeout
	KindRateLimited     = ferrors.KindRateLimited
	KindInvalidRequest  = ferrors.KindInvalidRequest
	KindUpstreamError   = ferrors.KindUpstreamError
	KindCorruptedStream = ferrors.KindCorruptedStream
	KindQuotaExceeded   = ferrors.KindQuotaExceeded
	KindAccessDenied    = ferrors.KindAccessDenied
	KindUnauthorized    = ferrors.KindUnauthorized
)

// isPolicyKind reports whether kind is one of the policy-error classes that
// never trigger a fallback-chain attempt (QuotaExceeded, AccessDenied,
// Unauthorized), per spec.md §7's propagation policy.
func isPolicyKind(kind ferrors.Kind) bool {
	switch kind {
	case ferrors.KindQuotaExceeded, ferrors.KindAccessDenied, ferrors.KindUnauthorized:
		return true
	default:
		return false
	}
}
