// Package ferrors defines the unified error taxonomy used across the routing
// substrate. Every failure surfaced to a caller is a *RouterError with a stable
// Kind so that retry, fallback, and circuit-breaker logic can branch on cause
// rather than string-matching messages.
package ferrors

import (
	"errors"
	"fmt"
)

// Kind identifies the category of a RouterError.
type Kind string

const (
	KindNoCandidate     Kind = "no_candidate"
	KindNoLoader        Kind = "no_loader"
	KindNotLoaded       Kind = "not_loaded"
	KindTimeout         Kind = "timeout"
	KindRateLimited     Kind = "rate_limited"
	KindInvalidRequest  Kind = "invalid_request"
	KindUpstreamError   Kind = "upstream_error"
	KindCorruptedStream Kind = "corrupted_stream"
	KindQuotaExceeded   Kind = "quota_exceeded"
	KindAccessDenied    Kind = "access_denied"
	KindUnauthorized    Kind = "unauthorized"
)

// RouterError is the standardized error shape produced by every component.
// Fields is a small structured bag (model id, tenant id, experiment id, ...)
// useful for logging without forcing every caller to parse Message.
type RouterError struct {
	Kind      Kind
	Message   string
	Model     string
	Tenant    string
	Retryable bool
	Fields    map[string]any
}

func (e *RouterError) Error() string {
	return fmt.Sprintf("[%s] %s (model=%s, tenant=%s)", e.Kind, e.Message, e.Model, e.Tenant)
}

// Kind_ returns e.Kind. No errors.Is sentinel matching is provided; callers
// compare Kind directly through AsKind.
func (e *RouterError) Kind_() Kind { return e.Kind }

// AsKind extracts the Kind from err if it is (or wraps) a *RouterError.
func AsKind(err error) (Kind, bool) {
	var re *RouterError
	if !errors.As(err, &re) {
		return "", false
	}
	return re.Kind, true
}

func newErr(kind Kind, retryable bool, model, message string) *RouterError {
	return &RouterError{Kind: kind, Message: message, Model: model, Retryable: retryable}
}

func NewNoCandidateError(message string) *RouterError {
	return newErr(KindNoCandidate, false, "", message)
}

func NewNoLoaderError(format string) *RouterError {
	return newErr(KindNoLoader, false, "", "no loader registered for format: "+format)
}

func NewNotLoadedError(model string) *RouterError {
	return newErr(KindNotLoaded, true, model, "model is not loaded")
}

func NewTimeoutError(model, message string) *RouterError {
	return newErr(KindTimeout, true, model, message)
}

func NewRateLimitedError(model, message string) *RouterError {
	return newErr(KindRateLimited, true, model, message)
}

func NewInvalidRequestError(message string) *RouterError {
	return newErr(KindInvalidRequest, false, "", message)
}

func NewUpstreamError(model, message string) *RouterError {
	return newErr(KindUpstreamError, true, model, message)
}

func NewCorruptedStreamError(model, message string) *RouterError {
	return newErr(KindCorruptedStream, true, model, message)
}

func NewQuotaExceededError(tenant, message string) *RouterError {
	e := newErr(KindQuotaExceeded, false, "", message)
	e.Tenant = tenant
	return e
}

func NewAccessDeniedError(tenant, message string) *RouterError {
	e := newErr(KindAccessDenied, false, "", message)
	e.Tenant = tenant
	return e
}

func NewUnauthorizedError(message string) *RouterError {
	return newErr(KindUnauthorized, false, "", message)
}

// IsRetryable reports whether the Pipeline's retry loop should attempt
// another deployment for this error, mirroring the teacher's
// IsCooldownRequired split between client and server faults.
func IsRetryable(err error) bool {
	re, ok := err.(*RouterError)
	if !ok {
		return false
	}
	return re.Retryable
}

// RequiresCooldown reports whether a deployment/model should be temporarily
// excluded from routing after this error, grounded on
// pkg/errors.IsCooldownRequired in the teacher repo.
func RequiresCooldown(err error) bool {
	re, ok := err.(*RouterError)
	if !ok {
		return false
	}
	switch re.Kind {
	case KindTimeout, KindRateLimited, KindUpstreamError, KindNotLoaded:
		return true
	default:
		return false
	}
}
