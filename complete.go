package corterix

import (
	"context"
	"fmt"
	"time"

	"github.com/corterix/gateway/internal/eventbus"
	"github.com/corterix/gateway/internal/metrics"
	"github.com/corterix/gateway/internal/resilience"
	"github.com/corterix/gateway/internal/tenancy"
	"github.com/corterix/gateway/pkg/ferrors"
	"github.com/corterix/gateway/pkg/modelapi"
	"github.com/corterix/gateway/pkg/pipelineapi"
	"github.com/corterix/gateway/pkg/routerapi"
)

// circuitThreshold and circuitWindow configure the per-(tenant, error-class)
// circuit breaker: circuitThreshold failures recorded for one key open its
// breaker, and circuitWindow is how long it then stays open before it lets
// probe requests through. Failures are not counted within a time window: an
// old failure counts the same as a recent one.
const (
	circuitThreshold = 5
	circuitWindow    = 5 * time.Minute
)

// Complete runs the full per-request orchestration described by spec.md
// §4.9: tenant access/quota check, A/B variant injection, model selection,
// generation, usage recording, and fallback-chain retry on failure.
// Grounded end-to-end on client.go's ChatCompletion/executeWithRetry pair.
func (g *Gateway) Complete(ctx context.Context, req Request) (Response, error) {
	start := time.Now()

	if err := g.admit(ctx, req); err != nil {
		return Response{}, err
	}
	defer g.release(req)

	req = g.injectVariants(ctx, req)

	chain := append([]string{""}, req.FallbackChain...) // "" = primary selection via requirements
	var lastErr error
	fallbacksUsed := 0

	for i, modelID := range chain {
		if i > 0 {
			if blocked := g.circuitOpen(req.Context.TenantID, lastErr); blocked {
				continue
			}
			fallbacksUsed++
		}

		decision, err := g.selectModel(ctx, req, modelID)
		if err != nil {
			lastErr = err
			g.recordFailure(req.Context.TenantID, err)
			if isPolicyKind(kindOf(err)) {
				break
			}
			continue
		}

		resp, err := g.generate(ctx, decision.Model, req)
		if err != nil {
			lastErr = err
			g.recordFailure(req.Context.TenantID, err)
			g.rt.ReportOutcome(ctx, decision.Model.ID(), time.Since(start), 0, true)
			if isPolicyKind(kindOf(err)) {
				break
			}
			if i > 0 {
				g.collector.RecordFallback(chain[i-1], modelID, "", "", string(kindOf(err)), false)
			}
			continue
		}

		g.rt.ReportOutcome(ctx, decision.Model.ID(), time.Since(start), 0, false)
		g.onSuccess(ctx, req, decision.Model, resp, start, fallbacksUsed)
		if i > 0 {
			g.collector.RecordFallback(chain[i-1], modelID, "", "", "", true)
		}

		return Response{
			Text:          resp.Result.Text,
			Tokens:        resp.Result.PromptTokens + resp.Result.CompletionTokens,
			ModelID:       decision.Model.ID(),
			DurationMs:    time.Since(start).Milliseconds(),
			Cached:        resp.Cached,
			FallbacksUsed: fallbacksUsed,
		}, nil
	}

	if lastErr == nil {
		lastErr = ferrors.NewNoCandidateError("fallback chain exhausted with no attempts made")
	}
	return Response{}, fmt.Errorf("fallback chain exhausted after %d attempt(s): %w", len(chain), lastErr)
}

// admit runs the tenant-scoped access and quota gates (spec.md §4.9 steps
// 1-2). A request without a TenantID is treated as unscoped (no tenant to
// check against) rather than Unauthorized — real credential validation is
// the external hook spec.md places out of scope.
func (g *Gateway) admit(ctx context.Context, req Request) error {
	tenantID := req.Context.TenantID
	if tenantID == "" {
		return nil
	}

	if err := g.checkRateLimit(ctx, tenantID); err != nil {
		return err
	}

	if pm := req.Requirements.PreferredModel; pm != "" {
		ok, err := g.tenants.CheckModelAccess(tenantID, pm, true)
		if err != nil {
			return err
		}
		if !ok {
			return ferrors.NewAccessDeniedError(tenantID, "tenant does not have access to preferred model "+pm)
		}
	}

	if err := g.tenants.CheckQuota(ctx, tenantID, tenancy.QuotaConcurrentReqs, 1); err != nil {
		return err
	}
	if err := g.tenants.CheckQuota(ctx, tenantID, tenancy.QuotaRequestsPerMinute, 1); err != nil {
		return err
	}
	return g.tenants.IncrementConcurrent(tenantID)
}

func (g *Gateway) release(req Request) {
	if req.Context.TenantID == "" {
		return
	}
	g.tenants.DecrementConcurrent(req.Context.TenantID)
}

// checkRateLimit enforces the optional request-admission rate limit
// (internal/config.RateLimitConfig), a cheap circuit distinct from
// tenancy's own precise sliding-window RPM/TPM quota accounting. With
// Distributed configured it consults a cluster-wide resilience.RedisLimiter
// so every gateway replica shares one tenant's limit; otherwise it falls
// back to a local per-tenant token bucket.
func (g *Gateway) checkRateLimit(ctx context.Context, tenantID string) error {
	if !g.rateLimitCfg.Enabled {
		return nil
	}

	if g.distLimiter != nil {
		window := g.rateLimitCfg.WindowSize
		if window <= 0 {
			window = time.Minute
		}
		results, err := g.distLimiter.CheckAllow(ctx, []resilience.Descriptor{{
			Key:    tenantID,
			Value:  "requests",
			Limit:  g.rateLimitCfg.RequestsPerMinute,
			Type:   resilience.LimitTypeRequests,
			Window: window,
		}})
		if err != nil {
			if g.rateLimitCfg.FailOpen {
				return nil
			}
			return ferrors.NewRateLimitedError(tenantID, "distributed rate limiter unavailable: "+err.Error())
		}
		if len(results) > 0 && !results[0].Allowed {
			return ferrors.NewRateLimitedError(tenantID, "tenant rate limit exceeded")
		}
		return nil
	}

	if !g.breakers.GetRateLimiter(tenantID).Allow() {
		return ferrors.NewRateLimitedError(tenantID, "tenant rate limit exceeded")
	}
	return nil
}

// injectVariants runs ABTesting.assignUser and merges each matched variant's
// declared overrides into req before routing, per spec.md §4.8's "effect on
// routing".
func (g *Gateway) injectVariants(ctx context.Context, req Request) Request {
	if req.Context.UserID == "" {
		return req
	}
	assignments := g.experiments.AssignUser(ctx, req.Context.UserID, req.Context.Extra)
	for _, a := range assignments {
		overrides, err := g.experiments.Overrides(a.ExperimentID, a.Variant)
		if err != nil {
			continue
		}
		req = applyOverrides(req, overrides)
	}
	return req
}

func applyOverrides(req Request, overrides map[string]any) Request {
	if strategy, ok := overrides["strategy"].(string); ok && strategy != "" {
		req.Strategy = Strategy(strategy)
	}
	if temp, ok := overrides["temperature"].(float64); ok {
		req.Options.Temperature = temp
	}
	if maxTokens, ok := overrides["max_tokens"].(int); ok {
		req.Options.MaxTokens = maxTokens
	}
	if template, ok := overrides["template"].(string); ok && template != "" {
		req.Options.Template = template
	}
	if sysPrompt, ok := overrides["system_prompt"].(string); ok && sysPrompt != "" {
		req.Options.SystemPrompt = sysPrompt
	}
	return req
}

// selectModel resolves modelID directly (a fallback-chain entry) or, when
// modelID is empty, runs the Router's requirement-based selection for the
// primary attempt.
func (g *Gateway) selectModel(ctx context.Context, req Request, modelID string) (routerapi.Decision, error) {
	if modelID != "" {
		m, err := g.reg.Get(modelID)
		if err != nil {
			return routerapi.Decision{}, err
		}
		return routerapi.Decision{Model: m, Strategy: "fallback-chain"}, nil
	}

	decision, err := g.rt.Select(ctx, routerapi.SelectRequest{
		Prompt:       req.Prompt,
		Strategy:     req.Strategy,
		Requirements: req.Requirements.toRouter(),
	})
	if err != nil {
		return routerapi.Decision{}, err
	}
	g.bus.Publish(ctx, eventbus.Event{
		Name: eventbus.EventModelSelected, At: time.Now(), TenantID: req.Context.TenantID,
		Fields: map[string]any{"model_id": decision.Model.ID(), "strategy": string(decision.Strategy), "cached": decision.Cached},
	})
	return decision, nil
}

// generate ensures m is loaded, then runs it through the Pipeline.
func (g *Gateway) generate(ctx context.Context, m modelapi.Model, req Request) (pipelineapi.Response, error) {
	if m.State() == modelapi.StateUnloaded {
		if err := m.Load(ctx); err != nil {
			return pipelineapi.Response{}, err
		}
	}
	return g.pipe.Process(ctx, m, pipelineapi.Request{
		Prompt:  req.Prompt,
		Options: req.Options,
	})
}

func (g *Gateway) onSuccess(ctx context.Context, req Request, m modelapi.Model, resp pipelineapi.Response, start time.Time, fallbacksUsed int) {
	if req.Context.TenantID != "" {
		_ = g.tenants.RecordUsage(ctx, req.Context.TenantID, tenancy.Usage{
			Requests: 1,
			Tokens:   int64(resp.Result.PromptTokens + resp.Result.CompletionTokens),
			ModelID:  m.ID(),
		})
	}
	g.bus.Publish(ctx, eventbus.Event{
		Name: eventbus.EventProcessed, At: time.Now(), TenantID: req.Context.TenantID,
		Fields: map[string]any{"model_id": m.ID(), "cached": resp.Cached, "fallbacks_used": fallbacksUsed},
	})
	g.collector.RecordRequest(&metrics.RequestMetrics{
		Labels: metrics.Labels{
			Team:  req.Context.TenantID,
			Model: m.ID(),
		},
		StartTime:    start,
		EndTime:      time.Now(),
		InputTokens:  resp.Result.PromptTokens,
		OutputTokens: resp.Result.CompletionTokens,
		TotalTokens:  resp.Result.PromptTokens + resp.Result.CompletionTokens,
		Success:      true,
		CacheHit:     resp.Cached,
	})
}

func kindOf(err error) ferrors.Kind {
	kind, ok := ferrors.AsKind(err)
	if !ok {
		return ferrors.KindUpstreamError
	}
	return kind
}

// circuitKey identifies the (tenant, error-class) pair spec.md §4.9's
// circuit breaker keys on.
func circuitKey(tenantID string, kind ferrors.Kind) string {
	if tenantID == "" {
		tenantID = "anonymous"
	}
	return tenantID + "|" + string(kind)
}

// circuitOpen reports whether the circuit for (tenantID, lastErr's kind) is
// open, meaning the next fallback-chain entry should be skipped rather than
// attempted.
func (g *Gateway) circuitOpen(tenantID string, lastErr error) bool {
	if lastErr == nil {
		return false
	}
	key := circuitKey(tenantID, kindOf(lastErr))
	return !g.breakers.GetCircuitBreaker(key).Allow()
}

func (g *Gateway) recordFailure(tenantID string, err error) {
	key := circuitKey(tenantID, kindOf(err))
	g.breakers.GetCircuitBreaker(key).RecordFailure()
}
