// Package pipeline implements request processing against an already-selected
// Model: response-cache lookup, pre-process, retry-with-backoff over
// Model.Generate, post-process, and metrics update. Grounded on the
// teacher's client.go (executeWithRetry/executeOnce/retryBackoff) and
// stream.go (StreamReader), generalized from HTTP-provider execution to
// calling the uniform modelapi.Model contract directly.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	json "github.com/goccy/go-json"

	"github.com/corterix/gateway/internal/cache"
	"github.com/corterix/gateway/internal/config"
	"github.com/corterix/gateway/pkg/ferrors"
	"github.com/corterix/gateway/pkg/modelapi"
	"github.com/corterix/gateway/pkg/pipelineapi"
)

// cachedResult is the serializable shape stored in the response cache.
type cachedResult struct {
	Text             string `json:"text"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	FinishReason     string `json:"finish_reason"`
}

// Pipeline is the concrete pipelineapi.Pipeline.
type Pipeline struct {
	cacheHandler *cache.Handler
	backoff      *backoffPolicy
	retries      int
	defaultTTL   time.Duration
	log          *slog.Logger
}

// New constructs a Pipeline. cacheBackend may be nil, which disables
// response caching entirely (every Process call is a fresh generation).
func New(cfg config.PipelineConfig, cacheBackend cache.Cache, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	handlerCfg := cache.HandlerConfig{
		Enabled:          cacheBackend != nil,
		DefaultTTL:       cfg.ResponseCacheTTL,
		MaxCacheableSize: 10 * 1024 * 1024,
	}
	return &Pipeline{
		cacheHandler: cache.NewHandler(cacheBackend, cache.NewKeyGenerator("corterix"), handlerCfg),
		backoff:      newBackoffPolicy(cfg.RetryBackoff, cfg.RetryMaxBackoff, cfg.RetryJitter),
		retries:      cfg.Retries,
		defaultTTL:   cfg.ResponseCacheTTL,
		log:          log,
	}
}

func (p *Pipeline) fingerprint(m modelapi.Model, prompt string) cache.RequestFingerprint {
	return cache.RequestFingerprint{
		Model:     m.ID(),
		Prompt:    []byte(truncate(prompt, 50)),
		MaxTokens: 0,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Process runs req against m: cache lookup, pre-process, retry-with-backoff
// Generate, cache the result, return.
func (p *Pipeline) Process(ctx context.Context, m modelapi.Model, req pipelineapi.Request) (pipelineapi.Response, error) {
	fp := p.fingerprint(m, req.Prompt)
	ctrl := &cache.CacheControl{NoCache: req.NoCache, NoStore: req.NoStore, TTL: req.CacheTTL}

	if cached, err := p.cacheHandler.GetCachedResponse(ctx, fp, ctrl); err == nil && cached != nil {
		var cr cachedResult
		if jsonErr := json.Unmarshal(cached.Response, &cr); jsonErr == nil {
			return pipelineapi.Response{
				Result: modelapi.Result{
					Text:             cr.Text,
					PromptTokens:     cr.PromptTokens,
					CompletionTokens: cr.CompletionTokens,
					FinishReason:     cr.FinishReason,
				},
				ModelID: m.ID(),
				Cached:  true,
			}, nil
		}
	}

	prompt := preprocessPrompt(req.Prompt, req.Options.Template, req.Options.SystemPrompt)

	var lastErr error
	for attempt := 0; attempt <= p.retries; attempt++ {
		if attempt > 0 {
			d := p.backoff.delay(attempt)
			if d > 0 {
				select {
				case <-ctx.Done():
					return pipelineapi.Response{}, ctx.Err()
				case <-time.After(d):
				}
			} else if ctx.Err() != nil {
				return pipelineapi.Response{}, ctx.Err()
			}
		}

		result, err := m.Generate(ctx, prompt, req.Options)
		if err == nil {
			p.storeResult(ctx, fp, ctrl, result)
			return pipelineapi.Response{Result: result, ModelID: m.ID(), Attempts: attempt + 1}, nil
		}

		lastErr = err
		if !ferrors.IsRetryable(err) {
			return pipelineapi.Response{}, err
		}
		p.log.DebugContext(ctx, "pipeline retrying generate", "model_id", m.ID(), "attempt", attempt+1, "error", err)
	}

	return pipelineapi.Response{}, lastErr
}

func (p *Pipeline) storeResult(ctx context.Context, fp cache.RequestFingerprint, ctrl *cache.CacheControl, result modelapi.Result) {
	cr := cachedResult{
		Text:             result.Text,
		PromptTokens:     result.PromptTokens,
		CompletionTokens: result.CompletionTokens,
		FinishReason:     result.FinishReason,
	}
	data, err := json.Marshal(cr)
	if err != nil {
		return
	}
	if err := p.cacheHandler.SetCachedResponse(ctx, fp, data, ctrl); err != nil {
		p.log.WarnContext(ctx, "failed to store pipeline cache entry", "error", err)
	}
}
