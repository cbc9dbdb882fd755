package cache

import (
	"context"
	"time"

	json "github.com/goccy/go-json"
)

// Handler provides high-level caching operations for pipeline responses.
// It wraps the underlying cache implementation and handles serialization,
// key generation, and cache control logic. Generalized from the teacher's
// ChatRequest-specific Handler to the request-agnostic RequestFingerprint
// shape used by internal/pipeline.
type Handler struct {
	cache   Cache
	keyGen  KeyGenerator
	config  HandlerConfig
	enabled bool
}

// RequestFingerprint is the subset of a pipeline request that participates
// in the cache key, serialized by the caller (internal/pipeline) so this
// package has no dependency on any request wire type.
type RequestFingerprint struct {
	Model       string
	Prompt      []byte
	Temperature *float64
	MaxTokens   int
	TopP        *float64
	Extra       []byte
}

// HandlerConfig holds configuration for the cache handler.
type HandlerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	DefaultTTL       time.Duration `yaml:"default_ttl"`
	MaxCacheableSize int           `yaml:"max_cacheable_size"`
}

// DefaultHandlerConfig returns sensible defaults.
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		Enabled:          true,
		DefaultTTL:       time.Hour,
		MaxCacheableSize: 10 * 1024 * 1024,
	}
}

// NewHandler creates a new cache handler.
func NewHandler(cache Cache, keyGen KeyGenerator, cfg HandlerConfig) *Handler {
	if keyGen == nil {
		keyGen = NewKeyGenerator("corterix")
	}
	return &Handler{cache: cache, keyGen: keyGen, config: cfg, enabled: cfg.Enabled}
}

// GetCachedResponse attempts to retrieve a cached response.
func (h *Handler) GetCachedResponse(ctx context.Context, fp RequestFingerprint, ctrl *CacheControl) (*CachedResponse, error) {
	if !h.enabled || h.cache == nil {
		return nil, nil
	}
	if ctrl != nil && ctrl.NoCache {
		return nil, nil
	}

	key := h.generateKey(fp, ctrl)
	data, err := h.cache.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}

	var cached CachedResponse
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, nil
	}

	if ctrl != nil && ctrl.MaxAge > 0 {
		age := time.Since(time.Unix(cached.Timestamp, 0))
		if age > ctrl.MaxAge {
			return nil, nil
		}
	}

	return &cached, nil
}

// SetCachedResponse stores a response in the cache.
func (h *Handler) SetCachedResponse(ctx context.Context, fp RequestFingerprint, resp []byte, ctrl *CacheControl) error {
	if !h.enabled || h.cache == nil {
		return nil
	}
	if ctrl != nil && ctrl.NoStore {
		return nil
	}
	if len(resp) > h.config.MaxCacheableSize {
		return nil
	}

	key := h.generateKey(fp, ctrl)
	cached := CachedResponse{Timestamp: time.Now().Unix(), Response: resp, Model: fp.Model}
	data, err := json.Marshal(cached)
	if err != nil {
		return err
	}

	ttl := h.config.DefaultTTL
	if ctrl != nil && ctrl.TTL > 0 {
		ttl = ctrl.TTL
	}
	return h.cache.Set(ctx, key, data, ttl)
}

func (h *Handler) generateKey(fp RequestFingerprint, ctrl *CacheControl) string {
	params := KeyParams{
		Model:       fp.Model,
		Messages:    fp.Prompt,
		Temperature: fp.Temperature,
		MaxTokens:   fp.MaxTokens,
		TopP:        fp.TopP,
	}
	if len(fp.Extra) > 0 {
		params.Extra = map[string][]byte{"extra": fp.Extra}
	}
	if ctrl != nil && ctrl.Namespace != "" {
		params.Namespace = ctrl.Namespace
	}
	return h.keyGen.Generate(params)
}

// ParseCacheControl decodes a raw JSON cache-control object, returning nil
// if raw is empty or malformed rather than erroring — callers treat an
// absent/invalid cache-control header as "use defaults".
func ParseCacheControl(raw json.RawMessage) *CacheControl {
	if len(raw) == 0 {
		return nil
	}
	var ctrl CacheControl
	if err := json.Unmarshal(raw, &ctrl); err != nil {
		return nil
	}
	return &ctrl
}

// InvalidateCache removes a cached response.
func (h *Handler) InvalidateCache(ctx context.Context, fp RequestFingerprint, ctrl *CacheControl) error {
	if !h.enabled || h.cache == nil {
		return nil
	}
	return h.cache.Delete(ctx, h.generateKey(fp, ctrl))
}

// Stats returns cache statistics.
func (h *Handler) Stats() CacheStats {
	if h.cache == nil {
		return CacheStats{}
	}
	return h.cache.Stats()
}

func (h *Handler) IsEnabled() bool        { return h.enabled }
func (h *Handler) SetEnabled(e bool)      { h.enabled = e }
func (h *Handler) Ping(ctx context.Context) error {
	if h.cache == nil {
		return nil
	}
	return h.cache.Ping(ctx)
}
func (h *Handler) Close() error {
	if h.cache == nil {
		return nil
	}
	return h.cache.Close()
}
