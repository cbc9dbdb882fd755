package router

import (
	"context"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/corterix/gateway/internal/cache"
	"github.com/corterix/gateway/pkg/routerapi"
)

// cachedDecision is the serializable shape stored under a route cache key.
// Only the winning model's ID and score are persisted; the live Model is
// re-resolved from the Registry on hit, since backends themselves are never
// serialized (mirrors registry.Snapshot's membership-only shape).
type cachedDecision struct {
	ModelID  string           `json:"model_id"`
	Strategy routerapi.Strategy `json:"strategy"`
	Score    float64          `json:"score"`
}

// routeCache memoizes Select decisions by request fingerprint, grounded on
// internal/cache/handler.go's response-caching discipline generalized from
// caching a full LLM response to caching a routing decision.
type routeCache struct {
	backend cache.Cache
	keygen  *cache.DefaultKeyGenerator
	ttl     time.Duration
}

func newRouteCache(backend cache.Cache, namespace string, ttl time.Duration) *routeCache {
	return &routeCache{
		backend: backend,
		keygen:  cache.NewKeyGenerator(namespace),
		ttl:     ttl,
	}
}

// key derives a stable fingerprint for a SelectRequest. The prompt itself is
// folded in so identical prompts under the same strategy/requirements share
// a cache entry, per SPEC_FULL.md's decision to key on the full SHA-256
// fingerprint rather than a truncated prefix. Requirement fields are folded
// into Messages in a fixed order rather than passed via KeyParams.Extra,
// since DefaultKeyGenerator.Generate ranges over that map and would produce
// a non-deterministic hash across otherwise-identical requests.
func (rc *routeCache) key(req routerapi.SelectRequest) string {
	var sb strings.Builder
	sb.WriteString(req.Prompt)
	sb.WriteString("|task:")
	sb.WriteString(req.Requirements.Task)
	sb.WriteString("|tags:")
	sb.WriteString(joinTags(req.Requirements.RequiredTags))
	sb.WriteString("|minctx:")
	sb.WriteString(strconv.Itoa(req.Requirements.MinContextWindow))
	sb.WriteString("|stream:")
	sb.WriteString(boolStr(req.Requirements.RequireStreaming))
	sb.WriteString("|embed:")
	sb.WriteString(boolStr(req.Requirements.RequireEmbedding))
	sb.WriteString("|caps:")
	for _, c := range req.Requirements.RequiredCapabilities {
		sb.WriteString(string(c))
		sb.WriteString(",")
	}
	sb.WriteString("|format:")
	sb.WriteString(req.Requirements.Format)
	sb.WriteString("|maxsize:")
	sb.WriteString(strconv.FormatInt(req.Requirements.MaxSize, 10))
	sb.WriteString("|maxtokens:")
	sb.WriteString(strconv.Itoa(req.Requirements.MaxTokens))

	params := cache.KeyParams{
		Model:     string(req.Strategy),
		Messages:  []byte(sb.String()),
		MaxTokens: req.PromptTokens,
		Namespace: "route",
	}
	return rc.keygen.Generate(params)
}

func (rc *routeCache) get(ctx context.Context, req routerapi.SelectRequest) (cachedDecision, bool) {
	if rc.backend == nil {
		return cachedDecision{}, false
	}
	raw, err := rc.backend.Get(ctx, rc.key(req))
	if err != nil || raw == nil {
		return cachedDecision{}, false
	}
	var cd cachedDecision
	if err := json.Unmarshal(raw, &cd); err != nil {
		return cachedDecision{}, false
	}
	return cd, true
}

func (rc *routeCache) put(ctx context.Context, req routerapi.SelectRequest, cd cachedDecision) {
	if rc.backend == nil {
		return
	}
	raw, err := json.Marshal(cd)
	if err != nil {
		return
	}
	_ = rc.backend.Set(ctx, rc.key(req), raw, rc.ttl)
}

func joinTags(tags []string) string {
	return strings.Join(tags, ",")
}

func boolStr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
