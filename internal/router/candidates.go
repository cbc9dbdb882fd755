package router

import (
	"strings"

	"github.com/corterix/gateway/pkg/modelapi"
	"github.com/corterix/gateway/pkg/routerapi"
)

// filterCandidates narrows the registry's models to those satisfying req,
// implementing spec.md §4.3 step 3's requirement filter: mirrors the
// teacher's tag-based deployment filtering (internal/router/base.go:
// filterByTags) generalized to the Capability set, plus the maxSize and
// explicit format checks the filter requires.
func filterCandidates(models []modelapi.Model, req routerapi.Requirements) []modelapi.Model {
	out := make([]modelapi.Model, 0, len(models))
candidates:
	for _, m := range models {
		if m.State() != modelapi.StateLoaded && m.State() != modelapi.StateUnloaded {
			continue
		}
		if req.RequireStreaming && !m.Supports(modelapi.CapabilityStreaming) {
			continue
		}
		if req.RequireEmbedding && !m.Supports(modelapi.CapabilityEmbedding) {
			continue
		}
		for _, capability := range req.RequiredCapabilities {
			if !m.Supports(capability) {
				continue candidates
			}
		}
		if req.Format != "" && m.Format() != req.Format {
			continue
		}

		params := m.Parameters()
		if req.MinContextWindow > 0 && params.ContextWindow < req.MinContextWindow {
			continue
		}
		if req.MaxSize > 0 && params.Count > req.MaxSize {
			continue
		}
		if req.Task != "" && len(params.SupportedTasks) > 0 && !containsTask(params.SupportedTasks, req.Task) {
			continue
		}
		if len(req.RequiredTags) > 0 && !hasAllTags(m.Tags(), req.RequiredTags) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func containsTask(tasks []string, task string) bool {
	for _, t := range tasks {
		if strings.EqualFold(t, task) {
			return true
		}
	}
	return false
}

// hasAllTags reports whether modelTags is a superset of required, case
// insensitive.
func hasAllTags(modelTags, required []string) bool {
	for _, req := range required {
		found := false
		for _, t := range modelTags {
			if strings.EqualFold(t, req) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
