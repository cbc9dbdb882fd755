package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corterix/gateway/pkg/modelapi"
	"github.com/corterix/gateway/pkg/routerapi"
)

// fakeModel is a minimal modelapi.Model stand-in for filter-logic tests that
// never exercise Generate/Stream/Embed.
type fakeModel struct {
	id      string
	caps    modelapi.Capabilities
	params  modelapi.Parameters
	format  string
	tags    []string
	st      modelapi.State
	metrics modelapi.Metrics
}

func (f *fakeModel) ID() string     { return f.id }
func (f *fakeModel) Format() string {
	if f.format != "" {
		return f.format
	}
	return "fake"
}
func (f *fakeModel) State() modelapi.State               { return f.st }
func (f *fakeModel) Capabilities() modelapi.Capabilities { return f.caps }
func (f *fakeModel) Supports(c modelapi.Capability) bool { return f.caps.Supports(c) }
func (f *fakeModel) Parameters() modelapi.Parameters     { return f.params }
func (f *fakeModel) Metrics() modelapi.Metrics           { return f.metrics }
func (f *fakeModel) Tags() []string                      { return f.tags }
func (f *fakeModel) Load(ctx context.Context) error      { return nil }
func (f *fakeModel) Unload(ctx context.Context) error    { return nil }
func (f *fakeModel) Generate(ctx context.Context, prompt string, opts modelapi.Options) (modelapi.Result, error) {
	return modelapi.Result{}, nil
}
func (f *fakeModel) Stream(ctx context.Context, prompt string, opts modelapi.Options) (modelapi.StreamIter, error) {
	return nil, nil
}
func (f *fakeModel) Embed(ctx context.Context, texts []string) ([][]float64, error) { return nil, nil }
func (f *fakeModel) Tokenize(text string) []int                                    { return nil }

func TestFilterCandidates_TagSubset(t *testing.T) {
	models := []modelapi.Model{
		&fakeModel{id: "a", st: modelapi.StateLoaded, tags: []string{"gpu", "eu"}},
		&fakeModel{id: "b", st: modelapi.StateLoaded, tags: []string{"cpu"}},
	}
	out := filterCandidates(models, routerapi.Requirements{RequiredTags: []string{"gpu"}})
	require.Len(t, out, 1)
	require.Equal(t, "a", out[0].ID())
}

func TestFilterCandidates_ExcludesFailedState(t *testing.T) {
	models := []modelapi.Model{
		&fakeModel{id: "a", st: modelapi.StateFailed},
		&fakeModel{id: "b", st: modelapi.StateLoaded},
	}
	out := filterCandidates(models, routerapi.Requirements{})
	require.Len(t, out, 1)
	require.Equal(t, "b", out[0].ID())
}

func TestFilterCandidates_CapabilityFilters(t *testing.T) {
	models := []modelapi.Model{
		&fakeModel{
			id: "stream-only", st: modelapi.StateLoaded,
			caps:   modelapi.Capabilities{modelapi.CapabilityStreaming: true},
			params: modelapi.Parameters{ContextWindow: 1000},
		},
		&fakeModel{
			id: "embed-only", st: modelapi.StateLoaded,
			caps:   modelapi.Capabilities{modelapi.CapabilityEmbedding: true},
			params: modelapi.Parameters{ContextWindow: 1000},
		},
	}
	out := filterCandidates(models, routerapi.Requirements{RequireStreaming: true})
	require.Len(t, out, 1)
	require.Equal(t, "stream-only", out[0].ID())

	out = filterCandidates(models, routerapi.Requirements{MinContextWindow: 2000})
	require.Len(t, out, 0)
}

func TestFilterCandidates_MaxSizeExcludesOversizedModels(t *testing.T) {
	models := []modelapi.Model{
		&fakeModel{id: "small", st: modelapi.StateLoaded, params: modelapi.Parameters{Count: 1_000_000_000}},
		&fakeModel{id: "large", st: modelapi.StateLoaded, params: modelapi.Parameters{Count: 70_000_000_000}},
	}
	out := filterCandidates(models, routerapi.Requirements{MaxSize: 10_000_000_000})
	require.Len(t, out, 1)
	require.Equal(t, "small", out[0].ID())
}

func TestFilterCandidates_FormatMustMatchExactly(t *testing.T) {
	models := []modelapi.Model{
		&fakeModel{id: "a", st: modelapi.StateLoaded, format: "gguf"},
		&fakeModel{id: "b", st: modelapi.StateLoaded, format: "onnx"},
	}
	out := filterCandidates(models, routerapi.Requirements{Format: "onnx"})
	require.Len(t, out, 1)
	require.Equal(t, "b", out[0].ID())
}

func TestHasAllTags(t *testing.T) {
	require.True(t, hasAllTags([]string{"GPU", "eu"}, []string{"gpu"}))
	require.False(t, hasAllTags([]string{"cpu"}, []string{"gpu"}))
	require.True(t, hasAllTags([]string{"gpu"}, nil))
}
