package pipeline

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corterix/gateway/internal/cache"
	"github.com/corterix/gateway/internal/config"
	"github.com/corterix/gateway/pkg/ferrors"
	"github.com/corterix/gateway/pkg/modelapi"
	"github.com/corterix/gateway/pkg/pipelineapi"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedModel is a minimal modelapi.Model whose Generate/Stream behavior is
// scripted per-test: genErrs is consumed in order, with the final call
// succeeding once exhausted.
type scriptedModel struct {
	id          string
	genErrs     []error
	genCalls    int
	genResult   modelapi.Result
	streamFn    func(ctx context.Context, prompt string, opts modelapi.Options) (<-chan modelapi.Chunk, <-chan error)
	lastPrompt  string
}

func (m *scriptedModel) ID() string                         { return m.id }
func (m *scriptedModel) Format() string                     { return "fake" }
func (m *scriptedModel) State() modelapi.State               { return modelapi.StateLoaded }
func (m *scriptedModel) Capabilities() modelapi.Capabilities { return modelapi.Capabilities{} }
func (m *scriptedModel) Supports(c modelapi.Capability) bool { return false }
func (m *scriptedModel) Parameters() modelapi.Parameters     { return modelapi.Parameters{} }
func (m *scriptedModel) Metrics() modelapi.Metrics           { return modelapi.Metrics{} }
func (m *scriptedModel) Tags() []string                      { return nil }
func (m *scriptedModel) Load(ctx context.Context) error      { return nil }
func (m *scriptedModel) Unload(ctx context.Context) error    { return nil }
func (m *scriptedModel) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	return nil, nil
}
func (m *scriptedModel) Tokenize(text string) []int { return nil }

func (m *scriptedModel) Generate(ctx context.Context, prompt string, opts modelapi.Options) (modelapi.Result, error) {
	m.lastPrompt = prompt
	if m.genCalls < len(m.genErrs) {
		err := m.genErrs[m.genCalls]
		m.genCalls++
		if err != nil {
			return modelapi.Result{}, err
		}
	}
	m.genCalls++
	return m.genResult, nil
}

func (m *scriptedModel) Stream(ctx context.Context, prompt string, opts modelapi.Options) (modelapi.StreamIter, error) {
	chunks, errs := m.streamFn(ctx, prompt, opts)
	return &fakeStreamIter{chunks: chunks, errs: errs}, nil
}

type fakeStreamIter struct {
	chunks <-chan modelapi.Chunk
	errs   <-chan error
}

func (f *fakeStreamIter) Recv(ctx context.Context) (modelapi.Chunk, error) {
	select {
	case c, ok := <-f.chunks:
		if !ok {
			return modelapi.Chunk{}, io.EOF
		}
		return c, nil
	case err := <-f.errs:
		if err == nil {
			return modelapi.Chunk{}, io.EOF
		}
		return modelapi.Chunk{}, err
	}
}

func (f *fakeStreamIter) Close() error { return nil }

func testPipeline(cfg config.PipelineConfig, backend cache.Cache) *Pipeline {
	return New(cfg, backend, testLogger())
}

func TestPipeline_Process_SuccessNoRetry(t *testing.T) {
	m := &scriptedModel{id: "m1", genResult: modelapi.Result{Text: "hi", FinishReason: "stop"}}
	p := testPipeline(config.PipelineConfig{Retries: 2, RetryBackoff: time.Millisecond}, nil)

	resp, err := p.Process(context.Background(), m, pipelineapi.Request{Prompt: "hello"})
	require.NoError(t, err)
	require.Equal(t, "hi", resp.Result.Text)
	require.Equal(t, 1, resp.Attempts)
	require.False(t, resp.Cached)
}

func TestPipeline_Process_RetriesThenSucceeds(t *testing.T) {
	m := &scriptedModel{
		id:        "m1",
		genErrs:   []error{ferrors.NewUpstreamError("m1", "boom"), ferrors.NewUpstreamError("m1", "boom again")},
		genResult: modelapi.Result{Text: "done"},
	}
	p := testPipeline(config.PipelineConfig{Retries: 2, RetryBackoff: time.Millisecond, RetryJitter: 0.1}, nil)

	resp, err := p.Process(context.Background(), m, pipelineapi.Request{Prompt: "hello"})
	require.NoError(t, err)
	require.Equal(t, "done", resp.Result.Text)
	require.Equal(t, 3, resp.Attempts)
}

func TestPipeline_Process_NonRetryableFailsImmediately(t *testing.T) {
	m := &scriptedModel{id: "m1", genErrs: []error{ferrors.NewInvalidRequestError("bad request")}}
	p := testPipeline(config.PipelineConfig{Retries: 3, RetryBackoff: time.Millisecond}, nil)

	_, err := p.Process(context.Background(), m, pipelineapi.Request{Prompt: "hello"})
	require.Error(t, err)
	require.Equal(t, 1, m.genCalls)
}

func TestPipeline_Process_ExhaustsRetries(t *testing.T) {
	m := &scriptedModel{id: "m1", genErrs: []error{
		ferrors.NewUpstreamError("m1", "1"),
		ferrors.NewUpstreamError("m1", "2"),
		ferrors.NewUpstreamError("m1", "3"),
	}}
	p := testPipeline(config.PipelineConfig{Retries: 2, RetryBackoff: time.Millisecond}, nil)

	_, err := p.Process(context.Background(), m, pipelineapi.Request{Prompt: "hello"})
	require.Error(t, err)
}

func TestPipeline_Process_CacheHitSkipsGenerate(t *testing.T) {
	backend := cache.NewMemoryCache(cache.DefaultMemoryCacheConfig())
	m := &scriptedModel{id: "m1", genResult: modelapi.Result{Text: "first"}}
	p := testPipeline(config.PipelineConfig{Retries: 1, RetryBackoff: time.Millisecond, ResponseCacheTTL: time.Minute}, backend)

	first, err := p.Process(context.Background(), m, pipelineapi.Request{Prompt: "cacheable"})
	require.NoError(t, err)
	require.False(t, first.Cached)

	m.genResult = modelapi.Result{Text: "second"}
	second, err := p.Process(context.Background(), m, pipelineapi.Request{Prompt: "cacheable"})
	require.NoError(t, err)
	require.True(t, second.Cached)
	require.Equal(t, "first", second.Result.Text)
}

func TestPipeline_Process_NoCacheForcesFresh(t *testing.T) {
	backend := cache.NewMemoryCache(cache.DefaultMemoryCacheConfig())
	m := &scriptedModel{id: "m1", genResult: modelapi.Result{Text: "first"}}
	p := testPipeline(config.PipelineConfig{Retries: 1, ResponseCacheTTL: time.Minute}, backend)

	_, err := p.Process(context.Background(), m, pipelineapi.Request{Prompt: "x"})
	require.NoError(t, err)

	m.genResult = modelapi.Result{Text: "second"}
	resp, err := p.Process(context.Background(), m, pipelineapi.Request{Prompt: "x", NoCache: true})
	require.NoError(t, err)
	require.False(t, resp.Cached)
	require.Equal(t, "second", resp.Result.Text)
}

func TestPipeline_Process_PreprocessesTemplateAndSystemPrompt(t *testing.T) {
	m := &scriptedModel{id: "m1", genResult: modelapi.Result{Text: "ok"}}
	p := testPipeline(config.PipelineConfig{Retries: 0}, nil)

	_, err := p.Process(context.Background(), m, pipelineapi.Request{
		Prompt: "world",
		Options: modelapi.Options{
			Template:     "hello {prompt}!",
			SystemPrompt: "be nice",
		},
	})
	require.NoError(t, err)
	require.Equal(t, "be nice\n\nhello world!", m.lastPrompt)
}
