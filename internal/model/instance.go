// Package model provides the concrete Model implementation: lifecycle state
// machine, reference-counted concurrency guard, and rolling metrics window.
// Grounded on internal/provider/interface.go's Provider shape and the
// acquire/release discipline in client.go's acquireDeployment/executeOnce.
package model

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/corterix/gateway/internal/resilience"
	"github.com/corterix/gateway/pkg/ferrors"
	"github.com/corterix/gateway/pkg/modelapi"
)

// defaultMinConcurrency and defaultMaxConcurrency bound the AdaptiveLimiter
// an Instance uses for backpressure when Config.MaxConcurrency is unset.
const (
	defaultMinConcurrency = 1.0
	defaultMaxConcurrency = 32.0
)

// Backend executes a single non-streaming generation. Loaders supply this
// function; it is the seam at which a real inference back-end (HTTP client,
// in-process weights runner) attaches. The core never calls an external
// network or GPU itself.
type Backend func(ctx context.Context, prompt string, opts modelapi.Options) (modelapi.Result, error)

// StreamBackend executes a streaming generation, emitting chunks over the
// returned channel and closing it when done. If nil, Stream falls back to a
// single-shot Generate wrapped in one chunk.
type StreamBackend func(ctx context.Context, prompt string, opts modelapi.Options) (<-chan modelapi.Chunk, <-chan error)

// EmbedBackend executes an embedding request.
type EmbedBackend func(ctx context.Context, texts []string) ([][]float64, error)

// TokenizeFunc estimates token counts without calling out to a backend.
type TokenizeFunc func(text string) []int

// Instance is the concrete modelapi.Model implementation.
type Instance struct {
	id     string
	format string
	caps   modelapi.Capabilities
	params modelapi.Parameters
	tags   []string

	backend       Backend
	streamBackend StreamBackend
	embedBackend  EmbedBackend
	tokenize      TokenizeFunc

	// limiter backs this Instance's own declared concurrency limit
	// (spec.md §5's backpressure model): Generate/Stream/Embed acquire a
	// permit before running and release it with the observed latency, so
	// the allowed concurrency tracks this model's actual responsiveness
	// instead of a single fixed ceiling.
	limiter *resilience.AdaptiveLimiter

	mu        sync.RWMutex
	state     modelapi.State
	loadErr   error
	unloading bool

	metricsMu sync.Mutex
	metrics   modelapi.Metrics
	// latency/ttft use a simple exponential moving average, grounded on the
	// teacher's rolling-window bookkeeping in internal/router/base.go.
}

// Config configures a new Instance.
type Config struct {
	ID            string
	Format        string
	Capabilities  modelapi.Capabilities
	Parameters    modelapi.Parameters
	Tags          []string
	Backend       Backend
	StreamBackend StreamBackend
	EmbedBackend  EmbedBackend
	Tokenize      TokenizeFunc

	// MaxConcurrency bounds the AdaptiveLimiter's ceiling; 0 uses
	// defaultMaxConcurrency.
	MaxConcurrency float64
}

// New creates a Model in the Unloaded state. Load must be called before use.
func New(cfg Config) *Instance {
	maxConcurrency := cfg.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = defaultMaxConcurrency
	}
	return &Instance{
		id:            cfg.ID,
		format:        cfg.Format,
		caps:          cfg.Capabilities,
		params:        cfg.Parameters,
		tags:          cfg.Tags,
		backend:       cfg.Backend,
		streamBackend: cfg.StreamBackend,
		embedBackend:  cfg.EmbedBackend,
		tokenize:      cfg.Tokenize,
		limiter:       resilience.NewAdaptiveLimiter(defaultMinConcurrency, maxConcurrency),
		state:         modelapi.StateUnloaded,
	}
}

func (m *Instance) ID() string                          { return m.id }
func (m *Instance) Format() string                      { return m.format }
func (m *Instance) Capabilities() modelapi.Capabilities { return m.caps }
func (m *Instance) Supports(capability modelapi.Capability) bool {
	return m.caps.Supports(capability)
}
func (m *Instance) Parameters() modelapi.Parameters { return m.params }
func (m *Instance) Tags() []string                  { return m.tags }

func (m *Instance) State() modelapi.State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Instance) Metrics() modelapi.Metrics {
	m.metricsMu.Lock()
	defer m.metricsMu.Unlock()
	snap := m.metrics
	snap.ConcurrentRequests = int64(m.limiter.Inflight())
	return snap
}

// Load transitions Unloaded -> Loading -> Loaded (or Failed). It is a no-op
// if already Loaded, and returns an error if a load is already in flight or
// the instance is mid-unload.
func (m *Instance) Load(ctx context.Context) error {
	m.mu.Lock()
	if m.unloading {
		m.mu.Unlock()
		return ferrors.NewInvalidRequestError("model is unloading: " + m.id)
	}
	switch m.state {
	case modelapi.StateLoaded:
		m.mu.Unlock()
		return nil
	case modelapi.StateLoading:
		m.mu.Unlock()
		return ferrors.NewInvalidRequestError("model is already loading: " + m.id)
	}
	m.state = modelapi.StateLoading
	m.mu.Unlock()

	// Loaders that need real work (opening files, calling a remote registry)
	// do it through backend construction before New is called; Load here
	// only flips state, since the Backend closure is already bound.
	if m.backend == nil && m.streamBackend == nil && m.embedBackend == nil {
		m.mu.Lock()
		m.state = modelapi.StateFailed
		m.loadErr = ferrors.NewUpstreamError(m.id, "no backend configured")
		m.mu.Unlock()
		return m.loadErr
	}

	m.mu.Lock()
	m.state = modelapi.StateLoaded
	m.mu.Unlock()
	return nil
}

// Unload blocks new requests, drains in-flight ones, then transitions to
// Unloaded. It never races with Generate/Stream because both check state
// under m.mu before taking a limiter permit.
func (m *Instance) Unload(ctx context.Context) error {
	m.mu.Lock()
	if m.state == modelapi.StateUnloaded {
		m.mu.Unlock()
		return nil
	}
	m.unloading = true
	m.mu.Unlock()

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		if m.limiter.Inflight() == 0 {
			break
		}
		select {
		case <-ctx.Done():
			m.mu.Lock()
			m.unloading = false
			m.mu.Unlock()
			return ferrors.NewTimeoutError(m.id, "timed out waiting for in-flight requests during unload")
		case <-ticker.C:
		}
	}

	m.mu.Lock()
	m.state = modelapi.StateUnloaded
	m.unloading = false
	m.mu.Unlock()
	return nil
}

// acquire takes a permit from the adaptive concurrency limiter iff the model
// is Loaded and not unloading, returning a release func that must always be
// deferred. It returns a retryable RateLimited error, not NotLoaded, when the
// model is loaded but already at its adaptive limit, so callers (the
// Pipeline's retry loop) can distinguish "try another deployment" from "this
// one will never serve."
func (m *Instance) acquire() (func(), error) {
	m.mu.RLock()
	if m.state != modelapi.StateLoaded || m.unloading {
		m.mu.RUnlock()
		return nil, ferrors.NewNotLoadedError(m.id)
	}
	acquired := m.limiter.TryAcquire()
	m.mu.RUnlock()

	if !acquired {
		return nil, ferrors.NewRateLimitedError(m.id, "model is at its adaptive concurrency limit")
	}

	start := time.Now()
	released := int32(0)
	return func() {
		if atomic.CompareAndSwapInt32(&released, 0, 1) {
			m.limiter.Release(time.Since(start))
		}
	}, nil
}

func (m *Instance) recordResult(start time.Time, ttft time.Duration, failed bool) {
	m.metricsMu.Lock()
	defer m.metricsMu.Unlock()
	m.metrics.TotalRequests++
	if failed {
		m.metrics.FailedRequests++
	}
	latMs := float64(time.Since(start).Milliseconds())
	const alpha = 0.2
	if m.metrics.AvgLatencyMs == 0 {
		m.metrics.AvgLatencyMs = latMs
	} else {
		m.metrics.AvgLatencyMs = alpha*latMs + (1-alpha)*m.metrics.AvgLatencyMs
	}
	if ttft > 0 {
		ttftMs := float64(ttft.Milliseconds())
		if m.metrics.AvgTTFTMs == 0 {
			m.metrics.AvgTTFTMs = ttftMs
		} else {
			m.metrics.AvgTTFTMs = alpha*ttftMs + (1-alpha)*m.metrics.AvgTTFTMs
		}
	}
	m.metrics.LastUsedUnixNano = time.Now().UnixNano()
}

func (m *Instance) Generate(ctx context.Context, prompt string, opts modelapi.Options) (modelapi.Result, error) {
	release, err := m.acquire()
	if err != nil {
		return modelapi.Result{}, err
	}
	defer release()

	start := time.Now()
	if m.backend == nil {
		m.recordResult(start, 0, true)
		return modelapi.Result{}, ferrors.NewUpstreamError(m.id, "backend does not support generate")
	}
	res, err := m.backend(ctx, prompt, opts)
	m.recordResult(start, 0, err != nil)
	return res, err
}

// Embed runs an embedding request; it participates in the same refcount as
// Generate/Stream so Unload cannot race an in-flight embed call.
func (m *Instance) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	release, err := m.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	if m.embedBackend == nil {
		return nil, ferrors.NewUpstreamError(m.id, "backend does not support embeddings")
	}
	return m.embedBackend(ctx, texts)
}

func (m *Instance) Tokenize(text string) []int {
	if m.tokenize != nil {
		return m.tokenize(text)
	}
	// crude fallback: one token per 4 bytes, grounded on the common
	// estimate used when no real tokenizer is wired.
	n := (len(text) + 3) / 4
	toks := make([]int, n)
	for i := range toks {
		toks[i] = i
	}
	return toks
}

// instanceStream adapts a channel pair into a modelapi.StreamIter, grounded
// on stream.go's StreamReader: the finalizer (release) fires exactly once,
// on EOF, error, or Close, whichever comes first.
type instanceStream struct {
	chunks  <-chan modelapi.Chunk
	errs    <-chan error
	release func()
	once    sync.Once
	closed  bool
}

func (s *instanceStream) Recv(ctx context.Context) (modelapi.Chunk, error) {
	select {
	case c, ok := <-s.chunks:
		if !ok {
			s.finish()
			return modelapi.Chunk{}, io.EOF
		}
		if c.Done {
			s.finish()
		}
		return c, nil
	case err := <-s.errs:
		s.finish()
		if err == nil {
			return modelapi.Chunk{}, io.EOF
		}
		return modelapi.Chunk{}, err
	case <-ctx.Done():
		s.finish()
		return modelapi.Chunk{}, ctx.Err()
	}
}

func (s *instanceStream) finish() {
	s.once.Do(func() {
		if s.release != nil {
			s.release()
		}
	})
}

func (s *instanceStream) Close() error {
	s.finish()
	return nil
}

func (m *Instance) Stream(ctx context.Context, prompt string, opts modelapi.Options) (modelapi.StreamIter, error) {
	release, err := m.acquire()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	if m.streamBackend == nil {
		// fall back to single-shot generate wrapped as a one-chunk stream.
		if m.backend == nil {
			release()
			m.recordResult(start, 0, true)
			return nil, ferrors.NewUpstreamError(m.id, "backend does not support generate")
		}
		res, genErr := m.backend(ctx, prompt, opts)
		chunks := make(chan modelapi.Chunk, 1)
		errs := make(chan error, 1)
		if genErr != nil {
			errs <- genErr
		} else {
			chunks <- modelapi.Chunk{Delta: res.Text, FinishReason: res.FinishReason, Done: true}
			close(chunks)
		}
		m.recordResult(start, 0, genErr != nil)
		return &instanceStream{chunks: chunks, errs: errs, release: release}, nil
	}

	chunks, errs := m.streamBackend(ctx, prompt, opts)
	firstChunk := true
	wrapped := make(chan modelapi.Chunk)
	wrappedErrs := make(chan error, 1)
	go func() {
		defer close(wrapped)
		for {
			select {
			case c, ok := <-chunks:
				if !ok {
					m.recordResult(start, 0, false)
					return
				}
				if firstChunk {
					m.recordResult(start, time.Since(start), false)
					firstChunk = false
				}
				select {
				case wrapped <- c:
				case <-ctx.Done():
					return
				}
				if c.Done {
					return
				}
			case err := <-errs:
				if err != nil {
					m.recordResult(start, 0, true)
					wrappedErrs <- err
				}
				return
			case <-ctx.Done():
				m.recordResult(start, 0, true)
				wrappedErrs <- ctx.Err()
				return
			}
		}
	}()

	return &instanceStream{chunks: wrapped, errs: wrappedErrs, release: release}, nil
}
