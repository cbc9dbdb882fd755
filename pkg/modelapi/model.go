// Package modelapi defines the public contracts for loadable models and their
// format-specific loaders. Concrete implementations live in internal/model and
// internal/loader; this package only carries the shapes callers program
// against, mirroring the pkg/ vs internal/ split the teacher uses for its
// Provider interface (pkg/provider/provider.go).
package modelapi

import "context"

// State is the lifecycle stage of a Model.
type State string

const (
	StateUnloaded State = "unloaded"
	StateLoading  State = "loading"
	StateLoaded   State = "loaded"
	StateFailed   State = "failed"
)

// Capability is one member of the closed set spec.md §3 draws a Model's
// advertised capabilities from.
type Capability string

const (
	CapabilityCompletion      Capability = "completion"
	CapabilityChat            Capability = "chat"
	CapabilityStreaming       Capability = "streaming"
	CapabilityBatching        Capability = "batching"
	CapabilityQuantization    Capability = "quantization"
	CapabilityEmbedding       Capability = "embedding"
	CapabilityFunctionCalling Capability = "function-calling"
	CapabilityVision          Capability = "vision"
	CapabilityAudio           Capability = "audio"
)

// Capabilities is the set of Capability values a Model advertises, used by
// the router's CapabilityMatch strategy and by Loaders to declare support.
type Capabilities map[Capability]bool

// Supports reports whether c includes capability.
func (c Capabilities) Supports(capability Capability) bool {
	return c[capability]
}

// ExecutionEngine identifies the runtime a Model executes under, used to key
// the Cost scorer's compute-cost rate table (spec.md §4.4).
type ExecutionEngine string

const (
	EngineWebGPU ExecutionEngine = "webgpu"
	EngineWASM   ExecutionEngine = "wasm"
	EngineNode   ExecutionEngine = "node"
	EngineEdge   ExecutionEngine = "edge"
	EngineCloud  ExecutionEngine = "cloud"
)

// Parameters is the declared size and shape of a Model, mirroring spec.md
// §3's "Parameters: declared parameter count, context window, optional
// quantization tag", extended with the execution-engine/size-in-GB pair the
// Cost scorer's compute-cost term needs.
type Parameters struct {
	// Count is the declared parameter count, used by the Quality scorer's
	// size bonus for models absent from its name table.
	Count           int64
	ContextWindow   int
	MaxOutputTokens int
	QuantizationTag string
	// SizeGB is the on-disk/VRAM footprint used by the Cost scorer's
	// compute-cost table.
	SizeGB int64
	Engine ExecutionEngine
	// SupportedTasks, when non-empty, restricts which RequireTask filters
	// this Model satisfies.
	SupportedTasks []string
}

// Options carries per-request generation parameters.
type Options struct {
	Temperature      float64
	MaxTokens        int
	TopP             float64
	Stop             []string
	Task             string
	RequirementsTags []string

	// Template, when non-empty, is the prompt template applied by the
	// Pipeline's pre-process step: every "{prompt}" occurrence is replaced
	// with the caller's raw prompt before SystemPrompt is prepended.
	Template string
	// SystemPrompt, when set, is prepended to the (possibly templated)
	// prompt separated by two newlines.
	SystemPrompt string
}

// Result is the outcome of a single non-streaming generation.
type Result struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	FinishReason     string
}

// Chunk is a single increment of a streaming generation.
type Chunk struct {
	Delta        string
	FinishReason string
	Done         bool
}

// StreamIter is a pull-based iterator over Chunks, mirroring the teacher's
// stream.go StreamReader: Recv returns io.EOF once exhausted, and Close must
// always be called to release the underlying concurrency slot.
type StreamIter interface {
	Recv(ctx context.Context) (Chunk, error)
	Close() error
}

// Metrics is the rolling performance window tracked per Model, grounded on
// internal/router/types.go's DeploymentStats.
type Metrics struct {
	TotalRequests      int64
	FailedRequests     int64
	ConcurrentRequests int64
	AvgLatencyMs       float64
	AvgTTFTMs          float64
	LastUsedUnixNano   int64
}

// Model is the public contract for a single loaded (or loadable) model
// instance. Concrete inference is delegated to a Backend supplied by a
// Loader; Model itself owns lifecycle state, reference counting, and the
// rolling Metrics window.
type Model interface {
	ID() string
	Format() string
	State() State
	Capabilities() Capabilities
	// Supports reports whether this Model advertises capability, per
	// §4.1's "load/unload/generate/stream/embed/tokenize/supports/metrics"
	// contract. Equivalent to Capabilities().Supports(capability) but
	// callers that only need a single check need not build the full set.
	Supports(capability Capability) bool
	Parameters() Parameters
	Metrics() Metrics
	Tags() []string

	Load(ctx context.Context) error
	Unload(ctx context.Context) error

	Generate(ctx context.Context, prompt string, opts Options) (Result, error)
	Stream(ctx context.Context, prompt string, opts Options) (StreamIter, error)
	Embed(ctx context.Context, texts []string) ([][]float64, error)
	Tokenize(text string) []int
}

// Loader produces Models from a source descriptor. Each Loader registers
// under a format tag via a Registry-style factory map, grounded on
// internal/provider/registry.go's RegisterFactory/CreateProvider pattern.
type Loader interface {
	Format() string
	// Detect reports whether this Loader can handle the given source
	// descriptor (explicit format tag, URI scheme, file extension, or
	// remote-repo pattern), per the detection policy in SPEC_FULL.md §4.2.
	Detect(source Source) bool
	Load(ctx context.Context, source Source) (Model, error)
}

// Source describes where a model's weights/config come from.
type Source struct {
	// ExplicitFormat, when set, bypasses scheme/extension/remote detection.
	ExplicitFormat string
	URI            string
	ID             string
	Tags           []string
	Metadata       map[string]string
}
