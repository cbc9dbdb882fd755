package loader

import (
	"context"
	"fmt"
	"strings"

	"github.com/corterix/gateway/internal/model"
	"github.com/corterix/gateway/pkg/modelapi"
)

// MockLoader produces deterministic in-memory Models used pervasively by
// tests. It never touches the network or filesystem; Generate echoes a
// canned response derived from the prompt so tests can assert on routing and
// pipeline behavior without a real inference backend.
type MockLoader struct {
	// Caps and Params are copied into every Model this loader produces.
	Caps   modelapi.Capabilities
	Params modelapi.Parameters
}

func NewMockLoader() *MockLoader {
	return &MockLoader{
		Caps: modelapi.Capabilities{
			modelapi.CapabilityChat:      true,
			modelapi.CapabilityStreaming: true,
			modelapi.CapabilityEmbedding: true,
			modelapi.CapabilityCompletion: true,
		},
		Params: modelapi.Parameters{
			Count:           7_000_000_000,
			ContextWindow:   8192,
			MaxOutputTokens: 2048,
			SizeGB:          4,
			Engine:          modelapi.EngineNode,
			SupportedTasks:  []string{"chat", "completion", "embedding"},
		},
	}
}

func (l *MockLoader) Format() string { return "mock" }

func (l *MockLoader) Detect(source modelapi.Source) bool {
	return source.ExplicitFormat == "mock" || strings.HasPrefix(source.URI, "mock://")
}

func (l *MockLoader) Load(ctx context.Context, source modelapi.Source) (modelapi.Model, error) {
	id := source.ID
	if id == "" {
		id = strings.TrimPrefix(source.URI, "mock://")
	}

	backend := func(ctx context.Context, prompt string, opts modelapi.Options) (modelapi.Result, error) {
		text := fmt.Sprintf("[%s] %s", id, prompt)
		return modelapi.Result{
			Text:             text,
			PromptTokens:     len(prompt) / 4,
			CompletionTokens: len(text) / 4,
			FinishReason:     "stop",
		}, nil
	}

	streamBackend := func(ctx context.Context, prompt string, opts modelapi.Options) (<-chan modelapi.Chunk, <-chan error) {
		chunks := make(chan modelapi.Chunk, 4)
		errs := make(chan error, 1)
		go func() {
			defer close(chunks)
			words := strings.Fields(fmt.Sprintf("[%s] %s", id, prompt))
			for i, w := range words {
				select {
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				case chunks <- modelapi.Chunk{Delta: w + " ", Done: i == len(words)-1, FinishReason: finishIf(i == len(words)-1)}:
				}
			}
			if len(words) == 0 {
				chunks <- modelapi.Chunk{Done: true, FinishReason: "stop"}
			}
		}()
		return chunks, errs
	}

	embedBackend := func(ctx context.Context, texts []string) ([][]float64, error) {
		out := make([][]float64, len(texts))
		for i, t := range texts {
			out[i] = []float64{float64(len(t)), float64(len(texts))}
		}
		return out, nil
	}

	inst := model.New(model.Config{
		ID:            id,
		Format:        "mock",
		Capabilities:  l.Caps,
		Parameters:    l.Params,
		Tags:          source.Tags,
		Backend:       backend,
		StreamBackend: streamBackend,
		EmbedBackend:  embedBackend,
	})
	if err := inst.Load(ctx); err != nil {
		return nil, err
	}
	return inst, nil
}

func finishIf(done bool) string {
	if done {
		return "stop"
	}
	return ""
}
