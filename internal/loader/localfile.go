package loader

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/corterix/gateway/internal/model"
	"github.com/corterix/gateway/pkg/ferrors"
	"github.com/corterix/gateway/pkg/modelapi"
)

// LocalFileLoader handles weights files resolved through the extension
// table (gguf/ggml/onnx/safetensors/pytorch/binary/tensorflow/tensorflowjs).
// It stands in for a real weights loader: the resulting Model's Backend
// reports KindUpstreamError, since actually running inference against a
// local weights file is the out-of-scope "concrete model inference
// back-end" SPEC_FULL.md §4.2 names. It still exercises the Registry/
// format-detection contract end-to-end.
type LocalFileLoader struct {
	format string
}

func NewLocalFileLoader(format string) *LocalFileLoader {
	return &LocalFileLoader{format: format}
}

func (l *LocalFileLoader) Format() string { return l.format }

func (l *LocalFileLoader) Detect(source modelapi.Source) bool {
	if source.ExplicitFormat == l.format {
		return true
	}
	ext := strings.ToLower(filepath.Ext(source.URI))
	return extensionFormats[ext] == l.format
}

func (l *LocalFileLoader) Load(ctx context.Context, source modelapi.Source) (modelapi.Model, error) {
	id := source.ID
	if id == "" {
		id = filepath.Base(source.URI)
	}

	backend := func(ctx context.Context, prompt string, opts modelapi.Options) (modelapi.Result, error) {
		return modelapi.Result{}, ferrors.NewUpstreamError(id, "local weights inference is not implemented in this build")
	}

	inst := model.New(model.Config{
		ID:     id,
		Format: l.format,
		Capabilities: modelapi.Capabilities{
			modelapi.CapabilityChat:       true,
			modelapi.CapabilityCompletion: true,
		},
		Parameters: modelapi.Parameters{
			ContextWindow:   4096,
			MaxOutputTokens: 1024,
			SizeGB:          4,
			Engine:          modelapi.EngineNode,
		},
		Tags:    source.Tags,
		Backend: backend,
	})
	if err := inst.Load(ctx); err != nil {
		return nil, err
	}
	return inst, nil
}
