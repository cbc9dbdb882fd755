package loader

import (
	"context"
	"regexp"

	"github.com/corterix/gateway/internal/model"
	"github.com/corterix/gateway/pkg/ferrors"
	"github.com/corterix/gateway/pkg/modelapi"
)

var hfPattern = regexp.MustCompile(`^[\w.-]+/[\w.-]+$`)

// HuggingFaceLoader resolves the remote "org/model" repo-id pattern. Like
// LocalFileLoader it stands in for a real HTTP download-and-run backend;
// this build reports KindUpstreamError from Generate, exercising only the
// remote-pattern branch of the detection policy.
type HuggingFaceLoader struct{}

func NewHuggingFaceLoader() *HuggingFaceLoader { return &HuggingFaceLoader{} }

func (l *HuggingFaceLoader) Format() string { return "huggingface" }

func (l *HuggingFaceLoader) Detect(source modelapi.Source) bool {
	if source.ExplicitFormat == "huggingface" {
		return true
	}
	return hfPattern.MatchString(source.URI)
}

func (l *HuggingFaceLoader) Load(ctx context.Context, source modelapi.Source) (modelapi.Model, error) {
	id := source.ID
	if id == "" {
		id = source.URI
	}

	backend := func(ctx context.Context, prompt string, opts modelapi.Options) (modelapi.Result, error) {
		return modelapi.Result{}, ferrors.NewUpstreamError(id, "remote huggingface inference is not implemented in this build")
	}

	inst := model.New(model.Config{
		ID:     id,
		Format: "huggingface",
		Capabilities: modelapi.Capabilities{
			modelapi.CapabilityChat:       true,
			modelapi.CapabilityCompletion: true,
		},
		Parameters: modelapi.Parameters{
			ContextWindow:   8192,
			MaxOutputTokens: 2048,
			SizeGB:          14,
			Engine:          modelapi.EngineCloud,
		},
		Tags:    source.Tags,
		Backend: backend,
	})
	if err := inst.Load(ctx); err != nil {
		return nil, err
	}
	return inst, nil
}
