// Package loader implements modelapi.Loader: a format-tag-keyed factory
// registry plus the detection policy (explicit tag -> URI scheme -> file
// extension table -> remote-repo pattern -> unknown), grounded on
// internal/provider/registry.go's RegisterFactory/CreateProvider pair.
package loader

import (
	"context"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/corterix/gateway/pkg/ferrors"
	"github.com/corterix/gateway/pkg/modelapi"
)

// extensionFormats maps file extensions to format tags, grounded on the
// multi-backend weights formats the teacher's providers/ adapters enumerate.
var extensionFormats = map[string]string{
	".gguf":        "gguf",
	".ggml":        "ggml",
	".onnx":        "onnx",
	".safetensors": "safetensors",
	".pt":          "pytorch",
	".pth":         "pytorch",
	".bin":         "binary",
	".pb":          "tensorflow",
	".tflite":      "tensorflowjs",
}

var remotePattern = regexp.MustCompile(`^[\w.-]+/[\w.-]+$`)

// Registry holds the installed Loaders keyed by format tag and implements
// the detection policy for picking one from a Source.
type Registry struct {
	mu      sync.RWMutex
	loaders map[string]modelapi.Loader
}

func NewRegistry() *Registry {
	return &Registry{loaders: make(map[string]modelapi.Loader)}
}

// Register installs a Loader under its own Format() tag. A later call with
// the same tag replaces the earlier one, matching RegisterFactory's
// overwrite semantics in the teacher.
func (r *Registry) Register(l modelapi.Loader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaders[l.Format()] = l
}

// Resolve applies the detection policy and returns the matching Loader, or
// ferrors.NewNoLoaderError if nothing matches.
func (r *Registry) Resolve(source modelapi.Source) (modelapi.Loader, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if source.ExplicitFormat != "" {
		if l, ok := r.loaders[source.ExplicitFormat]; ok {
			return l, nil
		}
		return nil, ferrors.NewNoLoaderError(source.ExplicitFormat)
	}

	if scheme, ok := schemeOf(source.URI); ok {
		for _, l := range r.loaders {
			if l.Detect(source) {
				_ = scheme
				return l, nil
			}
		}
	}

	ext := strings.ToLower(filepath.Ext(source.URI))
	if format, ok := extensionFormats[ext]; ok {
		if l, ok := r.loaders[format]; ok {
			return l, nil
		}
	}

	if remotePattern.MatchString(source.URI) {
		if l, ok := r.loaders["huggingface"]; ok {
			return l, nil
		}
	}

	for _, l := range r.loaders {
		if l.Detect(source) {
			return l, nil
		}
	}

	return nil, ferrors.NewNoLoaderError("unknown")
}

// Load resolves then loads in one call.
func (r *Registry) Load(ctx context.Context, source modelapi.Source) (modelapi.Model, error) {
	l, err := r.Resolve(source)
	if err != nil {
		return nil, err
	}
	return l.Load(ctx, source)
}

func schemeOf(uri string) (string, bool) {
	idx := strings.Index(uri, "://")
	if idx <= 0 {
		return "", false
	}
	return uri[:idx], true
}
