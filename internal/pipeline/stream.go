package pipeline

import (
	"context"
	"io"
	"unicode"

	"github.com/corterix/gateway/pkg/ferrors"
	"github.com/corterix/gateway/pkg/modelapi"
	"github.com/corterix/gateway/pkg/pipelineapi"
)

// repeatThreshold is the number of consecutive identical non-empty
// fragments that trip corruption detection, grounded on spec.md §4.6's
// streaming-health validation.
const repeatThreshold = 3

// pipelineStream wraps a modelapi.StreamIter, normalizing chunks and
// aborting with CorruptedStream on detected repetition or control-character
// corruption.
type pipelineStream struct {
	modelID string
	inner   modelapi.StreamIter

	lastFragment string
	repeatCount  int
	aborted      bool
}

// Stream acquires a chunk source from m.Stream and wraps it with
// normalization and corruption detection.
func (p *Pipeline) Stream(ctx context.Context, m modelapi.Model, req pipelineapi.Request) (pipelineapi.StreamHandle, error) {
	prompt := preprocessPrompt(req.Prompt, req.Options.Template, req.Options.SystemPrompt)
	iter, err := m.Stream(ctx, prompt, req.Options)
	if err != nil {
		return nil, err
	}
	return &pipelineStream{modelID: m.ID(), inner: iter}, nil
}

func (s *pipelineStream) Recv(ctx context.Context) (pipelineapi.StreamChunk, error) {
	if s.aborted {
		return pipelineapi.StreamChunk{}, io.EOF
	}

	chunk, err := s.inner.Recv(ctx)
	if err != nil {
		if err == io.EOF {
			return pipelineapi.StreamChunk{Done: true, FinishReason: "stop"}, io.EOF
		}
		return pipelineapi.StreamChunk{}, err
	}

	text := chunk.Delta
	if text != "" {
		if hasControlCharCorruption(text) {
			s.aborted = true
			_ = s.inner.Close()
			return pipelineapi.StreamChunk{}, ferrors.NewCorruptedStreamError(s.modelID, "control character detected in stream fragment")
		}
		if text == s.lastFragment {
			s.repeatCount++
			if s.repeatCount >= repeatThreshold {
				s.aborted = true
				_ = s.inner.Close()
				return pipelineapi.StreamChunk{}, ferrors.NewCorruptedStreamError(s.modelID, "repeated fragment detected in stream")
			}
		} else {
			s.repeatCount = 1
			s.lastFragment = text
		}
	}

	return pipelineapi.StreamChunk{Text: text, FinishReason: chunk.FinishReason, Done: chunk.Done}, nil
}

func (s *pipelineStream) Close() error {
	s.aborted = true
	return s.inner.Close()
}

// hasControlCharCorruption reports whether fragment contains a control
// character other than the common whitespace ones, which real model output
// never legitimately emits mid-token.
func hasControlCharCorruption(fragment string) bool {
	for _, r := range fragment {
		if r == '\n' || r == '\t' || r == '\r' {
			continue
		}
		if unicode.IsControl(r) {
			return true
		}
	}
	return false
}
