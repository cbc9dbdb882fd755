// Package pipelineapi is the public contract for request processing against
// an already-selected Model: pre/post-processing, retry-with-backoff,
// response caching, and the streaming adapter. Concrete behavior lives in
// internal/pipeline, mirroring the pkg/modelapi vs internal/model split.
package pipelineapi

import (
	"context"
	"time"

	"github.com/corterix/gateway/pkg/modelapi"
)

// Request is a single generation request against a specific Model.
type Request struct {
	Prompt  string
	Options modelapi.Options

	// NoCache skips a cache read (force a fresh generation).
	NoCache bool
	// NoStore skips writing the result to the cache.
	NoStore bool
	// CacheTTL overrides the pipeline's default response-cache TTL when > 0.
	CacheTTL time.Duration
}

// Response is the outcome of Pipeline.Process.
type Response struct {
	Result   modelapi.Result
	ModelID  string
	Cached   bool
	Attempts int
}

// StreamChunk is a single unit of a streamed response, already normalized
// from the underlying modelapi.Chunk (bare delta text plus terminal state).
type StreamChunk struct {
	Text         string
	FinishReason string
	Done         bool
}

// StreamHandle is a pull-based iterator over StreamChunks. Recv returns
// io.EOF once the stream is exhausted; Close must always be called and is
// safe to call multiple times.
type StreamHandle interface {
	Recv(ctx context.Context) (StreamChunk, error)
	Close() error
}

// Pipeline processes requests against a single, already-selected Model.
// It owns local retry of transient failures; it never re-selects a
// different Model — that is the Orchestrator's fallback-chain
// responsibility.
type Pipeline interface {
	Process(ctx context.Context, m modelapi.Model, req Request) (Response, error)
	Stream(ctx context.Context, m modelapi.Model, req Request) (StreamHandle, error)
}
