// Package engine is the inference engine adapter: the sole owner of the
// model execution resource.
//
// The adapter separates two concerns. A Runtime knows how to talk to the
// opaque model library (over HTTP to a sidecar, or by invoking a CLI); the
// Serial wrapper owns the admission queue that guarantees at most one
// in-flight model operation regardless of caller concurrency.
package engine

import (
	"context"

	"github.com/book-expert/voice-clone-service/internal/core"
)

// Runtime executes model operations. Implementations do not need to be
// safe for concurrent use: Serial never issues overlapping calls.
type Runtime interface {
	// DeriveSpeaker extracts a speaker representation from a reference
	// sample and returns an opaque embedding handle.
	DeriveSpeaker(ctx context.Context, sample []byte, format string) (string, error)

	// Synthesize renders the request text as audio conditioned on the
	// embedding handle. The returned bytes are a complete WAV file.
	Synthesize(ctx context.Context, req core.SynthesisRequest) ([]byte, error)

	// Health reports whether the model runtime is reachable and loaded.
	Health(ctx context.Context) error
}

// Limits bounds admission into the inference queue.
type Limits struct {
	// MaxQueueDepth is the number of requests allowed to wait for the
	// exclusive slot; further requests fail with ErrQueueFull.
	MaxQueueDepth int

	// MaxTextLength caps synthesis input, in runes.
	MaxTextLength int

	// MinSampleSeconds is the minimum reference sample duration.
	MinSampleSeconds float64
}

// Reference samples quieter than this normalized peak are treated as silent.
const silenceFloor = 0.005

var _ core.SpeechEngine = (*Serial)(nil)
