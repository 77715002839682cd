package engine

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-clone-service/internal/audioinfo"
	"github.com/book-expert/voice-clone-service/internal/core"
)

// task is one admitted model operation waiting for the exclusive slot.
type task struct {
	ctx  context.Context
	op   func(ctx context.Context) error
	done chan struct{}
	err  error
}

// Serial funnels all model operations through a single worker goroutine,
// giving strict FIFO admission and at most one in-flight model call.
//
// Cheap input validation happens before enqueueing so that invalid
// requests never consume the exclusive resource. A request that is still
// waiting in the queue honors caller cancellation; once its operation has
// started it runs to completion, because the model call itself is not
// interruptible.
type Serial struct {
	runtime Runtime
	limits  Limits
	log     *logger.Logger
	tasks   chan *task
	stopped chan struct{}
}

// NewSerial creates the serialized engine and starts its worker.
func NewSerial(runtime Runtime, limits Limits, log *logger.Logger) *Serial {
	serial := &Serial{
		runtime: runtime,
		limits:  limits,
		log:     log,
		tasks:   make(chan *task, limits.MaxQueueDepth),
		stopped: make(chan struct{}),
	}

	go serial.work()

	return serial
}

// Close drains the queue and stops the worker. Pending tasks fail with
// their context errors once the worker exits; Close waits for the worker.
func (s *Serial) Close() {
	close(s.tasks)
	<-s.stopped
}

func (s *Serial) work() {
	defer close(s.stopped)

	for pending := range s.tasks {
		// A caller that gave up while queued must not consume the slot.
		select {
		case <-pending.ctx.Done():
			pending.err = pending.ctx.Err()
			close(pending.done)

			continue
		default:
		}

		pending.err = pending.op(pending.ctx)
		close(pending.done)
	}
}

// submit enqueues op and blocks until it completes, fails, or the caller's
// context is canceled before execution starts.
func (s *Serial) submit(ctx context.Context, op func(ctx context.Context) error) error {
	pending := &task{
		ctx:  ctx,
		op:   op,
		done: make(chan struct{}),
		err:  nil,
	}

	select {
	case s.tasks <- pending:
	default:
		return fmt.Errorf("%w: %d requests already waiting", core.ErrQueueFull, s.limits.MaxQueueDepth)
	}

	select {
	case <-pending.done:
		return pending.err
	case <-ctx.Done():
		// The worker observes the same context: if the task has not
		// started it is skipped; if it is mid-flight the model call
		// finishes on the worker, but this caller stops waiting.
		return fmt.Errorf("request abandoned while queued: %w", ctx.Err())
	}
}

// BeginDerivation validates the reference sample and admits speaker
// derivation into the queue without waiting for the model. Validation and
// admission failures return synchronously; the outcome arrives on the
// channel once the worker has executed (or skipped) the task.
func (s *Serial) BeginDerivation(
	ctx context.Context,
	sample []byte,
	format string,
) (<-chan core.DeriveOutcome, error) {
	validationErr := s.validateSample(sample, format)
	if validationErr != nil {
		return nil, validationErr
	}

	var handle string

	pending := &task{
		ctx: ctx,
		op: func(ctx context.Context) error {
			derived, err := s.runtime.DeriveSpeaker(ctx, sample, format)
			if err != nil {
				return err
			}

			handle = derived

			return nil
		},
		done: make(chan struct{}),
		err:  nil,
	}

	select {
	case s.tasks <- pending:
	default:
		return nil, fmt.Errorf("%w: %d requests already waiting", core.ErrQueueFull, s.limits.MaxQueueDepth)
	}

	outcome := make(chan core.DeriveOutcome, 1)

	go func() {
		<-pending.done
		outcome <- core.DeriveOutcome{EmbeddingHandle: handle, Err: pending.err}
	}()

	return outcome, nil
}

// DeriveProfile validates the reference sample and runs speaker derivation
// through the exclusive slot, blocking until it completes.
func (s *Serial) DeriveProfile(ctx context.Context, sample []byte, format string) (string, error) {
	outcome, err := s.BeginDerivation(ctx, sample, format)
	if err != nil {
		return "", err
	}

	select {
	case result := <-outcome:
		return result.EmbeddingHandle, result.Err
	case <-ctx.Done():
		return "", fmt.Errorf("request abandoned while queued: %w", ctx.Err())
	}
}

// Synthesize validates the text and renders speech through the exclusive slot.
func (s *Serial) Synthesize(ctx context.Context, req core.SynthesisRequest) ([]byte, error) {
	validationErr := s.validateText(req.Text)
	if validationErr != nil {
		return nil, validationErr
	}

	var audio []byte

	submitErr := s.submit(ctx, func(ctx context.Context) error {
		rendered, err := s.runtime.Synthesize(ctx, req)
		if err != nil {
			return err
		}

		audio = rendered

		return nil
	})
	if submitErr != nil {
		return nil, submitErr
	}

	return audio, nil
}

func (s *Serial) validateSample(sample []byte, format string) error {
	info, err := audioinfo.Inspect(sample, format)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrInvalidAudio, err)
	}

	if info.DurationSeconds < s.limits.MinSampleSeconds {
		return fmt.Errorf("%w: sample is %.2fs, minimum is %.2fs",
			core.ErrInvalidAudio, info.DurationSeconds, s.limits.MinSampleSeconds)
	}

	if info.HasPeak && info.PeakAmplitude < silenceFloor {
		return fmt.Errorf("%w: sample contains no audible signal", core.ErrInvalidAudio)
	}

	return nil
}

func (s *Serial) validateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return core.ErrEmptyText
	}

	length := utf8.RuneCountInString(text)
	if length > s.limits.MaxTextLength {
		return fmt.Errorf("%w: %d characters, maximum is %d",
			core.ErrTextTooLong, length, s.limits.MaxTextLength)
	}

	return nil
}
