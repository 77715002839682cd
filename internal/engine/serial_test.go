// Package engine_test tests the serialized inference engine adapter.
package engine_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-clone-service/internal/core"
	"github.com/book-expert/voice-clone-service/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRuntime records call ordering and tracks concurrent invocations.
type mockRuntime struct {
	mu          sync.Mutex
	inFlight    int
	maxInFlight int
	order       []string

	// gate, when non-nil, blocks every call until closed.
	gate chan struct{}
	// started receives one value per call as it begins executing.
	started chan string

	deriveErr error
	synthErr  error
}

func (m *mockRuntime) enter(label string) {
	m.mu.Lock()
	m.inFlight++

	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}

	m.order = append(m.order, label)
	m.mu.Unlock()

	if m.started != nil {
		m.started <- label
	}

	if m.gate != nil {
		<-m.gate
	}
}

func (m *mockRuntime) leave() {
	m.mu.Lock()
	m.inFlight--
	m.mu.Unlock()
}

func (m *mockRuntime) DeriveSpeaker(_ context.Context, _ []byte, _ string) (string, error) {
	m.enter("derive")
	defer m.leave()

	time.Sleep(2 * time.Millisecond)

	if m.deriveErr != nil {
		return "", m.deriveErr
	}

	return "speaker-1", nil
}

func (m *mockRuntime) Synthesize(_ context.Context, req core.SynthesisRequest) ([]byte, error) {
	m.enter(req.Text)
	defer m.leave()

	time.Sleep(2 * time.Millisecond)

	if m.synthErr != nil {
		return nil, m.synthErr
	}

	return []byte("audio:" + req.Text), nil
}

func (m *mockRuntime) Health(_ context.Context) error {
	return nil
}

func (m *mockRuntime) calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.order...)
}

func newSerial(t *testing.T, runtime *mockRuntime, depth int) *engine.Serial {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "engine-test.log")
	require.NoError(t, err)

	serial := engine.NewSerial(runtime, engine.Limits{
		MaxQueueDepth:    depth,
		MaxTextLength:    100,
		MinSampleSeconds: 1.0,
	}, testLogger)

	t.Cleanup(serial.Close)

	return serial
}

// buildWAV produces a minimal 16-bit mono PCM WAV with a constant tone.
func buildWAV(t *testing.T, seconds float64, amplitude int16) []byte {
	t.Helper()

	const sampleRate = 16000

	sampleCount := int(seconds * sampleRate)
	pcm := make([]byte, 2*sampleCount)

	for i := range sampleCount {
		binary.LittleEndian.PutUint16(pcm[2*i:], uint16(amplitude))
	}

	var buf bytes.Buffer

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

func TestSerialAllowsOneInFlight(t *testing.T) {
	t.Parallel()

	runtime := &mockRuntime{}
	serial := newSerial(t, runtime, 16)

	var waitGroup sync.WaitGroup

	for i := range 8 {
		waitGroup.Add(1)

		go func(index int) {
			defer waitGroup.Done()

			audio, err := serial.Synthesize(context.Background(), core.SynthesisRequest{
				Text:            fmt.Sprintf("request %d", index),
				EmbeddingHandle: "speaker-1",
				Language:        "en",
				Temperature:     0.75,
			})
			assert.NoError(t, err)
			assert.NotEmpty(t, audio)
		}(i)
	}

	waitGroup.Wait()

	runtime.mu.Lock()
	defer runtime.mu.Unlock()
	assert.Equal(t, 1, runtime.maxInFlight, "model operations must never overlap")
	assert.Len(t, runtime.order, 8)
}

func TestSerialAdmitsInArrivalOrder(t *testing.T) {
	t.Parallel()

	runtime := &mockRuntime{
		gate:    make(chan struct{}),
		started: make(chan string, 16),
	}
	serial := newSerial(t, runtime, 16)

	var waitGroup sync.WaitGroup

	submit := func(text string) {
		waitGroup.Add(1)

		go func() {
			defer waitGroup.Done()

			_, err := serial.Synthesize(context.Background(), core.SynthesisRequest{
				Text:            text,
				EmbeddingHandle: "speaker-1",
				Language:        "en",
				Temperature:     0.75,
			})
			assert.NoError(t, err)
		}()
	}

	submit("first")
	require.Equal(t, "first", <-runtime.started)

	// With the worker blocked on "first", later requests park in the
	// queue in submission order.
	for _, text := range []string{"second", "third", "fourth"} {
		submit(text)
		time.Sleep(20 * time.Millisecond)
	}

	close(runtime.gate)

	waitGroup.Wait()

	// Drain the started signals emitted after the gate opened.
	for range 3 {
		<-runtime.started
	}

	assert.Equal(t, []string{"first", "second", "third", "fourth"}, runtime.calls())
}

func TestSerialRejectsWhenQueueFull(t *testing.T) {
	t.Parallel()

	runtime := &mockRuntime{
		gate:    make(chan struct{}),
		started: make(chan string, 4),
	}
	serial := newSerial(t, runtime, 1)

	results := make(chan error, 2)

	synthesize := func(text string) {
		_, err := serial.Synthesize(context.Background(), core.SynthesisRequest{
			Text:            text,
			EmbeddingHandle: "speaker-1",
			Language:        "en",
			Temperature:     0.75,
		})
		results <- err
	}

	go synthesize("running")
	require.Equal(t, "running", <-runtime.started)

	go synthesize("queued")
	time.Sleep(50 * time.Millisecond)

	// One executing, one waiting: the queue of depth 1 is full.
	_, err := serial.Synthesize(context.Background(), core.SynthesisRequest{
		Text:            "rejected",
		EmbeddingHandle: "speaker-1",
		Language:        "en",
		Temperature:     0.75,
	})
	require.ErrorIs(t, err, core.ErrQueueFull)

	close(runtime.gate)
	require.NoError(t, <-results)
	require.NoError(t, <-results)
}

func TestSerialBeginDerivationReportsQueueFullSynchronously(t *testing.T) {
	t.Parallel()

	runtime := &mockRuntime{
		gate:    make(chan struct{}),
		started: make(chan string, 4),
	}
	serial := newSerial(t, runtime, 1)
	ctx := context.Background()
	sample := buildWAV(t, 2.0, 8000)

	first, err := serial.BeginDerivation(ctx, sample, "wav")
	require.NoError(t, err)
	require.Equal(t, "derive", <-runtime.started)

	// The worker holds the first derivation; the second fills the queue.
	second, err := serial.BeginDerivation(ctx, sample, "wav")
	require.NoError(t, err)

	// Admission fails before any outcome channel exists.
	rejected, err := serial.BeginDerivation(ctx, sample, "wav")
	require.ErrorIs(t, err, core.ErrQueueFull)
	assert.Nil(t, rejected)

	close(runtime.gate)

	for _, outcome := range []<-chan core.DeriveOutcome{first, second} {
		result := <-outcome
		require.NoError(t, result.Err)
		assert.Equal(t, "speaker-1", result.EmbeddingHandle)
	}
}

func TestSerialSkipsCanceledQueuedRequest(t *testing.T) {
	t.Parallel()

	runtime := &mockRuntime{
		gate:    make(chan struct{}),
		started: make(chan string, 4),
	}
	serial := newSerial(t, runtime, 4)

	firstDone := make(chan error, 1)

	go func() {
		_, err := serial.Synthesize(context.Background(), core.SynthesisRequest{
			Text:            "first",
			EmbeddingHandle: "speaker-1",
			Language:        "en",
			Temperature:     0.75,
		})
		firstDone <- err
	}()

	require.Equal(t, "first", <-runtime.started)

	canceledCtx, cancel := context.WithCancel(context.Background())
	canceledDone := make(chan error, 1)

	go func() {
		_, err := serial.Synthesize(canceledCtx, core.SynthesisRequest{
			Text:            "abandoned",
			EmbeddingHandle: "speaker-1",
			Language:        "en",
			Temperature:     0.75,
		})
		canceledDone <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	// The abandoned caller returns promptly, without the exclusive slot.
	require.ErrorIs(t, <-canceledDone, context.Canceled)

	close(runtime.gate)
	require.NoError(t, <-firstDone)

	_, err := serial.Synthesize(context.Background(), core.SynthesisRequest{
		Text:            "after",
		EmbeddingHandle: "speaker-1",
		Language:        "en",
		Temperature:     0.75,
	})
	require.NoError(t, err)

	assert.NotContains(t, runtime.calls(), "abandoned")
}

func TestSerialValidatesText(t *testing.T) {
	t.Parallel()

	runtime := &mockRuntime{}
	serial := newSerial(t, runtime, 4)
	ctx := context.Background()

	_, err := serial.Synthesize(ctx, core.SynthesisRequest{
		Text: "   ", EmbeddingHandle: "speaker-1", Language: "en", Temperature: 0.75,
	})
	require.ErrorIs(t, err, core.ErrEmptyText)

	long := make([]byte, 101)
	for i := range long {
		long[i] = 'a'
	}

	_, err = serial.Synthesize(ctx, core.SynthesisRequest{
		Text: string(long), EmbeddingHandle: "speaker-1", Language: "en", Temperature: 0.75,
	})
	require.ErrorIs(t, err, core.ErrTextTooLong)

	// Invalid input never reaches the runtime.
	assert.Empty(t, runtime.calls())
}

func TestSerialValidatesSample(t *testing.T) {
	t.Parallel()

	runtime := &mockRuntime{}
	serial := newSerial(t, runtime, 4)
	ctx := context.Background()

	_, err := serial.DeriveProfile(ctx, []byte("not audio at all"), "wav")
	require.ErrorIs(t, err, core.ErrInvalidAudio)

	short := buildWAV(t, 0.4, 8000)
	_, err = serial.DeriveProfile(ctx, short, "wav")
	require.ErrorIs(t, err, core.ErrInvalidAudio)

	silent := buildWAV(t, 2.0, 0)
	_, err = serial.DeriveProfile(ctx, silent, "wav")
	require.ErrorIs(t, err, core.ErrInvalidAudio)

	assert.Empty(t, runtime.calls())

	valid := buildWAV(t, 2.0, 8000)

	handle, err := serial.DeriveProfile(ctx, valid, "wav")
	require.NoError(t, err)
	assert.Equal(t, "speaker-1", handle)
}
