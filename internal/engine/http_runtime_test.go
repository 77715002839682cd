package engine_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/book-expert/voice-clone-service/internal/core"
	"github.com/book-expert/voice-clone-service/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSidecar is an in-process stand-in for the model runtime service.
type fakeSidecar struct {
	deriveStatus int
	synthStatus  int
	audio        []byte

	lastSampleType string
	lastPayload    map[string]any
}

func (f *fakeSidecar) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/speakers", func(w http.ResponseWriter, r *http.Request) {
		f.lastSampleType = r.Header.Get("Content-Type")

		if f.deriveStatus != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(f.deriveStatus)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"detail":     "sample rejected",
				"error_code": "BAD_SAMPLE",
			})

			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"speaker_id": "spk-42"})
	})

	mux.HandleFunc("POST /v1/generate/speech", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &f.lastPayload)

		if f.synthStatus != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(f.synthStatus)
			_ = json.NewEncoder(w).Encode(map[string]string{"detail": "model exploded"})

			return
		}

		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(f.audio)
	})

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return mux
}

func startSidecar(t *testing.T, sidecar *fakeSidecar) *engine.HTTPRuntime {
	t.Helper()

	server := httptest.NewServer(sidecar.handler())
	t.Cleanup(server.Close)

	return engine.NewHTTPRuntime(server.URL, 5*time.Second)
}

func TestHTTPRuntimeDeriveSpeaker(t *testing.T) {
	t.Parallel()

	sidecar := &fakeSidecar{deriveStatus: http.StatusOK}
	runtime := startSidecar(t, sidecar)

	handle, err := runtime.DeriveSpeaker(context.Background(), []byte("wav bytes"), "wav")
	require.NoError(t, err)
	assert.Equal(t, "spk-42", handle)
	assert.Equal(t, "audio/wav", sidecar.lastSampleType)

	_, err = runtime.DeriveSpeaker(context.Background(), []byte("mp3 bytes"), "mp3")
	require.NoError(t, err)
	assert.Equal(t, "audio/mpeg", sidecar.lastSampleType)
}

func TestHTTPRuntimeDeriveSpeakerRejected(t *testing.T) {
	t.Parallel()

	sidecar := &fakeSidecar{deriveStatus: http.StatusUnprocessableEntity}
	runtime := startSidecar(t, sidecar)

	_, err := runtime.DeriveSpeaker(context.Background(), []byte("noise"), "wav")
	require.ErrorIs(t, err, core.ErrInvalidAudio)
	assert.Contains(t, err.Error(), "sample rejected")
}

func TestHTTPRuntimeDeriveSpeakerServerError(t *testing.T) {
	t.Parallel()

	sidecar := &fakeSidecar{deriveStatus: http.StatusInternalServerError}
	runtime := startSidecar(t, sidecar)

	_, err := runtime.DeriveSpeaker(context.Background(), []byte("sample"), "wav")
	require.ErrorIs(t, err, core.ErrModelExecution)
}

func TestHTTPRuntimeSynthesize(t *testing.T) {
	t.Parallel()

	sidecar := &fakeSidecar{
		deriveStatus: http.StatusOK,
		synthStatus:  http.StatusOK,
		audio:        []byte("RIFF....WAVE"),
	}
	runtime := startSidecar(t, sidecar)

	audio, err := runtime.Synthesize(context.Background(), core.SynthesisRequest{
		Text:            "hello there",
		EmbeddingHandle: "spk-42",
		Language:        "en",
		Temperature:     0.75,
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("RIFF....WAVE"), audio)

	assert.Equal(t, "hello there", sidecar.lastPayload["text"])
	assert.Equal(t, "spk-42", sidecar.lastPayload["speaker_id"])
	assert.Equal(t, "en", sidecar.lastPayload["language"])
	assert.InDelta(t, 0.75, sidecar.lastPayload["temperature"], 0.001)
}

func TestHTTPRuntimeSynthesizeFailure(t *testing.T) {
	t.Parallel()

	sidecar := &fakeSidecar{synthStatus: http.StatusInternalServerError}
	runtime := startSidecar(t, sidecar)

	_, err := runtime.Synthesize(context.Background(), core.SynthesisRequest{
		Text:            "hello",
		EmbeddingHandle: "spk-42",
		Language:        "en",
		Temperature:     0.75,
	})
	require.ErrorIs(t, err, core.ErrModelExecution)
	assert.Contains(t, err.Error(), "model exploded")
}

func TestHTTPRuntimeSynthesizeEmptyAudio(t *testing.T) {
	t.Parallel()

	sidecar := &fakeSidecar{synthStatus: http.StatusOK, audio: nil}
	runtime := startSidecar(t, sidecar)

	_, err := runtime.Synthesize(context.Background(), core.SynthesisRequest{
		Text:            "hello",
		EmbeddingHandle: "spk-42",
		Language:        "en",
		Temperature:     0.75,
	})
	require.ErrorIs(t, err, core.ErrModelExecution)
}

func TestHTTPRuntimeHealth(t *testing.T) {
	t.Parallel()

	sidecar := &fakeSidecar{}
	runtime := startSidecar(t, sidecar)

	require.NoError(t, runtime.Health(context.Background()))

	unreachable := engine.NewHTTPRuntime("http://127.0.0.1:1", time.Second)
	require.Error(t, unreachable.Health(context.Background()))
}
