package engine_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-clone-service/internal/core"
	"github.com/book-expert/voice-clone-service/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeStub writes an executable shell script standing in for the model CLI.
func writeStub(t *testing.T, script string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "tts-stub.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))

	return path
}

func newCommandRuntime(t *testing.T, binary string) *engine.CommandRuntime {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "command-runtime-test.log")
	require.NoError(t, err)

	modelPath := filepath.Join(t.TempDir(), "model.pth")
	require.NoError(t, os.WriteFile(modelPath, []byte("weights"), 0o600))

	runtime, err := engine.NewCommandRuntime(
		binary, modelPath, filepath.Join(t.TempDir(), "speakers"), false, testLogger,
	)
	require.NoError(t, err)

	return runtime
}

func TestCommandRuntimeSynthesize(t *testing.T) {
	t.Parallel()

	argsFile := filepath.Join(t.TempDir(), "args.txt")
	binary := writeStub(t, fmt.Sprintf(`printf '%%s\n' "$@" > %q
out=""
while [ $# -gt 0 ]; do
  if [ "$1" = "--output" ]; then out="$2"; fi
  shift
done
printf 'RIFF-rendered' > "$out"
`, argsFile))

	runtime := newCommandRuntime(t, binary)

	audio, err := runtime.Synthesize(context.Background(), core.SynthesisRequest{
		Text:            "good evening",
		EmbeddingHandle: "/speakers/ref.wav",
		Language:        "en",
		Temperature:     0.75,
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("RIFF-rendered"), audio)

	raw, err := os.ReadFile(argsFile)
	require.NoError(t, err)

	args := strings.Split(strings.TrimSpace(string(raw)), "\n")
	assert.Contains(t, args, "good evening")
	assert.Contains(t, args, "/speakers/ref.wav")
	assert.Contains(t, args, "0.75")
	assert.Contains(t, args, "cpu")
}

func TestCommandRuntimeSynthesizeFailure(t *testing.T) {
	t.Parallel()

	binary := writeStub(t, `echo "model exploded" >&2
exit 1
`)

	runtime := newCommandRuntime(t, binary)

	_, err := runtime.Synthesize(context.Background(), core.SynthesisRequest{
		Text: "hello", EmbeddingHandle: "ref.wav", Language: "en", Temperature: 0.75,
	})
	require.ErrorIs(t, err, core.ErrModelExecution)
	assert.Contains(t, err.Error(), "model exploded")
}

func TestCommandRuntimeSynthesizeEmptyOutput(t *testing.T) {
	t.Parallel()

	// The stub exits cleanly without writing any audio.
	binary := writeStub(t, `exit 0
`)

	runtime := newCommandRuntime(t, binary)

	_, err := runtime.Synthesize(context.Background(), core.SynthesisRequest{
		Text: "hello", EmbeddingHandle: "ref.wav", Language: "en", Temperature: 0.75,
	})
	require.ErrorIs(t, err, core.ErrModelExecution)
	assert.Contains(t, err.Error(), "produced no audio")
}

func TestCommandRuntimeDeriveSpeakerRetainsSample(t *testing.T) {
	t.Parallel()

	binary := writeStub(t, `exit 0
`)

	runtime := newCommandRuntime(t, binary)

	sample := []byte("reference audio bytes")

	handle, err := runtime.DeriveSpeaker(context.Background(), sample, "wav")
	require.NoError(t, err)
	assert.Equal(t, ".wav", filepath.Ext(handle))

	retained, err := os.ReadFile(handle)
	require.NoError(t, err)
	assert.Equal(t, sample, retained)
}

func TestCommandRuntimeHealth(t *testing.T) {
	t.Parallel()

	binary := writeStub(t, `exit 0
`)
	ctx := context.Background()

	runtime := newCommandRuntime(t, binary)
	require.NoError(t, runtime.Health(ctx))

	missing := newCommandRuntime(t, filepath.Join(t.TempDir(), "no-such-binary"))
	require.Error(t, missing.Health(ctx))
}
