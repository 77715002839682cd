package engine

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-clone-service/internal/core"
	"github.com/google/uuid"
)

const (
	speakerFilePermissions = 0o600
	speakerDirPermissions  = 0o750
)

// CommandRuntime drives a local model CLI. The binary reads a speaker
// reference WAV and writes rendered audio to a file, so the embedding
// handle is the path of a retained copy of the reference sample.
type CommandRuntime struct {
	binary      string
	modelPath   string
	speakersDir string
	useGPU      bool
	log         *logger.Logger
}

// NewCommandRuntime creates the CLI runtime and its speaker directory.
func NewCommandRuntime(
	binary, modelPath, speakersDir string,
	useGPU bool,
	log *logger.Logger,
) (*CommandRuntime, error) {
	err := os.MkdirAll(speakersDir, speakerDirPermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to create speakers directory: %w", err)
	}

	return &CommandRuntime{
		binary:      binary,
		modelPath:   modelPath,
		speakersDir: speakersDir,
		useGPU:      useGPU,
		log:         log,
	}, nil
}

// DeriveSpeaker retains the sample under the speakers directory and hands
// back its path as the embedding handle.
func (p *CommandRuntime) DeriveSpeaker(_ context.Context, sample []byte, format string) (string, error) {
	handle := filepath.Join(p.speakersDir, uuid.NewString()+"."+format)

	writeErr := os.WriteFile(handle, sample, speakerFilePermissions)
	if writeErr != nil {
		return "", fmt.Errorf("%w: failed to retain speaker sample: %w", core.ErrModelExecution, writeErr)
	}

	return handle, nil
}

// Synthesize invokes the model binary and returns the rendered audio.
func (p *CommandRuntime) Synthesize(ctx context.Context, req core.SynthesisRequest) ([]byte, error) {
	tempFile, err := os.CreateTemp("", "voice-clone-output-*.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file for output: %w", err)
	}

	defer func() {
		removeErr := os.Remove(tempFile.Name())
		if removeErr != nil {
			p.log.Warn("Failed to remove temp file '%s': %v", tempFile.Name(), removeErr)
		}
	}()

	closeErr := tempFile.Close()
	if closeErr != nil {
		return nil, fmt.Errorf("failed to close temp file: %w", closeErr)
	}

	device := "cpu"
	if p.useGPU {
		device = "cuda"
	}

	args := []string{
		"--model", p.modelPath,
		"--text", req.Text,
		"--speaker_wav", req.EmbeddingHandle,
		"--language", req.Language,
		"--temperature", fmt.Sprintf("%.2f", req.Temperature),
		"--device", device,
		"--output", tempFile.Name(),
	}

	// #nosec G204 -- binary and model path come from validated configuration
	cmd := exec.CommandContext(ctx, p.binary, args...)

	output, runErr := cmd.CombinedOutput()
	if runErr != nil {
		return nil, fmt.Errorf("%w: %s execution failed: %w - output: %s",
			core.ErrModelExecution, p.binary, runErr, string(output))
	}

	audioData, readErr := os.ReadFile(tempFile.Name())
	if readErr != nil {
		return nil, fmt.Errorf("%w: failed to read rendered audio: %w", core.ErrModelExecution, readErr)
	}

	if len(audioData) == 0 {
		return nil, fmt.Errorf("%w: %s produced no audio", core.ErrModelExecution, p.binary)
	}

	return audioData, nil
}

// Health verifies the binary is resolvable and the model file exists.
func (p *CommandRuntime) Health(_ context.Context) error {
	_, lookErr := exec.LookPath(p.binary)
	if lookErr != nil {
		return fmt.Errorf("model binary %q not found: %w", p.binary, lookErr)
	}

	if p.modelPath != "" {
		_, statErr := os.Stat(p.modelPath)
		if statErr != nil {
			return fmt.Errorf("model path %q not accessible: %w", p.modelPath, statErr)
		}
	}

	return nil
}
