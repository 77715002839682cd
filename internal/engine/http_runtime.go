package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/book-expert/voice-clone-service/internal/core"
)

// API endpoints of the standalone model runtime.
const (
	apiDeriveSpeaker  = "/v1/speakers"
	apiGenerateSpeech = "/v1/generate/speech"
	apiHealth         = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"
	contentTypeMP3    = "audio/mpeg"
)

// HTTPRuntime talks to a standalone model runtime (an XTTS sidecar) over
// HTTP. The sidecar owns the loaded model; this client only shapes
// requests and classifies failures.
type HTTPRuntime struct {
	httpClient *http.Client
	baseURL    string
}

// NewHTTPRuntime creates a runtime client. The baseURL should include the
// protocol and port (e.g. "http://localhost:8000"); the timeout applies to
// every request, so it must cover a full model invocation.
func NewHTTPRuntime(baseURL string, timeout time.Duration) *HTTPRuntime {
	return &HTTPRuntime{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// speakerResponse is the runtime's reply to speaker derivation.
type speakerResponse struct {
	SpeakerID string `json:"speaker_id"`
}

// synthesisPayload is the JSON body for speech generation requests.
type synthesisPayload struct {
	Text        string  `json:"text"`
	SpeakerID   string  `json:"speaker_id"`
	Language    string  `json:"language"`
	Temperature float64 `json:"temperature"`
}

// runtimeErrorResponse is a structured error from the model runtime.
type runtimeErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// DeriveSpeaker uploads the raw sample and returns the runtime's speaker id.
func (c *HTTPRuntime) DeriveSpeaker(ctx context.Context, sample []byte, format string) (string, error) {
	contentType := contentTypeWAV
	if format == "mp3" {
		contentType = contentTypeMP3
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+apiDeriveSpeaker,
		bytes.NewReader(sample),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create speaker request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentType)
	httpReq.Header.Set(headerAccept, contentTypeJSON)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: runtime at %s unreachable: %w", core.ErrModelExecution, c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// The runtime rejects unusable samples with a client error;
		// anything else is an execution failure.
		if resp.StatusCode == http.StatusBadRequest ||
			resp.StatusCode == http.StatusUnprocessableEntity {
			return "", c.classifyError(resp, core.ErrInvalidAudio)
		}

		return "", c.classifyError(resp, core.ErrModelExecution)
	}

	var speaker speakerResponse

	decodeErr := json.NewDecoder(resp.Body).Decode(&speaker)
	if decodeErr != nil {
		return "", fmt.Errorf("%w: failed to decode speaker response: %w", core.ErrModelExecution, decodeErr)
	}

	if speaker.SpeakerID == "" {
		return "", fmt.Errorf("%w: runtime returned empty speaker id", core.ErrModelExecution)
	}

	return speaker.SpeakerID, nil
}

// Synthesize sends a generation request and returns the raw WAV bytes.
func (c *HTTPRuntime) Synthesize(ctx context.Context, req core.SynthesisRequest) ([]byte, error) {
	payload := synthesisPayload{
		Text:        req.Text,
		SpeakerID:   req.EmbeddingHandle,
		Language:    req.Language,
		Temperature: req.Temperature,
	}

	requestBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal synthesis request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+apiGenerateSpeech,
		bytes.NewReader(requestBody),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create synthesis request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeWAV)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: runtime at %s unreachable: %w", core.ErrModelExecution, c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.classifyError(resp, core.ErrModelExecution)
	}

	contentType := resp.Header.Get(headerContentType)
	if contentType != contentTypeWAV {
		return nil, fmt.Errorf("%w: unexpected content type %q, expected %s",
			core.ErrModelExecution, contentType, contentTypeWAV)
	}

	audioData, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, fmt.Errorf("%w: failed to read audio data: %w", core.ErrModelExecution, readErr)
	}

	if len(audioData) == 0 {
		return nil, fmt.Errorf("%w: received empty audio data", core.ErrModelExecution)
	}

	return audioData, nil
}

// Health verifies the runtime is running with its model loaded.
func (c *HTTPRuntime) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for runtime at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	return nil
}

// classifyError decodes a structured JSON error from the runtime, falling
// back to the raw body so diagnostics are preserved.
func (c *HTTPRuntime) classifyError(resp *http.Response, sentinel error) error {
	var errorResp runtimeErrorResponse

	err := json.NewDecoder(resp.Body).Decode(&errorResp)
	if err == nil && errorResp.Detail != "" {
		return fmt.Errorf("%w: runtime error (%s): %s (code: %s)",
			sentinel, resp.Status, errorResp.Detail, errorResp.ErrorCode)
	}

	body, _ := io.ReadAll(resp.Body)

	return fmt.Errorf("%w: runtime returned %s: %s", sentinel, resp.Status, string(body))
}
