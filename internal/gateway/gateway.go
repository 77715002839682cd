// Package gateway exposes the voice-clone service over HTTP.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-clone-service/internal/core"
	"github.com/book-expert/voice-clone-service/internal/notify"
)

// Request body and upload errors.
var (
	ErrDisplayNameMissing = errors.New("display_name form field is required")
	ErrSampleMissing      = errors.New("sample file is required")
	ErrBadRequestBody     = errors.New("request body is not valid JSON")
)

const deriveTimeout = 10 * time.Minute

// HealthChecker reports whether the model runtime can serve requests.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Deps are the collaborators the gateway routes requests to.
type Deps struct {
	Store     core.BlobStore
	Registry  core.Registry
	Engine    core.SpeechEngine
	Runtime   HealthChecker
	Publisher notify.Publisher
	Log       *logger.Logger
}

// Settings are the request-shaping knobs.
type Settings struct {
	MaxUploadBytes int64
	MaxTextLength  int
	Language       string
	Temperature    float64
}

// Gateway is the HTTP surface of the service.
type Gateway struct {
	store     core.BlobStore
	registry  core.Registry
	engine    core.SpeechEngine
	runtime   HealthChecker
	publisher notify.Publisher
	log       *logger.Logger
	settings  Settings
}

// New assembles the gateway.
func New(deps Deps, settings Settings) *Gateway {
	return &Gateway{
		store:     deps.Store,
		registry:  deps.Registry,
		engine:    deps.Engine,
		runtime:   deps.Runtime,
		publisher: deps.Publisher,
		log:       deps.Log,
		settings:  settings,
	}
}

// Routes returns the HTTP handler for all service endpoints.
func (g *Gateway) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /voices", g.handleCreateVoice)
	mux.HandleFunc("GET /voices", g.handleListVoices)
	mux.HandleFunc("GET /voices/{id}", g.handleGetVoice)
	mux.HandleFunc("DELETE /voices/{id}", g.handleDeleteVoice)
	mux.HandleFunc("POST /voices/{id}/synthesize", g.handleSynthesize)
	mux.HandleFunc("GET /audio/{id}", g.handleGetAudio)
	mux.HandleFunc("GET /jobs/{id}", g.handleGetJob)
	mux.HandleFunc("GET /health", g.handleHealth)

	return mux
}

// handleCreateVoice stores the uploaded reference sample, registers a
// pending profile, and answers 202 while derivation runs through the
// serialized engine in the background.
func (g *Gateway) handleCreateVoice(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, g.settings.MaxUploadBytes)

	parseErr := r.ParseMultipartForm(g.settings.MaxUploadBytes)
	if parseErr != nil {
		writeJSON(w, g.log, http.StatusBadRequest,
			errorResponse{Error: fmt.Sprintf("failed to parse upload: %v", parseErr)})

		return
	}

	displayName := strings.TrimSpace(r.FormValue("display_name"))
	if displayName == "" {
		writeJSON(w, g.log, http.StatusBadRequest, errorResponse{Error: ErrDisplayNameMissing.Error()})

		return
	}

	file, header, fileErr := r.FormFile("sample")
	if fileErr != nil {
		writeJSON(w, g.log, http.StatusBadRequest, errorResponse{Error: ErrSampleMissing.Error()})

		return
	}
	defer file.Close()

	sample, readErr := io.ReadAll(file)
	if readErr != nil {
		writeError(w, g.log, fmt.Errorf("failed to read uploaded sample: %w", readErr))

		return
	}

	format := strings.ToLower(strings.TrimPrefix(filepath.Ext(header.Filename), "."))

	artifact, saveErr := g.store.Save(r.Context(), core.ArtifactReferenceSample, sample, format)
	if saveErr != nil {
		writeError(w, g.log, saveErr)

		return
	}

	profile, createErr := g.registry.CreatePending(r.Context(), displayName, artifact.ID)
	if createErr != nil {
		writeError(w, g.log, createErr)

		return
	}

	deriveCtx, cancel := context.WithTimeout(context.Background(), deriveTimeout)

	outcome, admitErr := g.engine.BeginDerivation(deriveCtx, sample, artifact.Format)
	if admitErr != nil {
		cancel()

		if errors.Is(admitErr, core.ErrInvalidAudio) {
			// An unusable sample settles the profile immediately; the
			// failure stays discoverable through a status query.
			markErr := g.registry.MarkFailed(r.Context(), profile.ID, admitErr.Error())
			if markErr != nil {
				g.log.Error("Failed to mark profile %s failed: %v", profile.ID, markErr)
			}

			profile.Status = core.ProfileFailed
			profile.FailureReason = admitErr.Error()

			writeJSON(w, g.log, http.StatusAccepted, profile)

			return
		}

		// A full queue is transient: undo the registration so the caller
		// can retry, instead of leaving a terminally Failed profile.
		g.discardProfile(r.Context(), profile.ID, artifact.ID)
		writeError(w, g.log, admitErr)

		return
	}

	go g.settleDerivation(cancel, profile, outcome)

	writeJSON(w, g.log, http.StatusAccepted, profile)
}

// discardProfile removes a profile whose derivation was never admitted,
// along with its stored sample.
func (g *Gateway) discardProfile(ctx context.Context, profileID, sampleKey string) {
	_, deleteErr := g.registry.Delete(ctx, profileID)
	if deleteErr != nil {
		g.log.Error("Failed to discard profile %s: %v", profileID, deleteErr)
	}

	storeErr := g.store.Delete(ctx, core.ArtifactReferenceSample, sampleKey)
	if storeErr != nil {
		g.log.Warn("Failed to discard sample %s: %v", sampleKey, storeErr)
	}
}

// settleDerivation waits for an admitted derivation and settles the profile
// into Ready or Failed. It runs detached from the upload request.
func (g *Gateway) settleDerivation(
	cancel context.CancelFunc,
	profile core.VoiceProfile,
	outcome <-chan core.DeriveOutcome,
) {
	defer cancel()

	result := <-outcome

	// The derivation context may have expired; registry updates get a
	// fresh one so the terminal status is always recorded.
	ctx := context.Background()

	if result.Err != nil {
		g.log.Error("Derivation failed for profile %s: %v", profile.ID, result.Err)

		markErr := g.registry.MarkFailed(ctx, profile.ID, result.Err.Error())
		if markErr != nil {
			g.log.Error("Failed to mark profile %s failed: %v", profile.ID, markErr)
		}

		return
	}

	markErr := g.registry.MarkReady(ctx, profile.ID, result.EmbeddingHandle)
	if markErr != nil {
		g.log.Error("Failed to mark profile %s ready: %v", profile.ID, markErr)

		return
	}

	g.log.Info("Voice profile %s (%s) is ready", profile.ID, profile.DisplayName)

	profile.Status = core.ProfileReady

	publishErr := g.publisher.ProfileReady(profile)
	if publishErr != nil {
		g.log.Warn("Failed to publish profile-ready event for %s: %v", profile.ID, publishErr)
	}
}

func (g *Gateway) handleListVoices(w http.ResponseWriter, r *http.Request) {
	profiles, err := g.registry.List(r.Context())
	if err != nil {
		writeError(w, g.log, err)

		return
	}

	writeJSON(w, g.log, http.StatusOK, map[string]any{"voices": profiles})
}

func (g *Gateway) handleGetVoice(w http.ResponseWriter, r *http.Request) {
	profile, err := g.registry.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, g.log, err)

		return
	}

	writeJSON(w, g.log, http.StatusOK, profile)
}

// handleDeleteVoice removes a profile and its stored audio. Deleting an
// unknown profile succeeds, so retried deletes are harmless.
func (g *Gateway) handleDeleteVoice(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	deleted, err := g.registry.Delete(r.Context(), id)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			w.WriteHeader(http.StatusNoContent)

			return
		}

		writeError(w, g.log, err)

		return
	}

	// Blob removal is best-effort: the metadata is authoritative and
	// already gone, so orphan blobs only waste disk until cleaned up.
	sampleErr := g.store.Delete(r.Context(), core.ArtifactReferenceSample, deleted.SampleKey)
	if sampleErr != nil {
		g.log.Warn("Failed to delete sample %s for voice %s: %v", deleted.SampleKey, id, sampleErr)
	}

	for _, resultKey := range deleted.ResultKeys {
		resultErr := g.store.Delete(r.Context(), core.ArtifactSynthesizedOutput, resultKey)
		if resultErr != nil {
			g.log.Warn("Failed to delete output %s for voice %s: %v", resultKey, id, resultErr)
		}
	}

	g.log.Info("Deleted voice profile %s", id)

	w.WriteHeader(http.StatusNoContent)
}

// synthesizeRequest is the JSON body of POST /voices/{id}/synthesize.
type synthesizeRequest struct {
	Text        string   `json:"text"`
	Language    string   `json:"language,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// synthesizeResponse is returned when the caller did not ask for raw audio.
type synthesizeResponse struct {
	JobID      string `json:"job_id"`
	ArtifactID string `json:"artifact_id"`
	AudioURL   string `json:"audio_url"`
	Status     string `json:"status"`
}

// handleSynthesize renders text in a Ready voice. The request blocks while
// the job waits for the exclusive model slot; a full queue is rejected
// immediately with 503.
func (g *Gateway) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, g.maxSynthesizeBody())

	var req synthesizeRequest

	decodeErr := json.NewDecoder(r.Body).Decode(&req)
	if decodeErr != nil {
		writeJSON(w, g.log, http.StatusBadRequest, errorResponse{Error: ErrBadRequestBody.Error()})

		return
	}

	// Invalid text is rejected before any registry write.
	validationErr := g.validateText(req.Text)
	if validationErr != nil {
		writeError(w, g.log, validationErr)

		return
	}

	profile, getErr := g.registry.Get(r.Context(), r.PathValue("id"))
	if getErr != nil {
		writeError(w, g.log, getErr)

		return
	}

	if profile.Status != core.ProfileReady {
		writeError(w, g.log, fmt.Errorf("%w: voice profile %s is %s, synthesis requires %s",
			core.ErrInvalidState, profile.ID, profile.Status, core.ProfileReady))

		return
	}

	job, createErr := g.registry.CreateJob(r.Context(), profile.ID, req.Text)
	if createErr != nil {
		writeError(w, g.log, createErr)

		return
	}

	// Running covers both queue wait and model execution; the queue offers
	// no start notification to split them.
	startErr := g.registry.StartJob(r.Context(), job.ID)
	if startErr != nil {
		writeError(w, g.log, startErr)

		return
	}

	language := req.Language
	if language == "" {
		language = g.settings.Language
	}

	temperature := g.settings.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	audio, synthErr := g.engine.Synthesize(r.Context(), core.SynthesisRequest{
		Text:            req.Text,
		EmbeddingHandle: profile.EmbeddingHandle,
		Language:        language,
		Temperature:     temperature,
	})
	if synthErr != nil {
		g.failJob(job.ID, synthErr)
		writeError(w, g.log, synthErr)

		return
	}

	artifact, saveErr := g.store.Save(r.Context(), core.ArtifactSynthesizedOutput, audio, "wav")
	if saveErr != nil {
		g.failJob(job.ID, saveErr)
		writeError(w, g.log, saveErr)

		return
	}

	completeErr := g.registry.CompleteJob(r.Context(), job.ID, artifact.ID)
	if completeErr != nil {
		writeError(w, g.log, completeErr)

		return
	}

	job.Status = core.JobSucceeded
	job.ResultKey = artifact.ID

	publishErr := g.publisher.SynthesisCompleted(job)
	if publishErr != nil {
		g.log.Warn("Failed to publish synthesis-completed event for job %s: %v", job.ID, publishErr)
	}

	if strings.Contains(r.Header.Get("Accept"), "audio/wav") {
		w.Header().Set("Content-Type", "audio/wav")
		w.Header().Set("X-Job-ID", job.ID)
		w.Header().Set("X-Artifact-ID", artifact.ID)

		_, writeErr := w.Write(audio)
		if writeErr != nil {
			g.log.Error("Failed to stream audio for job %s: %v", job.ID, writeErr)
		}

		return
	}

	writeJSON(w, g.log, http.StatusOK, synthesizeResponse{
		JobID:      job.ID,
		ArtifactID: artifact.ID,
		AudioURL:   "/audio/" + artifact.ID,
		Status:     string(core.JobSucceeded),
	})
}

// maxSynthesizeBody bounds the synthesize request body: up to six bytes
// per allowed rune once JSON-escaped, plus room for the other fields.
func (g *Gateway) maxSynthesizeBody() int64 {
	return int64(g.settings.MaxTextLength)*6 + 1024
}

func (g *Gateway) validateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return core.ErrEmptyText
	}

	length := utf8.RuneCountInString(text)
	if length > g.settings.MaxTextLength {
		return fmt.Errorf("%w: %d characters, maximum is %d",
			core.ErrTextTooLong, length, g.settings.MaxTextLength)
	}

	return nil
}

func (g *Gateway) failJob(jobID string, cause error) {
	failErr := g.registry.FailJob(context.Background(), jobID, cause.Error())
	if failErr != nil {
		g.log.Error("Failed to mark job %s failed: %v", jobID, failErr)
	}
}

func (g *Gateway) handleGetAudio(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("id")

	data, err := g.store.Load(r.Context(), core.ArtifactSynthesizedOutput, key)
	if err != nil {
		writeError(w, g.log, err)

		return
	}

	contentType := "audio/wav"
	if strings.HasSuffix(key, ".mp3") {
		contentType = "audio/mpeg"
	}

	w.Header().Set("Content-Type", contentType)

	_, writeErr := w.Write(data)
	if writeErr != nil {
		g.log.Error("Failed to stream artifact %s: %v", key, writeErr)
	}
}

func (g *Gateway) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := g.registry.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, g.log, err)

		return
	}

	writeJSON(w, g.log, http.StatusOK, job)
}

// handleHealth reports service liveness and model runtime reachability.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	runtimeErr := g.runtime.Health(r.Context())
	if runtimeErr != nil {
		writeJSON(w, g.log, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"detail": runtimeErr.Error(),
		})

		return
	}

	writeJSON(w, g.log, http.StatusOK, map[string]string{"status": "ok"})
}
