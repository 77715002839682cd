// Package core defines the domain model and interfaces for the voice-clone service.
package core

import (
	"context"
	"time"
)

// ProfileStatus describes the lifecycle state of a voice profile.
type ProfileStatus string

// Voice profile lifecycle states. Pending transitions to exactly one of
// Ready or Failed; both are terminal for creation purposes.
const (
	ProfilePending ProfileStatus = "pending"
	ProfileReady   ProfileStatus = "ready"
	ProfileFailed  ProfileStatus = "failed"
)

// JobStatus describes the lifecycle state of a synthesis job.
type JobStatus string

// Synthesis job lifecycle states. Succeeded and Failed are terminal.
const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// ArtifactKind distinguishes the two storage areas for audio blobs.
type ArtifactKind string

// Artifact kinds. Reference samples condition voice profiles; synthesized
// outputs are the rendered speech clips.
const (
	ArtifactReferenceSample   ArtifactKind = "reference_sample"
	ArtifactSynthesizedOutput ArtifactKind = "synthesized_output"
)

// VoiceProfile is a persisted, named speaker representation derived from a
// reference audio sample. Immutable once Ready, except for deletion.
type VoiceProfile struct {
	ID              string        `json:"id"`
	DisplayName     string        `json:"display_name"`
	SampleKey       string        `json:"sample_key"`
	EmbeddingHandle string        `json:"-"`
	Status          ProfileStatus `json:"status"`
	FailureReason   string        `json:"failure_reason,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}

// AudioArtifact describes a stored audio blob. Artifacts are never mutated
// after write; deletion is explicit and irreversible.
type AudioArtifact struct {
	ID              string       `json:"id"`
	Kind            ArtifactKind `json:"kind"`
	Format          string       `json:"format"`
	StoragePath     string       `json:"-"`
	SizeBytes       int64        `json:"size_bytes"`
	DurationSeconds float64      `json:"duration_seconds,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
}

// SynthesisJob records a single synthesis request against a Ready profile.
// Terminal jobs are retained only for result retrieval and are subject to
// the retention sweep.
type SynthesisJob struct {
	ID             string    `json:"id"`
	VoiceProfileID string    `json:"voice_profile_id"`
	Text           string    `json:"text"`
	Status         JobStatus `json:"status"`
	ResultKey      string    `json:"result_key,omitempty"`
	ErrorDetail    string    `json:"error_detail,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// DeletedVoice reports the blob references released by a cascading profile
// deletion so the caller can remove them from the store.
type DeletedVoice struct {
	SampleKey  string
	ResultKeys []string
}

// BlobStore persists audio blobs in two logical areas keyed by artifact id.
type BlobStore interface {
	Save(ctx context.Context, kind ArtifactKind, data []byte, format string) (AudioArtifact, error)
	Load(ctx context.Context, kind ArtifactKind, key string) ([]byte, error)
	Delete(ctx context.Context, kind ArtifactKind, key string) error
}

// Registry owns voice profile and synthesis job metadata and guards their
// status transitions.
type Registry interface {
	CreatePending(ctx context.Context, displayName, sampleKey string) (VoiceProfile, error)
	MarkReady(ctx context.Context, id, embeddingHandle string) error
	MarkFailed(ctx context.Context, id, reason string) error
	Get(ctx context.Context, id string) (VoiceProfile, error)
	List(ctx context.Context) ([]VoiceProfile, error)
	Delete(ctx context.Context, id string) (DeletedVoice, error)

	CreateJob(ctx context.Context, voiceProfileID, text string) (SynthesisJob, error)
	StartJob(ctx context.Context, id string) error
	CompleteJob(ctx context.Context, id, resultKey string) error
	FailJob(ctx context.Context, id, detail string) error
	GetJob(ctx context.Context, id string) (SynthesisJob, error)
	DeleteTerminalJobsBefore(ctx context.Context, cutoff time.Time) ([]SynthesisJob, error)
}

// SynthesisRequest carries the parameters for one speech rendering call.
type SynthesisRequest struct {
	Text            string
	EmbeddingHandle string
	Language        string
	Temperature     float64
}

// DeriveOutcome is the terminal result of an admitted profile derivation.
type DeriveOutcome struct {
	EmbeddingHandle string
	Err             error
}

// SpeechEngine is the sole entry point to the model execution resource.
// Implementations guarantee at most one in-flight model operation.
type SpeechEngine interface {
	DeriveProfile(ctx context.Context, sample []byte, format string) (string, error)

	// BeginDerivation validates the sample and claims a queue slot
	// synchronously, so a full queue is reported to the caller instead of
	// surfacing later as a failed profile. The model outcome is delivered
	// on the returned channel.
	BeginDerivation(ctx context.Context, sample []byte, format string) (<-chan DeriveOutcome, error)

	Synthesize(ctx context.Context, req SynthesisRequest) ([]byte, error)
}
