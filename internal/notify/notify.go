// Package notify publishes voice lifecycle events to NATS so downstream
// pipelines can react to profiles becoming usable and clips being rendered.
package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/voice-clone-service/internal/core"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Publisher emits lifecycle notifications. Implementations are best-effort:
// callers log failures and move on, the API result never depends on them.
type Publisher interface {
	ProfileReady(profile core.VoiceProfile) error
	SynthesisCompleted(job core.SynthesisJob) error
}

// ProfileReadyEvent announces that a voice profile finished derivation and
// can now be used for synthesis.
type ProfileReadyEvent struct {
	Header         events.EventHeader `json:"header"`
	VoiceProfileID string             `json:"voice_profile_id"`
	DisplayName    string             `json:"display_name"`
	SampleKey      string             `json:"sample_key"`
}

// SynthesisCompletedEvent announces a successfully rendered clip.
type SynthesisCompletedEvent struct {
	Header         events.EventHeader `json:"header"`
	JobID          string             `json:"job_id"`
	VoiceProfileID string             `json:"voice_profile_id"`
	ResultKey      string             `json:"result_key"`
}

// NATSPublisher publishes lifecycle events over a NATS connection.
type NATSPublisher struct {
	natsConnection   *nats.Conn
	readySubject     string
	completedSubject string
}

// NewNATSPublisher creates a publisher using the given subjects.
func NewNATSPublisher(natsConnection *nats.Conn, readySubject, completedSubject string) *NATSPublisher {
	return &NATSPublisher{
		natsConnection:   natsConnection,
		readySubject:     readySubject,
		completedSubject: completedSubject,
	}
}

// ProfileReady publishes a ProfileReadyEvent for the given profile.
func (p *NATSPublisher) ProfileReady(profile core.VoiceProfile) error {
	event := ProfileReadyEvent{
		Header:         newHeader(profile.ID),
		VoiceProfileID: profile.ID,
		DisplayName:    profile.DisplayName,
		SampleKey:      profile.SampleKey,
	}

	return p.publish(p.readySubject, event)
}

// SynthesisCompleted publishes a SynthesisCompletedEvent for the given job.
func (p *NATSPublisher) SynthesisCompleted(job core.SynthesisJob) error {
	event := SynthesisCompletedEvent{
		Header:         newHeader(job.ID),
		JobID:          job.ID,
		VoiceProfileID: job.VoiceProfileID,
		ResultKey:      job.ResultKey,
	}

	return p.publish(p.completedSubject, event)
}

func (p *NATSPublisher) publish(subject string, event any) error {
	eventData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal lifecycle event: %w", err)
	}

	publishErr := p.natsConnection.Publish(subject, eventData)
	if publishErr != nil {
		return fmt.Errorf("failed to publish lifecycle event on %q: %w", subject, publishErr)
	}

	return nil
}

func newHeader(workflowID string) events.EventHeader {
	return events.EventHeader{
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		EventID:    uuid.NewString(),
		UserID:     "",
		TenantID:   "",
	}
}

// Nop discards all notifications. Used when NATS is not configured.
type Nop struct{}

// ProfileReady implements Publisher.
func (Nop) ProfileReady(_ core.VoiceProfile) error { return nil }

// SynthesisCompleted implements Publisher.
func (Nop) SynthesisCompleted(_ core.SynthesisJob) error { return nil }
