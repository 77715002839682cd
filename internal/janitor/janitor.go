// Package janitor reclaims storage held by expired synthesis jobs.
package janitor

import (
	"context"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-clone-service/internal/core"
)

// Janitor periodically deletes terminal synthesis jobs past their retention
// window, along with their rendered audio. Voice profiles and reference
// samples are never touched: only explicit deletion removes a voice.
type Janitor struct {
	registry  core.Registry
	store     core.BlobStore
	log       *logger.Logger
	retention time.Duration
	interval  time.Duration
}

// New creates a janitor sweeping every interval for jobs older than retention.
func New(
	registry core.Registry,
	store core.BlobStore,
	log *logger.Logger,
	retention, interval time.Duration,
) *Janitor {
	return &Janitor{
		registry:  registry,
		store:     store,
		log:       log,
		retention: retention,
		interval:  interval,
	}
}

// Run sweeps on a ticker until the context is canceled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := j.Sweep(ctx)
			if err != nil {
				j.log.Error("Retention sweep failed: %v", err)

				continue
			}

			if removed > 0 {
				j.log.Info("Retention sweep removed %d expired jobs", removed)
			}
		}
	}
}

// Sweep deletes terminal jobs older than the retention window and returns
// how many were removed. Blob deletion is best-effort; the job records are
// already gone and the store tolerates repeated deletes.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-j.retention)

	expired, err := j.registry.DeleteTerminalJobsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to expire terminal jobs: %w", err)
	}

	for _, job := range expired {
		if job.ResultKey == "" {
			continue
		}

		deleteErr := j.store.Delete(ctx, core.ArtifactSynthesizedOutput, job.ResultKey)
		if deleteErr != nil {
			j.log.Warn("Failed to delete expired output %s: %v", job.ResultKey, deleteErr)
		}
	}

	return len(expired), nil
}
