// Package registry persists voice profiles and synthesis jobs in SQLite.
//
// Status transitions are guarded by compare-and-set updates, so two
// concurrent writers can never race the same profile or job through an
// invalid state change.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-clone-service/internal/core"
	"github.com/google/uuid"

	// Pure-Go SQLite driver.
	_ "modernc.org/sqlite"
)

const dirPermissions = 0o750

// SQLite is a core.Registry backed by a single SQLite database file.
type SQLite struct {
	db  *sql.DB
	log *logger.Logger
}

// Open opens or creates the registry database, enables WAL mode and
// foreign keys, and runs the schema migration.
func Open(databasePath string, log *logger.Logger) (*SQLite, error) {
	dirErr := os.MkdirAll(filepath.Dir(databasePath), dirPermissions)
	if dirErr != nil {
		return nil, fmt.Errorf("failed to create registry directory: %w", dirErr)
	}

	db, err := sql.Open("sqlite", databasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		_, pragmaErr := db.Exec(pragma)
		if pragmaErr != nil {
			_ = db.Close()

			return nil, fmt.Errorf("failed to apply %q: %w", pragma, pragmaErr)
		}
	}

	migrateErr := migrate(db)
	if migrateErr != nil {
		_ = db.Close()

		return nil, migrateErr
	}

	log.Info("Voice registry opened at %s", databasePath)

	return &SQLite{db: db, log: log}, nil
}

func migrate(db *sql.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS voices (
			id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			sample_key TEXT NOT NULL,
			embedding_handle TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			failure_reason TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			voice_profile_id TEXT NOT NULL REFERENCES voices(id) ON DELETE CASCADE,
			text TEXT NOT NULL,
			status TEXT NOT NULL,
			result_key TEXT NOT NULL DEFAULT '',
			error_detail TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_voice ON jobs(voice_profile_id)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status_updated ON jobs(status, updated_at)`,
	}

	for _, migration := range migrations {
		_, err := db.Exec(migration)
		if err != nil {
			return fmt.Errorf("registry migration failed: %w", err)
		}
	}

	return nil
}

// Close closes the underlying database.
func (r *SQLite) Close() error {
	closeErr := r.db.Close()
	if closeErr != nil {
		return fmt.Errorf("failed to close registry database: %w", closeErr)
	}

	return nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}

	return parsed
}

// CreatePending inserts a new profile in Pending status.
func (r *SQLite) CreatePending(
	ctx context.Context,
	displayName, sampleKey string,
) (core.VoiceProfile, error) {
	profile := core.VoiceProfile{
		ID:              uuid.NewString(),
		DisplayName:     displayName,
		SampleKey:       sampleKey,
		EmbeddingHandle: "",
		Status:          core.ProfilePending,
		FailureReason:   "",
		CreatedAt:       time.Now().UTC(),
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO voices (id, display_name, sample_key, status, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		profile.ID, profile.DisplayName, profile.SampleKey,
		string(profile.Status), profile.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return core.VoiceProfile{}, fmt.Errorf("failed to insert voice profile: %w", err)
	}

	return profile, nil
}

// casVoiceStatus performs a guarded status transition and distinguishes an
// unknown id from a wrong current state.
func (r *SQLite) casVoiceStatus(
	ctx context.Context,
	id string,
	from, target core.ProfileStatus,
	setClause string,
	args ...any,
) error {
	query := "UPDATE voices SET status = ?" + setClause + " WHERE id = ? AND status = ?"
	execArgs := append([]any{string(target)}, args...)
	execArgs = append(execArgs, id, string(from))

	result, err := r.db.ExecContext(ctx, query, execArgs...)
	if err != nil {
		return fmt.Errorf("failed to update voice profile %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}

	if affected == 1 {
		return nil
	}

	_, getErr := r.Get(ctx, id)
	if getErr != nil {
		return getErr
	}

	return fmt.Errorf("%w: voice profile %s is not %s", core.ErrInvalidState, id, from)
}

// MarkReady transitions Pending -> Ready and records the embedding handle.
func (r *SQLite) MarkReady(ctx context.Context, id, embeddingHandle string) error {
	return r.casVoiceStatus(ctx, id, core.ProfilePending, core.ProfileReady,
		", embedding_handle = ?", embeddingHandle)
}

// MarkFailed transitions Pending -> Failed with a human-readable reason.
func (r *SQLite) MarkFailed(ctx context.Context, id, reason string) error {
	return r.casVoiceStatus(ctx, id, core.ProfilePending, core.ProfileFailed,
		", failure_reason = ?", reason)
}

const voiceColumns = `id, display_name, sample_key, embedding_handle, status, failure_reason, created_at`

func scanVoice(row interface{ Scan(...any) error }) (core.VoiceProfile, error) {
	var (
		profile   core.VoiceProfile
		status    string
		createdAt string
	)

	err := row.Scan(
		&profile.ID, &profile.DisplayName, &profile.SampleKey,
		&profile.EmbeddingHandle, &status, &profile.FailureReason, &createdAt,
	)
	if err != nil {
		return core.VoiceProfile{}, err
	}

	profile.Status = core.ProfileStatus(status)
	profile.CreatedAt = parseTime(createdAt)

	return profile, nil
}

// Get returns the profile for the id.
func (r *SQLite) Get(ctx context.Context, id string) (core.VoiceProfile, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+voiceColumns+" FROM voices WHERE id = ?", id)

	profile, err := scanVoice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.VoiceProfile{}, fmt.Errorf("%w: voice profile %q", core.ErrNotFound, id)
		}

		return core.VoiceProfile{}, fmt.Errorf("failed to query voice profile %s: %w", id, err)
	}

	return profile, nil
}

// List returns all profiles, newest first.
func (r *SQLite) List(ctx context.Context) ([]core.VoiceProfile, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+voiceColumns+" FROM voices ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to list voice profiles: %w", err)
	}
	defer rows.Close()

	profiles := make([]core.VoiceProfile, 0)

	for rows.Next() {
		profile, scanErr := scanVoice(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan voice profile: %w", scanErr)
		}

		profiles = append(profiles, profile)
	}

	rowsErr := rows.Err()
	if rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate voice profiles: %w", rowsErr)
	}

	return profiles, nil
}

// Delete removes the profile and its jobs, returning the blob keys the
// caller must release from the store.
func (r *SQLite) Delete(ctx context.Context, id string) (core.DeletedVoice, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.DeletedVoice{}, fmt.Errorf("failed to begin delete transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var deleted core.DeletedVoice

	scanErr := tx.QueryRowContext(ctx,
		"SELECT sample_key FROM voices WHERE id = ?", id).Scan(&deleted.SampleKey)
	if scanErr != nil {
		if errors.Is(scanErr, sql.ErrNoRows) {
			return core.DeletedVoice{}, fmt.Errorf("%w: voice profile %q", core.ErrNotFound, id)
		}

		return core.DeletedVoice{}, fmt.Errorf("failed to query voice profile %s: %w", id, scanErr)
	}

	rows, queryErr := tx.QueryContext(ctx,
		"SELECT result_key FROM jobs WHERE voice_profile_id = ? AND result_key != ''", id)
	if queryErr != nil {
		return core.DeletedVoice{}, fmt.Errorf("failed to query job results for %s: %w", id, queryErr)
	}

	for rows.Next() {
		var resultKey string

		scanKeyErr := rows.Scan(&resultKey)
		if scanKeyErr != nil {
			_ = rows.Close()

			return core.DeletedVoice{}, fmt.Errorf("failed to scan result key: %w", scanKeyErr)
		}

		deleted.ResultKeys = append(deleted.ResultKeys, resultKey)
	}

	closeErr := rows.Close()
	if closeErr != nil {
		return core.DeletedVoice{}, fmt.Errorf("failed to close result rows: %w", closeErr)
	}

	// Jobs are removed by the ON DELETE CASCADE foreign key.
	_, deleteErr := tx.ExecContext(ctx, "DELETE FROM voices WHERE id = ?", id)
	if deleteErr != nil {
		return core.DeletedVoice{}, fmt.Errorf("failed to delete voice profile %s: %w", id, deleteErr)
	}

	commitErr := tx.Commit()
	if commitErr != nil {
		return core.DeletedVoice{}, fmt.Errorf("failed to commit delete of %s: %w", id, commitErr)
	}

	r.log.Info("Deleted voice profile %s (%d cached outputs)", id, len(deleted.ResultKeys))

	return deleted, nil
}

// CreateJob inserts a new synthesis job in Queued status.
func (r *SQLite) CreateJob(ctx context.Context, voiceProfileID, text string) (core.SynthesisJob, error) {
	timestamp := time.Now().UTC()
	job := core.SynthesisJob{
		ID:             uuid.NewString(),
		VoiceProfileID: voiceProfileID,
		Text:           text,
		Status:         core.JobQueued,
		ResultKey:      "",
		ErrorDetail:    "",
		CreatedAt:      timestamp,
		UpdatedAt:      timestamp,
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO jobs (id, voice_profile_id, text, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, job.VoiceProfileID, job.Text, string(job.Status),
		timestamp.Format(time.RFC3339Nano), timestamp.Format(time.RFC3339Nano),
	)
	if err != nil {
		return core.SynthesisJob{}, fmt.Errorf("failed to insert synthesis job: %w", err)
	}

	return job, nil
}

func (r *SQLite) casJobStatus(
	ctx context.Context,
	id string,
	from []core.JobStatus,
	target core.JobStatus,
	setClause string,
	args ...any,
) error {
	query := "UPDATE jobs SET status = ?, updated_at = ?" + setClause +
		" WHERE id = ? AND status IN (?" + repeatPlaceholder(len(from)-1) + ")"

	execArgs := append([]any{string(target), now()}, args...)
	execArgs = append(execArgs, id)

	for _, status := range from {
		execArgs = append(execArgs, string(status))
	}

	result, err := r.db.ExecContext(ctx, query, execArgs...)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}

	if affected == 1 {
		return nil
	}

	_, getErr := r.GetJob(ctx, id)
	if getErr != nil {
		return getErr
	}

	return fmt.Errorf("%w: job %s cannot transition to %s", core.ErrInvalidState, id, target)
}

func repeatPlaceholder(count int) string {
	placeholders := ""
	for range count {
		placeholders += ", ?"
	}

	return placeholders
}

// StartJob transitions Queued -> Running.
func (r *SQLite) StartJob(ctx context.Context, id string) error {
	return r.casJobStatus(ctx, id, []core.JobStatus{core.JobQueued}, core.JobRunning, "")
}

// CompleteJob transitions Running -> Succeeded and records the result key.
func (r *SQLite) CompleteJob(ctx context.Context, id, resultKey string) error {
	return r.casJobStatus(ctx, id, []core.JobStatus{core.JobRunning}, core.JobSucceeded,
		", result_key = ?", resultKey)
}

// FailJob moves a non-terminal job to Failed with an error detail, so the
// failure stays discoverable after the caller disconnects.
func (r *SQLite) FailJob(ctx context.Context, id, detail string) error {
	return r.casJobStatus(ctx, id,
		[]core.JobStatus{core.JobQueued, core.JobRunning}, core.JobFailed,
		", error_detail = ?", detail)
}

const jobColumns = `id, voice_profile_id, text, status, result_key, error_detail, created_at, updated_at`

func scanJob(row interface{ Scan(...any) error }) (core.SynthesisJob, error) {
	var (
		job       core.SynthesisJob
		status    string
		createdAt string
		updatedAt string
	)

	err := row.Scan(
		&job.ID, &job.VoiceProfileID, &job.Text, &status,
		&job.ResultKey, &job.ErrorDetail, &createdAt, &updatedAt,
	)
	if err != nil {
		return core.SynthesisJob{}, err
	}

	job.Status = core.JobStatus(status)
	job.CreatedAt = parseTime(createdAt)
	job.UpdatedAt = parseTime(updatedAt)

	return job, nil
}

// GetJob returns the job for the id.
func (r *SQLite) GetJob(ctx context.Context, id string) (core.SynthesisJob, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE id = ?", id)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.SynthesisJob{}, fmt.Errorf("%w: job %q", core.ErrNotFound, id)
		}

		return core.SynthesisJob{}, fmt.Errorf("failed to query job %s: %w", id, err)
	}

	return job, nil
}

// DeleteTerminalJobsBefore removes Succeeded and Failed jobs last updated
// before the cutoff and returns them so the caller can release result blobs.
func (r *SQLite) DeleteTerminalJobsBefore(
	ctx context.Context,
	cutoff time.Time,
) ([]core.SynthesisJob, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin retention transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cutoffValue := cutoff.UTC().Format(time.RFC3339Nano)

	rows, queryErr := tx.QueryContext(ctx,
		"SELECT "+jobColumns+` FROM jobs
		 WHERE status IN (?, ?) AND updated_at < ?`,
		string(core.JobSucceeded), string(core.JobFailed), cutoffValue)
	if queryErr != nil {
		return nil, fmt.Errorf("failed to query expired jobs: %w", queryErr)
	}

	var expired []core.SynthesisJob

	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			_ = rows.Close()

			return nil, fmt.Errorf("failed to scan expired job: %w", scanErr)
		}

		expired = append(expired, job)
	}

	closeErr := rows.Close()
	if closeErr != nil {
		return nil, fmt.Errorf("failed to close expired job rows: %w", closeErr)
	}

	_, deleteErr := tx.ExecContext(ctx,
		"DELETE FROM jobs WHERE status IN (?, ?) AND updated_at < ?",
		string(core.JobSucceeded), string(core.JobFailed), cutoffValue)
	if deleteErr != nil {
		return nil, fmt.Errorf("failed to delete expired jobs: %w", deleteErr)
	}

	commitErr := tx.Commit()
	if commitErr != nil {
		return nil, fmt.Errorf("failed to commit retention sweep: %w", commitErr)
	}

	return expired, nil
}
