package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-clone-service/internal/audioinfo"
	"github.com/book-expert/voice-clone-service/internal/core"
)

// File and directory permissions.
const (
	filePermissions = 0o600
	dirPermissions  = 0o750
)

// FSStore persists audio blobs on the local filesystem. Writes go to a
// temporary file in the target directory and are renamed into place, so a
// concurrent reader never observes a half-written blob.
type FSStore struct {
	voicesDir  string
	outputsDir string
	log        *logger.Logger
}

// NewFSStore creates the storage areas under root and returns the store.
func NewFSStore(root, voicesDir, outputsDir string, log *logger.Logger) (*FSStore, error) {
	store := &FSStore{
		voicesDir:  filepath.Join(root, voicesDir),
		outputsDir: filepath.Join(root, outputsDir),
		log:        log,
	}

	for _, dir := range []string{store.voicesDir, store.outputsDir} {
		err := os.MkdirAll(dir, dirPermissions)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to create storage area %s: %w", core.ErrStorage, dir, err)
		}
	}

	return store, nil
}

func (s *FSStore) areaDir(kind core.ArtifactKind) (string, error) {
	switch kind {
	case core.ArtifactReferenceSample:
		return s.voicesDir, nil
	case core.ArtifactSynthesizedOutput:
		return s.outputsDir, nil
	default:
		return "", fmt.Errorf("%w: unknown artifact kind %q", core.ErrStorage, kind)
	}
}

// Save writes the blob under a fresh key and returns its artifact record.
func (s *FSStore) Save(
	_ context.Context,
	kind core.ArtifactKind,
	data []byte,
	format string,
) (core.AudioArtifact, error) {
	normalized, err := normalizeFormat(format)
	if err != nil {
		return core.AudioArtifact{}, err
	}

	dir, err := s.areaDir(kind)
	if err != nil {
		return core.AudioArtifact{}, err
	}

	key := newKey(normalized)
	finalPath := filepath.Join(dir, key)

	writeErr := writeAtomic(dir, finalPath, data)
	if writeErr != nil {
		return core.AudioArtifact{}, fmt.Errorf("%w: failed to write %s: %w", core.ErrStorage, key, writeErr)
	}

	artifact := core.AudioArtifact{
		ID:              key,
		Kind:            kind,
		Format:          normalized,
		StoragePath:     finalPath,
		SizeBytes:       int64(len(data)),
		DurationSeconds: 0,
		CreatedAt:       time.Now().UTC(),
	}

	// Duration is informational; an undecodable blob is still stored.
	info, inspectErr := audioinfo.Inspect(data, normalized)
	if inspectErr == nil {
		artifact.DurationSeconds = info.DurationSeconds
	}

	s.log.Info("Stored %s artifact %s (%d bytes)", kind, key, len(data))

	return artifact, nil
}

// Load returns the blob bytes for the key. A key that is unknown, or whose
// file has gone missing from disk, yields ErrNotFound so the inconsistency
// is reported rather than read as empty audio.
func (s *FSStore) Load(_ context.Context, kind core.ArtifactKind, key string) ([]byte, error) {
	if !validKey(key) {
		return nil, fmt.Errorf("%w: artifact %q", core.ErrNotFound, key)
	}

	dir, err := s.areaDir(kind)
	if err != nil {
		return nil, err
	}

	data, readErr := os.ReadFile(filepath.Join(dir, key))
	if readErr != nil {
		if errors.Is(readErr, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: artifact %q", core.ErrNotFound, key)
		}

		return nil, fmt.Errorf("%w: failed to read %s: %w", core.ErrStorage, key, readErr)
	}

	return data, nil
}

// Delete removes the blob. Deleting a nonexistent key is a no-op.
func (s *FSStore) Delete(_ context.Context, kind core.ArtifactKind, key string) error {
	if !validKey(key) {
		return nil
	}

	dir, err := s.areaDir(kind)
	if err != nil {
		return err
	}

	removeErr := os.Remove(filepath.Join(dir, key))
	if removeErr != nil && !errors.Is(removeErr, fs.ErrNotExist) {
		return fmt.Errorf("%w: failed to delete %s: %w", core.ErrStorage, key, removeErr)
	}

	return nil
}

// writeAtomic writes data to a temporary file in dir and renames it onto
// finalPath once fully flushed.
func writeAtomic(dir, finalPath string, data []byte) error {
	tempFile, err := os.CreateTemp(dir, ".pending-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	tempPath := tempFile.Name()

	_, writeErr := tempFile.Write(data)
	if writeErr != nil {
		_ = tempFile.Close()
		_ = os.Remove(tempPath)

		return fmt.Errorf("failed to write temp file: %w", writeErr)
	}

	syncErr := tempFile.Sync()
	if syncErr != nil {
		_ = tempFile.Close()
		_ = os.Remove(tempPath)

		return fmt.Errorf("failed to sync temp file: %w", syncErr)
	}

	closeErr := tempFile.Close()
	if closeErr != nil {
		_ = os.Remove(tempPath)

		return fmt.Errorf("failed to close temp file: %w", closeErr)
	}

	chmodErr := os.Chmod(tempPath, filePermissions)
	if chmodErr != nil {
		_ = os.Remove(tempPath)

		return fmt.Errorf("failed to set permissions: %w", chmodErr)
	}

	renameErr := os.Rename(tempPath, finalPath)
	if renameErr != nil {
		_ = os.Remove(tempPath)

		return fmt.Errorf("failed to rename temp file: %w", renameErr)
	}

	return nil
}
