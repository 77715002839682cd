package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/book-expert/voice-clone-service/internal/audioinfo"
	"github.com/book-expert/voice-clone-service/internal/core"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSStore implements core.BlobStore on NATS JetStream object storage.
// Reference samples and synthesized outputs live in separate buckets.
type NATSStore struct {
	voices  nats.ObjectStore
	outputs nats.ObjectStore
}

// NewNATSStore creates or binds both object-store buckets.
func NewNATSStore(
	jetstreamContext nats.JetStreamContext,
	voicesBucket, outputsBucket string,
) (*NATSStore, error) {
	voices, err := openBucket(jetstreamContext, voicesBucket)
	if err != nil {
		return nil, err
	}

	outputs, err := openBucket(jetstreamContext, outputsBucket)
	if err != nil {
		return nil, err
	}

	return &NATSStore{
		voices:  voices,
		outputs: outputs,
	}, nil
}

// openBucket uses a "create-first" approach: attempt creation and bind to
// the bucket when it already exists.
func openBucket(jetstreamContext nats.JetStreamContext, bucketName string) (nats.ObjectStore, error) {
	bucket, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Audio storage for the %s bucket.", bucketName),
		TTL:         0,
		MaxBytes:    0,
		Storage:     nats.FileStorage,
		Replicas:    1,
		Placement:   nil,
		Metadata:    nil,
		Compression: false,
	})
	if err != nil {
		if errors.Is(err, jetstream.ErrBucketExists) {
			bucket, err = jetstreamContext.ObjectStore(bucketName)
			if err != nil {
				return nil, fmt.Errorf("failed to bind to existing bucket '%s': %w", bucketName, err)
			}

			return bucket, nil
		}

		return nil, fmt.Errorf("failed to create object store bucket '%s': %w", bucketName, err)
	}

	return bucket, nil
}

func (n *NATSStore) areaBucket(kind core.ArtifactKind) (nats.ObjectStore, error) {
	switch kind {
	case core.ArtifactReferenceSample:
		return n.voices, nil
	case core.ArtifactSynthesizedOutput:
		return n.outputs, nil
	default:
		return nil, fmt.Errorf("%w: unknown artifact kind %q", core.ErrStorage, kind)
	}
}

// Save uploads the blob under a fresh key.
func (n *NATSStore) Save(
	_ context.Context,
	kind core.ArtifactKind,
	data []byte,
	format string,
) (core.AudioArtifact, error) {
	normalized, err := normalizeFormat(format)
	if err != nil {
		return core.AudioArtifact{}, err
	}

	bucket, err := n.areaBucket(kind)
	if err != nil {
		return core.AudioArtifact{}, err
	}

	key := newKey(normalized)

	_, putErr := bucket.Put(&nats.ObjectMeta{
		Name:        key,
		Description: "",
		Headers:     nil,
		Metadata:    nil,
		Opts:        nil,
	}, bytes.NewReader(data))
	if putErr != nil {
		return core.AudioArtifact{}, fmt.Errorf("%w: failed to put object '%s': %w", core.ErrStorage, key, putErr)
	}

	artifact := core.AudioArtifact{
		ID:              key,
		Kind:            kind,
		Format:          normalized,
		StoragePath:     key,
		SizeBytes:       int64(len(data)),
		DurationSeconds: 0,
		CreatedAt:       time.Now().UTC(),
	}

	info, inspectErr := audioinfo.Inspect(data, normalized)
	if inspectErr == nil {
		artifact.DurationSeconds = info.DurationSeconds
	}

	return artifact, nil
}

// Load downloads the blob bytes for the key.
func (n *NATSStore) Load(_ context.Context, kind core.ArtifactKind, key string) ([]byte, error) {
	if !validKey(key) {
		return nil, fmt.Errorf("%w: artifact %q", core.ErrNotFound, key)
	}

	bucket, err := n.areaBucket(kind)
	if err != nil {
		return nil, err
	}

	obj, getErr := bucket.Get(key)
	if getErr != nil {
		if errors.Is(getErr, nats.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: artifact %q", core.ErrNotFound, key)
		}

		return nil, fmt.Errorf("%w: failed to get object '%s': %w", core.ErrStorage, key, getErr)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, fmt.Errorf("%w: failed to read object '%s': %w", core.ErrStorage, key, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf("%w: failed to close object '%s': %w", core.ErrStorage, key, closeErr)
	}

	return data, nil
}

// Delete removes the blob. Deleting a nonexistent key is a no-op.
func (n *NATSStore) Delete(_ context.Context, kind core.ArtifactKind, key string) error {
	if !validKey(key) {
		return nil
	}

	bucket, err := n.areaBucket(kind)
	if err != nil {
		return err
	}

	deleteErr := bucket.Delete(key)
	if deleteErr != nil && !errors.Is(deleteErr, nats.ErrObjectNotFound) {
		return fmt.Errorf("%w: failed to delete object '%s': %w", core.ErrStorage, key, deleteErr)
	}

	return nil
}
