// Package store provides BlobStore implementations for audio artifacts.
//
// Two backends are available: a filesystem store with atomic writes, and a
// NATS JetStream object store for deployments that already run JetStream.
// Both keep reference samples and synthesized outputs in separate areas.
package store

import (
	"fmt"
	"strings"

	"github.com/book-expert/voice-clone-service/internal/core"
	"github.com/google/uuid"
)

// Formats accepted for stored audio blobs.
var supportedFormats = map[string]struct{}{
	"wav": {},
	"mp3": {},
}

// normalizeFormat lower-cases and whitelists the artifact format.
func normalizeFormat(format string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(format))

	_, ok := supportedFormats[normalized]
	if !ok {
		return "", fmt.Errorf("%w: %q", core.ErrUnsupportedFormat, format)
	}

	return normalized, nil
}

// newKey generates a fresh artifact key carrying the format as extension.
func newKey(format string) string {
	return uuid.NewString() + "." + format
}

// validKey rejects keys that could escape the storage area. Keys are only
// ever generated by newKey, so anything else is an unknown id.
func validKey(key string) bool {
	if key == "" || strings.Contains(key, "..") {
		return false
	}

	return !strings.ContainsAny(key, `/\`)
}
