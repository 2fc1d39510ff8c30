// Package storage abstracts where processing artifacts live. Keys are
// slash-separated paths scoped by document or session ID; implementations
// exist for the local filesystem and Google Cloud Storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotExist is returned by Get for keys that were never written.
var ErrNotExist = errors.New("storage: object does not exist")

// Gateway stores and retrieves processing artifacts.
type Gateway interface {
	// Put writes an object, replacing any previous value atomically.
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Get reads an object, returning ErrNotExist for unknown keys.
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete removes an object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// SignedURL returns a time-limited URL granting read access to a key.
	SignedURL(key string, ttl time.Duration) (string, error)
	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error
}

// Artifact key layout. Everything a document produces lives under its
// document ID; session-scoped artifacts (translations, exports) live under
// the session ID.
func SlideKey(documentID string, slideNumber int) string {
	return fmt.Sprintf("%s/slides/%d.svg", documentID, slideNumber)
}

func ThumbnailKey(documentID string, slideNumber int) string {
	return fmt.Sprintf("%s/slides/thumbnails/%d.png", documentID, slideNumber)
}

func ResultKey(documentID string) string {
	return documentID + "/result.json"
}

func SourceKey(documentID string) string {
	return documentID + "/source.pptx"
}

func SessionKey(sessionID string) string {
	return sessionID + "/session.json"
}

func TranslationsKey(sessionID string) string {
	return sessionID + "/translations.json"
}

func ExportKey(sessionID, jobID string) string {
	return fmt.Sprintf("%s/export/%s.pptx", sessionID, jobID)
}

// ValidKey rejects keys that could escape the storage root.
func ValidKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") {
		return fmt.Errorf("invalid storage key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("invalid storage key %q", key)
		}
	}
	return nil
}
