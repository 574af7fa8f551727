// Package storage reads and writes document artifacts in blob storage.
package storage

import (
	"context"
	"errors"
	"path"
	"time"
)

// ErrNotFound is returned when no blob exists at a path.
var ErrNotFound = errors.New("blob not found")

// BlobStore reads, writes and links artifacts by path.
type BlobStore interface {
	// Download returns the bytes stored at path.
	Download(ctx context.Context, path string) ([]byte, error)
	// Upload writes data at path, replacing any existing blob.
	Upload(ctx context.Context, path string, data []byte, contentType string) error
	// PresignGet returns a download link for path valid for ttl.
	PresignGet(ctx context.Context, path string, ttl time.Duration) (string, error)
}

// ContentType guesses a content type from the extension of p.
func ContentType(p string) string {
	switch path.Ext(p) {
	case ".pdf":
		return "application/pdf"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	}
	return "application/octet-stream"
}
