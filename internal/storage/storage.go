package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// Package storage holds the object store used as the document version
// archive. Every committed version is copied to history/<key>/<version>.<ext>.

// ErrObjectNotFound is returned when the requested key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// PutObjectOptions define optional parameters for uploading objects.
// Size should be the exact number of bytes if known, or -1 if unknown.
type PutObjectOptions struct {
	Size        int64
	ContentType string
	Metadata    map[string]string
}

// ObjectInfo contains basic information about an object in storage.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
	Metadata     map[string]string
}

// Storage is an S3-compatible object storage client.
type Storage interface {
	// Put uploads an object under the given key using the provided reader and options.
	Put(ctx context.Context, key string, r io.Reader, opt PutObjectOptions) (ObjectInfo, error)
	// Get retrieves an object's content as a streaming reader alongside its info.
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)
	// Stat returns object info or ErrObjectNotFound.
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	// Delete removes an object by key.
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every object under prefix and returns how many went.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	// PresignGet returns a time-limited URL that can be used to download the object without credentials.
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// HistoryPrefix is the archive folder of one document.
func HistoryPrefix(docKey string) string {
	return "history/" + docKey + "/"
}

// HistoryKey is the archive object of one committed version.
func HistoryKey(docKey string, version int64, ext string) string {
	return fmt.Sprintf("%s%d.%s", HistoryPrefix(docKey), version, ext)
}
