package storage

import (
	"context"
	"io"
	"time"
)

// Package storage mirrors uploaded bundles to an S3-compatible object store.
// The local database store stays the source of truth; the mirror is a copy of
// the last accepted archive per database.

// PutObjectOptions define optional parameters for uploading objects.
// Size should be the exact number of bytes if known; if unknown, set to -1 and the implementation
// will buffer/chunk as supported by the backend.
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

// Storage is the object store used for bundle mirroring.
type Storage interface {
	// Put uploads an object under the given key using the provided reader and options.
	Put(ctx context.Context, key string, r io.Reader, opt PutObjectOptions) (ObjectInfo, error)
}

// BundleKey is the object key holding the latest archive of a database.
func BundleKey(name string) string {
	return "bundles/" + name + ".zip"
}
