package storage

import (
	"context"
	"time"
)

// ObjectInfo describes a bundle in object storage.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// Provider fetches update bundles from the bundle repository.
type Provider interface {
	// CheckBucket verifies the bundle bucket is reachable.
	CheckBucket(ctx context.Context) error

	// Stat describes the object at key without downloading it.
	Stat(ctx context.Context, objectKey string) (ObjectInfo, error)

	// Fetch downloads the object at key into the file dst.
	Fetch(ctx context.Context, objectKey, dst string) (ObjectInfo, error)
}
