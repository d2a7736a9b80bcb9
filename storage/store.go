// Package storage persists artifacts in a shared object store and keeps the
// store within a size quota by evicting the oldest objects.
//
// Quota decisions are made against a freshly listed snapshot and are
// advisory under concurrent external writers.
package storage

import (
	"context"
	"path"
	"strings"

	"github.com/justapithecus/darkroom/types"
)

// ObjectStore is the subset of an object store the pipeline needs.
type ObjectStore interface {
	// List returns every object under prefix. Directory placeholders are omitted.
	List(ctx context.Context, prefix string) ([]types.StorageObject, error)
	// Put stores data under key, replacing any existing object.
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Delete removes one object.
	Delete(ctx context.Context, key string) error
	// PublicURL returns the deterministic public read URL for key.
	PublicURL(key string) string
	// Backend names the implementation for logs and metrics.
	Backend() string
}

// DefaultProtectedPrefix holds configuration objects that are never evicted.
const DefaultProtectedPrefix = "_templates/"

// emptyFolderPlaceholder is the marker object bucket UIs create to keep
// an empty folder alive.
const emptyFolderPlaceholder = ".emptyFolderPlaceholder"

// isPlaceholder reports whether key is a directory marker.
func isPlaceholder(key string) bool {
	return key == "" || strings.HasSuffix(key, "/") || path.Base(key) == emptyFolderPlaceholder
}
