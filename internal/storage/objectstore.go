package storage

import "context"

// ObjectStore persists derived artifacts and hands back dereferenceable URIs.
// Keys are slash-separated paths relative to the store root.
type ObjectStore interface {
	// Put uploads data under key and returns the public URI for it.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	// Delete removes the given keys. Missing keys are not an error.
	Delete(ctx context.Context, keys []string) error
	// URI resolves the public URI for an existing key.
	URI(key string) string
}
