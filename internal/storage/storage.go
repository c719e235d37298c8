// Package storage provides the durable key-value blob store backing
// queue snapshots. The sync core treats it as an injected collaborator;
// write failures are reported, never fatal.
package storage

// BlobStore is a durable key-value store for opaque blobs.
type BlobStore interface {
	// Get returns the blob stored under key, or (nil, nil) if absent.
	Get(key string) ([]byte, error)

	// Set stores the blob under key, replacing any previous value.
	Set(key string, data []byte) error

	// Delete removes the blob stored under key. Deleting an absent key
	// is not an error.
	Delete(key string) error

	// Close releases the underlying resources.
	Close() error
}
