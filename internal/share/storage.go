package share

import "io"

// BlobStorage defines the interface for the physical file storage
type BlobStorage interface {
	// Put writes content under a freshly generated key. Content longer than
	// limit is rejected with ErrPayloadTooLarge and leaves nothing behind.
	Put(content io.Reader, limit int64) (key string, size int64, err error)

	// Open returns a reader for the blob, or ErrBlobNotFound
	Open(key string) (io.ReadCloser, error)

	// Exists checks if a blob exists
	Exists(key string) bool

	// Delete removes a blob. Deleting an absent blob is not an error.
	Delete(key string) error
}
