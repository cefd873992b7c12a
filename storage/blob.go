package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotExist is returned by Get when no blob is stored under the key.
var ErrNotExist = errors.New("blob does not exist")

// BlobStore is the object-store capability handed to handlers. A blob is an
// opaque byte sequence addressed by a unique key; the content type is
// advisory and stores may ignore it (the metadata record is authoritative).
type BlobStore interface {
	// Put stores the reader's bytes under key, overwriting any previous blob.
	Put(ctx context.Context, key string, r io.Reader, contentType string) error
	// Get opens the blob stored under key and reports its exact byte length.
	// Returns ErrNotExist when the key holds nothing.
	Get(ctx context.Context, key string) (io.ReadCloser, int64, error)
	// Delete removes the blob under key. Deleting an absent key is not an
	// error, so Delete is safe to use as a compensating action.
	Delete(ctx context.Context, key string) error
}
