package vectorstore

import (
	"errors"

	"github.com/poiesic/sluice/core"
)

var (
	// ErrCollectionNotFound is returned by operations that require an existing collection.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrInvalidCollectionName is returned for empty or unusable collection names.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrDimensionMismatch is returned when a vector does not fit the collection.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrStoreRequired is returned when a nil store is supplied.
	ErrStoreRequired = errors.New("vector store required")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("vector store closed")
)

// IsPermanent reports whether a store error cannot be cured by retrying.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrInvalidCollectionName) ||
		errors.Is(err, ErrDimensionMismatch) ||
		errors.Is(err, ErrClosed) ||
		errors.Is(err, core.ErrInvalidChunk)
}
