package vectorstore

import (
	"context"

	"github.com/poiesic/sluice/core"
)

// Store is the vector store boundary.
// Implementations must be safe for concurrent use.
type Store interface {
	// GetOrCreateCollection ensures a collection exists. dimension is the
	// vector size used when the collection has to be created.
	GetOrCreateCollection(ctx context.Context, name string, dimension int) error

	// Exists returns the subset of ids present in the collection.
	// A missing collection yields an empty set, not an error.
	Exists(ctx context.Context, collection string, ids []core.ID) (map[core.ID]struct{}, error)

	// Upsert writes chunks to the collection. Existing ids are overwritten.
	Upsert(ctx context.Context, collection string, chunks []*core.Chunk) error

	// Delete removes ids from the collection. Unknown ids are ignored.
	Delete(ctx context.Context, collection string, ids []core.ID) error

	// Count returns the number of chunks in the collection.
	Count(ctx context.Context, collection string) (int, error)

	// Close releases connections held by the store.
	Close() error
}

// IDSet builds a set from ids.
func IDSet(ids ...core.ID) map[core.ID]struct{} {
	set := make(map[core.ID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
