package badger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/sluice/core"
	"github.com/poiesic/sluice/vectorstore"
)

// Store is an embedded vectorstore.Store backed by Badger.
// It serves local runs and tests where no remote vector service is available.
type Store struct {
	backend *Backend
	owned   bool
}

var _ vectorstore.Store = (*Store)(nil)

// NewStore creates a store on an existing backend. The caller keeps ownership
// of the backend and must close it.
func NewStore(backend *Backend) (*Store, error) {
	if backend == nil {
		return nil, vectorstore.ErrStoreRequired
	}
	return &Store{backend: backend}, nil
}

// OpenStore opens a Badger database at path and returns a store that owns it.
func OpenStore(path string) (*Store, error) {
	backend, err := OpenBackend(path, false)
	if err != nil {
		return nil, err
	}
	return &Store{backend: backend, owned: true}, nil
}

// NewMemoryStore creates a store over an in-memory database, for tests.
func NewMemoryStore() (*Store, error) {
	backend, err := OpenBackend("", true)
	if err != nil {
		return nil, err
	}
	return &Store{backend: backend, owned: true}, nil
}

func validateName(name string) error {
	if name == "" || strings.Contains(name, ":") {
		return fmt.Errorf("%w: %q", vectorstore.ErrInvalidCollectionName, name)
	}
	return nil
}

func (s *Store) check(collection string) error {
	if s.backend.IsClosed() {
		return vectorstore.ErrClosed
	}
	return validateName(collection)
}

func loadMeta(tx *badger.Txn, name string) (CollectionRecord, error) {
	item, err := tx.Get(makeCollectionKey(name))
	if err != nil {
		return CollectionRecord{}, err
	}
	var meta CollectionRecord
	err = item.Value(func(val []byte) error {
		meta, err = UnmarshalCollectionRecord(val)
		return err
	})
	return meta, err
}

// GetOrCreateCollection implements vectorstore.Store.
func (s *Store) GetOrCreateCollection(ctx context.Context, name string, dimension int) error {
	if err := s.check(name); err != nil {
		return err
	}
	return s.backend.WithTx(func(tx *badger.Txn) error {
		_, err := loadMeta(tx, name)
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		val := MarshalCollectionRecord(CollectionRecord{Dimension: dimension})
		s.backend.logger.Info("created collection", "collection", name, "dimension", dimension)
		return tx.Set(makeCollectionKey(name), val)
	}, true)
}

// Exists implements vectorstore.Store.
func (s *Store) Exists(ctx context.Context, collection string, ids []core.ID) (map[core.ID]struct{}, error) {
	if err := s.check(collection); err != nil {
		return nil, err
	}
	present := make(map[core.ID]struct{}, len(ids))
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		for _, id := range ids {
			_, err := tx.Get(makeChunkKey(collection, id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			present[id] = struct{}{}
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	return present, nil
}

// Upsert implements vectorstore.Store. Only the metadata keys in ChunkMeta
// are persisted.
func (s *Store) Upsert(ctx context.Context, collection string, chunks []*core.Chunk) error {
	if err := s.check(collection); err != nil {
		return err
	}

	var meta CollectionRecord
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		meta, err = loadMeta(tx, collection)
		return err
	}, false)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: %s", vectorstore.ErrCollectionNotFound, collection)
	}
	if err != nil {
		return err
	}

	for _, c := range chunks {
		if meta.Dimension > 0 && len(c.Vector) != meta.Dimension {
			return fmt.Errorf("%w: chunk %d has %d, collection %s wants %d",
				vectorstore.ErrDimensionMismatch, c.ID, len(c.Vector), collection, meta.Dimension)
		}
	}

	return s.backend.WriteBatch(func(wb *badger.WriteBatch) error {
		for _, c := range chunks {
			if err := wb.Set(makeChunkKey(collection, c.ID), MarshalChunkRecord(newChunkRecord(c))); err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete implements vectorstore.Store.
func (s *Store) Delete(ctx context.Context, collection string, ids []core.ID) error {
	if err := s.check(collection); err != nil {
		return err
	}
	return s.backend.WriteBatch(func(wb *badger.WriteBatch) error {
		for _, id := range ids {
			if err := wb.Delete(makeChunkKey(collection, id)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Count implements vectorstore.Store.
func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	if err := s.check(collection); err != nil {
		return 0, err
	}
	count := 0
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = makeChunkPrefix(collection)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			count++
		}
		return nil
	}, false)
	return count, err
}

// Get returns a stored chunk, for inspection and tests.
func (s *Store) Get(ctx context.Context, collection string, id core.ID) (*core.Chunk, error) {
	if err := s.check(collection); err != nil {
		return nil, err
	}
	var chunk *core.Chunk
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeChunkKey(collection, id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			record, err := UnmarshalChunkRecord(val)
			if err != nil {
				return err
			}
			chunk = record.toChunk(id)
			return nil
		})
	}, false)
	return chunk, err
}

// Close closes the backend if the store opened it.
func (s *Store) Close() error {
	if !s.owned || s.backend.IsClosed() {
		return nil
	}
	return s.backend.Close()
}
