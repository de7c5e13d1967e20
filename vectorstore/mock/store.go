// Package mock provides an in-memory vectorstore.Store for tests.
//
// Store keeps chunks in maps and lets tests inject transient failures per
// operation, cap the number of chunks a single Upsert accepts, and delay the
// visibility of writes to imitate an eventually consistent service.
package mock

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/poiesic/sluice/core"
	"github.com/poiesic/sluice/vectorstore"
)

// Operation names used for failure injection.
const (
	OpCollection = "collection"
	OpExists     = "exists"
	OpUpsert     = "upsert"
	OpDelete     = "delete"
	OpCount      = "count"
)

// ErrInjected is the default error returned by injected failures.
var ErrInjected = errors.New("injected store failure")

// Store is an in-memory vectorstore.Store.
type Store struct {
	mu          sync.Mutex
	collections map[string]map[core.ID]*core.Chunk
	dimensions  map[string]int
	pending     map[string]map[core.ID]int // writes not yet visible, by remaining Exists calls
	failures    map[string][]error
	calls       map[string]int
	writes      map[core.ID]int

	// VisibilityDelay hides each write from Exists for that many Exists calls.
	VisibilityDelay int
	// MaxUpsertBatch rejects upserts larger than this with a transient error. Zero disables.
	MaxUpsertBatch int
	// UpsertFunc, if set, is consulted before every upsert; a non-nil error aborts it.
	UpsertFunc func(collection string, chunks []*core.Chunk) error
}

var _ vectorstore.Store = (*Store)(nil)

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		collections: make(map[string]map[core.ID]*core.Chunk),
		dimensions:  make(map[string]int),
		pending:     make(map[string]map[core.ID]int),
		failures:    make(map[string][]error),
		calls:       make(map[string]int),
		writes:      make(map[core.ID]int),
	}
}

// FailNext makes the next n calls of op fail with err (ErrInjected when nil).
func (s *Store) FailNext(op string, n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		err = ErrInjected
	}
	for i := 0; i < n; i++ {
		s.failures[op] = append(s.failures[op], err)
	}
}

// Calls returns how many times op was invoked, failures included.
func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Writes returns how many times id was written by Upsert.
func (s *Store) Writes(id core.ID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes[id]
}

// TotalWrites returns the number of chunk writes across all upserts.
func (s *Store) TotalWrites() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.writes {
		total += n
	}
	return total
}

// Chunk returns the stored chunk for id, visible or not.
func (s *Store) Chunk(collection string, id core.ID) (*core.Chunk, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[collection][id]
	return c, ok
}

// Dimension returns the dimension a collection was created with.
func (s *Store) Dimension(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dimensions[collection]
}

// enter records a call and pops an injected failure. Caller holds the lock.
func (s *Store) enter(op string) error {
	s.calls[op]++
	if queue := s.failures[op]; len(queue) > 0 {
		s.failures[op] = queue[1:]
		return queue[0]
	}
	return nil
}

// GetOrCreateCollection implements vectorstore.Store.
func (s *Store) GetOrCreateCollection(ctx context.Context, name string, dimension int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpCollection); err != nil {
		return err
	}
	if name == "" {
		return vectorstore.ErrInvalidCollectionName
	}
	if _, ok := s.collections[name]; !ok {
		s.collections[name] = make(map[core.ID]*core.Chunk)
		s.pending[name] = make(map[core.ID]int)
		s.dimensions[name] = dimension
	}
	return nil
}

// Exists implements vectorstore.Store.
func (s *Store) Exists(ctx context.Context, collection string, ids []core.ID) (map[core.ID]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpExists); err != nil {
		return nil, err
	}
	present := make(map[core.ID]struct{})
	coll, ok := s.collections[collection]
	if !ok {
		return present, nil
	}
	pending := s.pending[collection]
	for _, id := range ids {
		if _, stored := coll[id]; !stored {
			continue
		}
		if _, hidden := pending[id]; hidden {
			continue
		}
		present[id] = struct{}{}
	}
	for id, remaining := range pending {
		if remaining <= 1 {
			delete(pending, id)
		} else {
			pending[id] = remaining - 1
		}
	}
	return present, nil
}

// Upsert implements vectorstore.Store.
func (s *Store) Upsert(ctx context.Context, collection string, chunks []*core.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpUpsert); err != nil {
		return err
	}
	coll, ok := s.collections[collection]
	if !ok {
		return fmt.Errorf("%w: %s", vectorstore.ErrCollectionNotFound, collection)
	}
	if s.MaxUpsertBatch > 0 && len(chunks) > s.MaxUpsertBatch {
		return fmt.Errorf("payload of %d chunks exceeds limit %d", len(chunks), s.MaxUpsertBatch)
	}
	if s.UpsertFunc != nil {
		if err := s.UpsertFunc(collection, chunks); err != nil {
			return err
		}
	}
	dim := s.dimensions[collection]
	for _, c := range chunks {
		if dim > 0 && len(c.Vector) != dim {
			return fmt.Errorf("%w: got %d, want %d", vectorstore.ErrDimensionMismatch, len(c.Vector), dim)
		}
	}
	for _, c := range chunks {
		coll[c.ID] = c
		s.writes[c.ID]++
		if s.VisibilityDelay > 0 {
			s.pending[collection][c.ID] = s.VisibilityDelay
		}
	}
	return nil
}

// Delete implements vectorstore.Store.
func (s *Store) Delete(ctx context.Context, collection string, ids []core.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpDelete); err != nil {
		return err
	}
	for _, id := range ids {
		delete(s.collections[collection], id)
		delete(s.pending[collection], id)
	}
	return nil
}

// Count implements vectorstore.Store.
func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpCount); err != nil {
		return 0, err
	}
	return len(s.collections[collection]), nil
}

// Close implements vectorstore.Store.
func (s *Store) Close() error {
	return nil
}
