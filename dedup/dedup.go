package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/poiesic/sluice/core"
	"github.com/poiesic/sluice/retry"
	"github.com/poiesic/sluice/vectorstore"
)

// DefaultInsertBatchSize is the number of chunks sent per store write.
const DefaultInsertBatchSize = 10

// Result reports what AddChunksWithDedup did.
type Result struct {
	Inserted int
	Skipped  int
}

// Add accumulates other into r.
func (r *Result) Add(other Result) {
	r.Inserted += other.Inserted
	r.Skipped += other.Skipped
}

// Deduplicator writes chunks to one collection, skipping ids that are already
// stored. It checks existence itself instead of relying on the store's upsert
// semantics, so a given id is written at most once across retries and reruns.
type Deduplicator struct {
	store       vectorstore.Store
	collection  string
	insertBatch int
	confirm     *retry.Policy
	logger      *slog.Logger

	mu    sync.Mutex
	ready bool
}

// Option configures a Deduplicator.
type Option func(*Deduplicator) error

// WithInsertBatchSize sets how many chunks are written per store call.
func WithInsertBatchSize(size int) Option {
	return func(d *Deduplicator) error {
		if size < 1 {
			return fmt.Errorf("insert batch size must be positive, got %d", size)
		}
		d.insertBatch = size
		return nil
	}
}

// WithConfirmation makes every insert wait until the written ids are visible,
// polling under policy. Eventually consistent stores need this for a unit to
// count as durably stored.
func WithConfirmation(policy retry.Policy) Option {
	return func(d *Deduplicator) error {
		if policy.MaxAttempts <= 0 {
			return retry.ErrInvalidMaxAttempts
		}
		d.confirm = &policy
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Deduplicator) error {
		if logger == nil {
			logger = slog.Default()
		}
		d.logger = logger
		return nil
	}
}

// New creates a Deduplicator for collection.
func New(store vectorstore.Store, collection string, opts ...Option) (*Deduplicator, error) {
	if store == nil {
		return nil, vectorstore.ErrStoreRequired
	}
	if collection == "" {
		return nil, vectorstore.ErrInvalidCollectionName
	}
	d := &Deduplicator{
		store:       store,
		collection:  collection,
		insertBatch: DefaultInsertBatchSize,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	d.logger = d.logger.With("component", "dedup", "collection", collection)
	if d.confirm != nil {
		d.confirm.Logger = d.logger
	}
	return d, nil
}

// Collection returns the target collection name.
func (d *Deduplicator) Collection() string {
	return d.collection
}

// ensureCollection creates the collection on first use. The dimension is taken
// from the first vector written.
func (d *Deduplicator) ensureCollection(ctx context.Context, dimension int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ready {
		return nil
	}
	if err := d.store.GetOrCreateCollection(ctx, d.collection, dimension); err != nil {
		return err
	}
	d.ready = true
	return nil
}

// Missing returns the ids not yet stored, in input order without repeats.
func (d *Deduplicator) Missing(ctx context.Context, ids []core.ID) ([]core.ID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	present, err := d.store.Exists(ctx, d.collection, ids)
	if err != nil {
		return nil, fmt.Errorf("existence check: %w", err)
	}
	seen := make(map[core.ID]struct{}, len(ids))
	var missing []core.ID
	for _, id := range ids {
		if _, ok := present[id]; ok {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		missing = append(missing, id)
	}
	return missing, nil
}

// AddChunksWithDedup stores the candidates that are not already present.
//
// Existence is checked with one batched call, the remainder is written in
// batches of the configured size, and, with confirmation enabled, the call
// returns only once every written id is visible. Any store failure is
// returned; the caller must treat the whole submission as failed.
func (d *Deduplicator) AddChunksWithDedup(ctx context.Context, chunks []*core.Chunk) (Result, error) {
	var result Result
	if len(chunks) == 0 {
		return result, nil
	}

	for _, c := range chunks {
		if err := core.ValidateChunk(c); err != nil {
			return result, err
		}
	}
	if err := d.ensureCollection(ctx, len(chunks[0].Vector)); err != nil {
		return result, fmt.Errorf("collection %s: %w", d.collection, err)
	}

	ids := make([]core.ID, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	missing, err := d.Missing(ctx, ids)
	if err != nil {
		return result, err
	}
	want := make(map[core.ID]struct{}, len(missing))
	for _, id := range missing {
		want[id] = struct{}{}
	}

	toInsert := make([]*core.Chunk, 0, len(missing))
	for _, c := range chunks {
		if _, ok := want[c.ID]; ok {
			toInsert = append(toInsert, c)
			delete(want, c.ID)
		}
	}
	result.Skipped = len(chunks) - len(toInsert)

	for start := 0; start < len(toInsert); start += d.insertBatch {
		end := min(start+d.insertBatch, len(toInsert))
		if err := d.store.Upsert(ctx, d.collection, toInsert[start:end]); err != nil {
			return result, fmt.Errorf("insert chunks %d-%d of %d: %w", start, end, len(toInsert), err)
		}
	}

	if d.confirm != nil && len(missing) > 0 {
		if err := d.confirmVisible(ctx, missing); err != nil {
			return result, err
		}
	}

	result.Inserted = len(toInsert)
	d.logger.Debug("stored chunks", "inserted", result.Inserted, "skipped", result.Skipped)
	return result, nil
}

// confirmVisible polls until every id is reported present.
func (d *Deduplicator) confirmVisible(ctx context.Context, ids []core.ID) error {
	pending := ids
	err := d.confirm.Do(ctx, func() error {
		missing, err := d.Missing(ctx, pending)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			pending = missing
			return fmt.Errorf("%w: %d of %d ids", ErrNotVisible, len(missing), len(ids))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("confirm writes: %w", err)
	}
	return nil
}
