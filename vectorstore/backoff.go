package vectorstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/sluice/core"
	"github.com/poiesic/sluice/retry"
)

// BackoffStore wraps every call to another Store in an exponential backoff
// envelope. Transient failures are retried up to the policy's attempt cap;
// the final error wraps retry.ErrExhausted and is returned to the caller.
type BackoffStore struct {
	next   Store
	policy retry.Policy
	logger *slog.Logger
}

var _ Store = (*BackoffStore)(nil)

// NewBackoffStore wraps next with policy.
func NewBackoffStore(next Store, policy retry.Policy, logger *slog.Logger) (*BackoffStore, error) {
	if next == nil {
		return nil, ErrStoreRequired
	}
	if policy.MaxAttempts <= 0 {
		return nil, retry.ErrInvalidMaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "backoff-store")
	policy.Logger = logger
	return &BackoffStore{next: next, policy: policy, logger: logger}, nil
}

// Unwrap returns the wrapped store.
func (b *BackoffStore) Unwrap() Store {
	return b.next
}

func (b *BackoffStore) do(ctx context.Context, op string, fn func() error) error {
	err := b.policy.Do(ctx, func() error {
		err := fn()
		if err != nil && IsPermanent(err) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		if retry.IsExhausted(err) {
			b.logger.Error("store operation exhausted retries", "op", op, "attempts", b.policy.MaxAttempts, "err", err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetOrCreateCollection implements Store.
func (b *BackoffStore) GetOrCreateCollection(ctx context.Context, name string, dimension int) error {
	return b.do(ctx, "get or create collection", func() error {
		return b.next.GetOrCreateCollection(ctx, name, dimension)
	})
}

// Exists implements Store.
func (b *BackoffStore) Exists(ctx context.Context, collection string, ids []core.ID) (map[core.ID]struct{}, error) {
	var present map[core.ID]struct{}
	err := b.do(ctx, "exists", func() error {
		var err error
		present, err = b.next.Exists(ctx, collection, ids)
		return err
	})
	return present, err
}

// Upsert implements Store.
func (b *BackoffStore) Upsert(ctx context.Context, collection string, chunks []*core.Chunk) error {
	return b.do(ctx, "upsert", func() error {
		return b.next.Upsert(ctx, collection, chunks)
	})
}

// Delete implements Store.
func (b *BackoffStore) Delete(ctx context.Context, collection string, ids []core.ID) error {
	return b.do(ctx, "delete", func() error {
		return b.next.Delete(ctx, collection, ids)
	})
}

// Count implements Store.
func (b *BackoffStore) Count(ctx context.Context, collection string) (int, error) {
	var n int
	err := b.do(ctx, "count", func() error {
		var err error
		n, err = b.next.Count(ctx, collection)
		return err
	})
	return n, err
}

// Close closes the wrapped store.
func (b *BackoffStore) Close() error {
	return b.next.Close()
}
