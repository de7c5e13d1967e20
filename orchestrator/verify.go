package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"slices"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/sluice/core"
	"github.com/poiesic/sluice/queue"
	"github.com/poiesic/sluice/vectorstore"
)

// existsBatch bounds the number of ids in one existence query.
const existsBatch = 256

// PathCheck is the verification result for one completed path.
type PathCheck struct {
	Path     string
	Expected int
	Missing  []core.ID
	Err      error
}

// VerifyReport aggregates the checks of one verification.
type VerifyReport struct {
	Checked    int
	Complete   int
	Incomplete []PathCheck // paths with missing chunks
	Errored    []PathCheck // paths that could not be checked
}

// MissingChunks returns the number of missing chunks across all paths.
func (r *VerifyReport) MissingChunks() int {
	n := 0
	for _, c := range r.Incomplete {
		n += len(c.Missing)
	}
	return n
}

// Verifier checks that every chunk recorded for a completed path exists in
// the store. Paths are checked in parallel on a bounded worker pool.
type Verifier struct {
	queue      *queue.Store
	store      vectorstore.Store
	collection string
	workers    int
	progress   io.Writer
	logger     *slog.Logger
}

// NewVerifier creates a Verifier. workers below one default to the CPU count.
func NewVerifier(q *queue.Store, store vectorstore.Store, collection string, workers int) (*Verifier, error) {
	if q == nil {
		return nil, ErrQueueRequired
	}
	if store == nil {
		return nil, vectorstore.ErrStoreRequired
	}
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	return &Verifier{
		queue:      q,
		store:      store,
		collection: collection,
		workers:    workers,
		logger:     slog.Default().With("component", "verifier"),
	}, nil
}

// WithProgress makes Verify report progress on w.
func (v *Verifier) WithProgress(w io.Writer) *Verifier {
	v.progress = w
	return v
}

// Verify checks the given completed paths, or all of them when none are given.
// Requested paths that are unknown or not completed are reported as errored.
func (v *Verifier) Verify(ctx context.Context, paths ...string) (*VerifyReport, error) {
	records, err := v.queue.Completed()
	if err != nil {
		return nil, err
	}
	var rejected []PathCheck
	if len(paths) > 0 {
		records = slices.DeleteFunc(records, func(r core.CheckpointRecord) bool {
			return !slices.Contains(paths, r.Path)
		})
		rejected, err = v.rejectRequested(paths, records)
		if err != nil {
			return nil, err
		}
	}

	pool, err := ants.NewPool(v.workers)
	if err != nil {
		return nil, fmt.Errorf("create verify pool: %w", err)
	}
	defer pool.Release()

	var tracker *ProgressTracker
	if v.progress != nil {
		tracker = NewProgressTracker(v.progress, "paths", len(records), max(1, len(records)/100))
		tracker.Start()
	}

	results := make([]PathCheck, len(records))
	var wg sync.WaitGroup
	for i, rec := range records {
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			results[i] = v.check(ctx, rec)
			if tracker != nil {
				tracker.Increment(1)
			}
		})
		if submitErr != nil {
			wg.Done()
			results[i] = PathCheck{Path: rec.Path, Err: submitErr}
		}
	}
	wg.Wait()
	if tracker != nil {
		tracker.Finish()
	}

	results = append(results, rejected...)
	report := &VerifyReport{Checked: len(results)}
	for _, r := range results {
		switch {
		case r.Err != nil:
			report.Errored = append(report.Errored, r)
		case len(r.Missing) > 0:
			report.Incomplete = append(report.Incomplete, r)
		default:
			report.Complete++
		}
	}
	v.logger.Info("verification complete", "checked", report.Checked, "complete", report.Complete,
		"incomplete", len(report.Incomplete), "errored", len(report.Errored))
	return report, ctx.Err()
}

// rejectRequested returns an errored check for every requested path that has
// no completed record.
func (v *Verifier) rejectRequested(paths []string, records []core.CheckpointRecord) ([]PathCheck, error) {
	var rejected []PathCheck
	seen := make(map[string]bool, len(paths))
	for _, path := range paths {
		if seen[path] || slices.ContainsFunc(records, func(r core.CheckpointRecord) bool { return r.Path == path }) {
			continue
		}
		seen[path] = true
		entry, ok, err := v.queue.Entry(path)
		if err != nil {
			return nil, err
		}
		check := PathCheck{Path: path}
		if !ok {
			check.Err = fmt.Errorf("%w: %s", queue.ErrUnknownPath, path)
		} else {
			check.Err = fmt.Errorf("%w: %s is %s", ErrNotCompleted, path, entry.State)
		}
		rejected = append(rejected, check)
	}
	return rejected, nil
}

func (v *Verifier) check(ctx context.Context, rec core.CheckpointRecord) PathCheck {
	ids := rec.ExpectedIDs()
	result := PathCheck{Path: rec.Path, Expected: len(ids)}
	if rec.Status != core.StateCompleted {
		result.Err = fmt.Errorf("%w: latest checkpoint of %s is %s", ErrNotCompleted, rec.Path, rec.Status)
		return result
	}
	for start := 0; start < len(ids); start += existsBatch {
		if err := ctx.Err(); err != nil {
			result.Err = err
			return result
		}
		batch := ids[start:min(start+existsBatch, len(ids))]
		present, err := v.store.Exists(ctx, v.collection, batch)
		if err != nil {
			result.Err = err
			return result
		}
		for _, id := range batch {
			if _, ok := present[id]; !ok {
				result.Missing = append(result.Missing, id)
			}
		}
	}
	return result
}

// Forget deletes the stored chunks of a completed or failed path and returns
// it to pending so the next run ingests it again. It returns the number of
// chunk ids deleted.
func Forget(ctx context.Context, q *queue.Store, store vectorstore.Store, collection, path string) (int, error) {
	entry, ok, err := q.Entry(path)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: %s", queue.ErrUnknownPath, path)
	}

	var ids []core.ID
	if entry.State == core.StateCompleted {
		rec, _, err := q.Checkpoint(path)
		if err != nil {
			return 0, err
		}
		ids = rec.ExpectedIDs()
	}
	if len(ids) > 0 {
		if err := store.Delete(ctx, collection, ids); err != nil {
			return 0, fmt.Errorf("delete chunks of %s: %w", path, err)
		}
	}
	if err := q.Reset(path); err != nil {
		return len(ids), err
	}
	return len(ids), nil
}
