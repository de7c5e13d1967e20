// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package queue

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/poiesic/sluice/core"
)

// File names inside the state directory.
const (
	QueueFile      = "queue.json"
	CheckpointFile = "checkpoints.json"
	LockFile       = ".lock"

	stateVersion = 1
)

// Reasons recorded for transitions the store makes on its own.
const (
	ReasonInterrupted = "interrupted: recovered from processing"
	ReasonRetry       = "manual retry"
	ReasonReset       = "reset"
)

// Entry is the queue record for one path.
type Entry struct {
	State      core.QueueState `json:"state"`
	Reason     string          `json:"reason,omitempty"`
	SizeBytes  int64           `json:"size_bytes"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Candidate is a discovered path offered for enqueueing.
type Candidate struct {
	Path      string
	SizeBytes int64
}

// Completion describes a finished unit.
type Completion struct {
	RunID  string
	Chunks int
	Leaves []core.Leaf
}

type queueDoc struct {
	Version int               `json:"version"`
	Entries map[string]*Entry `json:"entries"`
}

type checkpointDoc struct {
	Version int                                `json:"version"`
	Records map[string][]core.CheckpointRecord `json:"records"`
}

type state struct {
	entries map[string]*Entry
	records map[string][]core.CheckpointRecord
}

func (s *state) clone() *state {
	next := &state{
		entries: make(map[string]*Entry, len(s.entries)),
		records: make(map[string][]core.CheckpointRecord, len(s.records)),
	}
	for path, e := range s.entries {
		copied := *e
		next.entries[path] = &copied
	}
	for path, recs := range s.records {
		next.records[path] = slices.Clip(recs)
	}
	return next
}

// Store is the durable queue and checkpoint log.
//
// Every mutation runs as a transaction against a copy of the state; the copy
// is written to disk atomically and only then becomes current. A lock file
// keeps a second process from opening the same directory.
type Store struct {
	dir       string
	lock      *flock.Flock
	now       func() time.Time
	logger    *slog.Logger
	recovered []string

	rolledForward []string

	mu     sync.Mutex
	state  *state
	closed bool
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Open loads the state in dir, creating the directory if needed.
//
// Queue entries that missed a later checkpoint are rolled forward to it.
// Paths found in processing were interrupted by a crash; they are moved back
// to pending and listed by Recovered. Unparseable or contradictory state
// files yield ErrCorruptState and are left untouched.
func Open(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	s := &Store{
		dir:    dir,
		lock:   flock.New(filepath.Join(dir, LockFile)),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "queue")

	locked, err := s.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock state dir: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, dir)
	}

	if err := s.load(); err != nil {
		s.lock.Unlock()
		return nil, err
	}
	if err := s.recover(); err != nil {
		s.lock.Unlock()
		return nil, err
	}
	return s, nil
}

// Dir returns the state directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) load() error {
	q := queueDoc{Entries: map[string]*Entry{}}
	foundQ, err := readJSON(filepath.Join(s.dir, QueueFile), &q)
	if err != nil {
		return err
	}
	c := checkpointDoc{Records: map[string][]core.CheckpointRecord{}}
	foundC, err := readJSON(filepath.Join(s.dir, CheckpointFile), &c)
	if err != nil {
		return err
	}

	if foundQ && q.Version != stateVersion {
		return fmt.Errorf("%w: %s has version %d, want %d", ErrCorruptState, QueueFile, q.Version, stateVersion)
	}
	if foundC && c.Version != stateVersion {
		return fmt.Errorf("%w: %s has version %d, want %d", ErrCorruptState, CheckpointFile, c.Version, stateVersion)
	}
	if q.Entries == nil {
		q.Entries = map[string]*Entry{}
	}
	if c.Records == nil {
		c.Records = map[string][]core.CheckpointRecord{}
	}
	for _, path := range slices.Sorted(maps.Keys(q.Entries)) {
		e := q.Entries[path]
		if e == nil || !slices.Contains(core.QueueStates, e.State) {
			return fmt.Errorf("%w: %s: bad entry for %s", ErrCorruptState, QueueFile, path)
		}

		recs := c.Records[path]
		if len(recs) == 0 {
			if e.State == core.StateCompleted {
				return fmt.Errorf("%w: %s is completed without a checkpoint", ErrCorruptState, path)
			}
			continue
		}
		rec := recs[len(recs)-1]
		if !slices.Contains(core.QueueStates, rec.Status) {
			return fmt.Errorf("%w: %s: bad checkpoint for %s", ErrCorruptState, CheckpointFile, path)
		}
		if rec.Status == e.State {
			continue
		}
		// Checkpoints are written first: a newer record is a transition the
		// queue file never received.
		if !rec.Timestamp.Before(e.UpdatedAt) {
			s.logger.Warn("rolling queue entry forward to checkpoint", "path", path, "from", e.State, "to", rec.Status)
			if rec.Status == core.StateProcessing {
				e.Attempts++
			}
			e.State = rec.Status
			e.Reason = rec.Reason
			e.UpdatedAt = rec.Timestamp
			s.rolledForward = append(s.rolledForward, path)
			continue
		}
		if e.State == core.StateCompleted {
			return fmt.Errorf("%w: %s is completed but its latest checkpoint is %s", ErrCorruptState, path, rec.Status)
		}
	}

	s.state = &state{entries: q.Entries, records: c.Records}
	return nil
}

func (s *Store) recover() error {
	err := s.update(func(st *state, now time.Time) error {
		for path, e := range st.entries {
			if e.State != core.StateProcessing {
				continue
			}
			e.State = core.StatePending
			e.Reason = ReasonInterrupted
			e.UpdatedAt = now
			appendRecord(st, path, now, core.StatePending, ReasonInterrupted)
			s.recovered = append(s.recovered, path)
		}
		if len(s.recovered) == 0 && len(s.rolledForward) == 0 {
			return errNothingToDo
		}
		return nil
	})
	if errors.Is(err, errNothingToDo) {
		return nil
	}
	if err != nil {
		s.recovered = nil
		return err
	}
	sort.Strings(s.recovered)
	for _, path := range s.recovered {
		s.logger.Warn("recovered interrupted unit", "path", path)
	}
	return nil
}

// Recovered returns the paths moved from processing back to pending by Open.
func (s *Store) Recovered() []string {
	return slices.Clone(s.recovered)
}

// update runs fn on a copy of the state and commits the copy once it has
// been persisted. An error from fn or from persisting leaves the current
// state unchanged.
func (s *Store) update(fn func(st *state, now time.Time) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	next := s.state.clone()
	if err := fn(next, s.now().UTC()); err != nil {
		return err
	}
	if err := s.persist(next); err != nil {
		return err
	}
	s.state = next
	return nil
}

func (s *Store) view(fn func(st *state)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	fn(s.state)
	return nil
}

// persist writes the checkpoint log before the queue, so the queue file is
// never ahead of the checkpoints.
func (s *Store) persist(st *state) error {
	if err := writeJSONAtomic(filepath.Join(s.dir, CheckpointFile), checkpointDoc{Version: stateVersion, Records: st.records}); err != nil {
		return fmt.Errorf("persist checkpoints: %w", err)
	}
	if err := writeJSONAtomic(filepath.Join(s.dir, QueueFile), queueDoc{Version: stateVersion, Entries: st.entries}); err != nil {
		return fmt.Errorf("persist queue: %w", err)
	}
	return nil
}

func appendRecord(st *state, path string, now time.Time, status core.QueueState, reason string) *core.CheckpointRecord {
	st.records[path] = append(st.records[path], core.CheckpointRecord{
		Path:      path,
		Timestamp: now,
		Status:    status,
		Reason:    reason,
	})
	return &st.records[path][len(st.records[path])-1]
}

func latest(st *state, path string) (core.CheckpointRecord, bool) {
	recs := st.records[path]
	if len(recs) == 0 {
		return core.CheckpointRecord{}, false
	}
	return recs[len(recs)-1], true
}

func transition(st *state, path string, from core.QueueState, to core.QueueState, now time.Time) (*Entry, error) {
	e, ok := st.entries[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPath, path)
	}
	if e.State != from {
		return nil, fmt.Errorf("%w: %s is %s, not %s", ErrInvalidTransition, path, e.State, from)
	}
	e.State = to
	e.UpdatedAt = now
	return e, nil
}

// EnqueueIfNew adds candidates that are not yet known and returns how many
// were added. Paths already in any state, or whose latest checkpoint says
// completed, are skipped; failed paths are never re-added automatically.
func (s *Store) EnqueueIfNew(candidates []Candidate) (int, error) {
	added := 0
	err := s.update(func(st *state, now time.Time) error {
		added = 0
		for _, c := range candidates {
			if c.Path == "" {
				continue
			}
			if _, ok := st.entries[c.Path]; ok {
				continue
			}
			if rec, ok := latest(st, c.Path); ok && rec.Status == core.StateCompleted {
				continue
			}
			st.entries[c.Path] = &Entry{
				State:      core.StatePending,
				SizeBytes:  c.SizeBytes,
				EnqueuedAt: now,
				UpdatedAt:  now,
			}
			added++
		}
		if added == 0 {
			return errNothingToDo
		}
		return nil
	})
	if errors.Is(err, errNothingToDo) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	s.logger.Debug("enqueued paths", "added", added, "offered", len(candidates))
	return added, nil
}

// errNothingToDo aborts a transaction that made no change, skipping the write.
var errNothingToDo = errors.New("no change")

// NextPending returns the pending path to process next: the smallest first,
// ties broken by path. ok is false when nothing is pending.
func (s *Store) NextPending() (path string, entry Entry, ok bool, err error) {
	err = s.view(func(st *state) {
		for p, e := range st.entries {
			if e.State != core.StatePending {
				continue
			}
			if !ok || e.SizeBytes < entry.SizeBytes || (e.SizeBytes == entry.SizeBytes && p < path) {
				path, entry, ok = p, *e, true
			}
		}
	})
	return path, entry, ok, err
}

// MarkProcessing moves a pending path to processing. The checkpoint is
// written before any work on the unit starts.
func (s *Store) MarkProcessing(path, runID string) error {
	return s.update(func(st *state, now time.Time) error {
		e, err := transition(st, path, core.StatePending, core.StateProcessing, now)
		if err != nil {
			return err
		}
		e.Attempts++
		e.Reason = ""
		rec := appendRecord(st, path, now, core.StateProcessing, "")
		rec.RunID = runID
		return nil
	})
}

// MarkCompleted moves a processing path to completed. Completed is terminal.
func (s *Store) MarkCompleted(path string, done Completion) error {
	return s.update(func(st *state, now time.Time) error {
		e, err := transition(st, path, core.StateProcessing, core.StateCompleted, now)
		if err != nil {
			return err
		}
		e.Reason = ""
		rec := appendRecord(st, path, now, core.StateCompleted, "")
		rec.RunID = done.RunID
		rec.Chunks = done.Chunks
		rec.Leaves = slices.Clone(done.Leaves)
		return nil
	})
}

// MarkFailed moves a processing path to failed with an operator-facing reason.
func (s *Store) MarkFailed(path, runID, reason string) error {
	return s.update(func(st *state, now time.Time) error {
		e, err := transition(st, path, core.StateProcessing, core.StateFailed, now)
		if err != nil {
			return err
		}
		e.Reason = reason
		rec := appendRecord(st, path, now, core.StateFailed, reason)
		rec.RunID = runID
		return nil
	})
}

// RetryFailed moves failed paths back to pending. With no paths it moves
// every failed path. It returns the number moved.
func (s *Store) RetryFailed(paths ...string) (int, error) {
	moved := 0
	err := s.update(func(st *state, now time.Time) error {
		moved = 0
		if len(paths) == 0 {
			for p, e := range st.entries {
				if e.State == core.StateFailed {
					paths = append(paths, p)
				}
			}
			sort.Strings(paths)
		}
		for _, p := range paths {
			e, err := transition(st, p, core.StateFailed, core.StatePending, now)
			if err != nil {
				return err
			}
			e.Reason = ReasonRetry
			appendRecord(st, p, now, core.StatePending, ReasonRetry)
			moved++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return moved, nil
}

// Reset returns a completed or failed path to pending, as when its stored
// chunks have been deleted and it must be ingested again.
func (s *Store) Reset(path string) error {
	return s.update(func(st *state, now time.Time) error {
		e, ok := st.entries[path]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownPath, path)
		}
		if e.State != core.StateCompleted && e.State != core.StateFailed {
			return fmt.Errorf("%w: cannot reset %s from %s", ErrInvalidTransition, path, e.State)
		}
		e.State = core.StatePending
		e.Reason = ReasonReset
		e.UpdatedAt = now
		appendRecord(st, path, now, core.StatePending, ReasonReset)
		return nil
	})
}

// StatusCounts returns the number of paths in every state.
func (s *Store) StatusCounts() (map[core.QueueState]int, error) {
	counts := make(map[core.QueueState]int, len(core.QueueStates))
	for _, st := range core.QueueStates {
		counts[st] = 0
	}
	err := s.view(func(st *state) {
		for _, e := range st.entries {
			counts[e.State]++
		}
	})
	return counts, err
}

// Paths returns the sorted paths in the given state.
func (s *Store) Paths(want core.QueueState) ([]string, error) {
	var paths []string
	err := s.view(func(st *state) {
		for p, e := range st.entries {
			if e.State == want {
				paths = append(paths, p)
			}
		}
	})
	sort.Strings(paths)
	return paths, err
}

// Entry returns the queue entry for path.
func (s *Store) Entry(path string) (Entry, bool, error) {
	var (
		entry Entry
		ok    bool
	)
	err := s.view(func(st *state) {
		if e, found := st.entries[path]; found {
			entry, ok = *e, true
		}
	})
	return entry, ok, err
}

// Entries returns a copy of every queue entry keyed by path.
func (s *Store) Entries() (map[string]Entry, error) {
	out := make(map[string]Entry)
	err := s.view(func(st *state) {
		for p, e := range st.entries {
			out[p] = *e
		}
	})
	return out, err
}

// Checkpoint returns the latest checkpoint record for path.
func (s *Store) Checkpoint(path string) (core.CheckpointRecord, bool, error) {
	var (
		rec core.CheckpointRecord
		ok  bool
	)
	err := s.view(func(st *state) {
		rec, ok = latest(st, path)
	})
	return rec, ok, err
}

// History returns every checkpoint record for path, oldest first.
func (s *Store) History(path string) ([]core.CheckpointRecord, error) {
	var recs []core.CheckpointRecord
	err := s.view(func(st *state) {
		recs = slices.Clone(st.records[path])
	})
	return recs, err
}

// Completed returns the latest record of every path whose queue entry is
// completed, sorted by path.
func (s *Store) Completed() ([]core.CheckpointRecord, error) {
	var recs []core.CheckpointRecord
	err := s.view(func(st *state) {
		for _, p := range slices.Sorted(maps.Keys(st.entries)) {
			if st.entries[p].State != core.StateCompleted {
				continue
			}
			if rec, ok := latest(st, p); ok {
				recs = append(recs, rec)
			}
		}
	})
	return recs, err
}

// Close releases the directory lock. The store cannot be used afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.lock.Unlock()
}
