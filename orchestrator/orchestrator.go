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

package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/sluice/core"
	"github.com/poiesic/sluice/ingestion"
	"github.com/poiesic/sluice/queue"
)

// DefaultIterationCap is the number of units processed per Run.
const DefaultIterationCap = 1

// UnitProcessor processes one top-level unit to completion.
type UnitProcessor interface {
	Process(ctx context.Context, unit core.Unit) (*ingestion.Outcome, error)
}

// Orchestrator discovers units, queues them and drives a bounded number of
// them through a UnitProcessor, checkpointing before and after each one.
type Orchestrator struct {
	queue      *queue.Store
	processor  UnitProcessor
	discoverer *Discoverer
	iterations int
	runID      string
	releaseMem func()
	logger     *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator) error

// WithIterationCap limits how many units one Run processes. Zero or less
// processes until the queue has no pending units.
func WithIterationCap(n int) Option {
	return func(o *Orchestrator) error {
		o.iterations = n
		return nil
	}
}

// WithRunID sets the identifier recorded in checkpoints. Defaults to a random UUID.
func WithRunID(id string) Option {
	return func(o *Orchestrator) error {
		if id == "" {
			return fmt.Errorf("run id must not be empty")
		}
		o.runID = id
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) error {
		if logger == nil {
			logger = slog.Default()
		}
		o.logger = logger
		return nil
	}
}

// New creates an Orchestrator.
func New(q *queue.Store, processor UnitProcessor, discoverer *Discoverer, opts ...Option) (*Orchestrator, error) {
	if q == nil {
		return nil, ErrQueueRequired
	}
	if processor == nil {
		return nil, ErrProcessorRequired
	}
	if discoverer == nil {
		return nil, ErrDiscovererRequired
	}

	o := &Orchestrator{
		queue:      q,
		processor:  processor,
		discoverer: discoverer,
		iterations: DefaultIterationCap,
		runID:      uuid.NewString(),
		releaseMem: debug.FreeOSMemory,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	o.logger = o.logger.With("component", "orchestrator", "run_id", o.runID)
	return o, nil
}

// RunID returns the identifier of this orchestrator's run.
func (o *Orchestrator) RunID() string {
	return o.runID
}

// Enqueue discovers eligible files and adds the new ones to the queue. It
// returns the number discovered and the number added.
func (o *Orchestrator) Enqueue(ctx context.Context) (discovered, added int, err error) {
	candidates, err := o.discoverer.Discover(ctx)
	if err != nil {
		return 0, 0, err
	}
	added, err = o.queue.EnqueueIfNew(candidates)
	if err != nil {
		return len(candidates), 0, fmt.Errorf("enqueue: %w", err)
	}
	o.logger.Info("discovery complete", "root", o.discoverer.Root(), "discovered", len(candidates), "enqueued", added)
	return len(candidates), added, nil
}

// Run discovers and enqueues files, then processes pending units smallest
// first until the iteration cap is reached or nothing is pending.
//
// A unit that fails is marked failed and the run continues. Queue errors are
// fatal and returned. When ctx is cancelled mid-unit the unit is left in
// processing, to be recovered as pending by the next Open of the queue.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	summary := &Summary{RunID: o.runID, Recovered: o.queue.Recovered()}

	discovered, added, err := o.Enqueue(ctx)
	summary.Discovered, summary.Enqueued = discovered, added
	if err != nil {
		return summary, err
	}

	for o.iterations <= 0 || summary.Processed < o.iterations {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		path, entry, ok, err := o.queue.NextPending()
		if err != nil {
			return summary, err
		}
		if !ok {
			break
		}
		if err := o.processOne(ctx, path, entry, summary); err != nil {
			return summary, err
		}
	}

	if err := o.finish(summary, start); err != nil {
		return summary, err
	}
	return summary, nil
}

func (o *Orchestrator) processOne(ctx context.Context, path string, entry queue.Entry, summary *Summary) error {
	logger := o.logger.With("path", path)
	if err := o.queue.MarkProcessing(path, o.runID); err != nil {
		return fmt.Errorf("checkpoint %s: %w", path, err)
	}
	defer o.releaseMem()

	unit := core.Unit{
		Path:      path,
		File:      o.discoverer.Resolve(path),
		Source:    path,
		SizeBytes: entry.SizeBytes,
	}
	logger.Info("processing", "size_bytes", entry.SizeBytes, "attempt", entry.Attempts+1)

	out, procErr := o.processor.Process(ctx, unit)
	summary.Processed++
	summary.add(out)

	if procErr != nil && ctx.Err() != nil {
		logger.Warn("interrupted, unit stays in processing", "err", procErr)
		return ctx.Err()
	}
	if procErr != nil {
		summary.Failed++
		logger.Error("unit failed", "err", procErr)
		if err := o.queue.MarkFailed(path, o.runID, Reason(procErr)); err != nil {
			return fmt.Errorf("checkpoint %s: %w", path, err)
		}
		return nil
	}

	summary.Succeeded++
	done := queue.Completion{RunID: o.runID, Chunks: out.Chunks, Leaves: out.Leaves}
	if err := o.queue.MarkCompleted(path, done); err != nil {
		return fmt.Errorf("checkpoint %s: %w", path, err)
	}
	logger.Info("unit completed", "chunks", out.Chunks, "inserted", out.Inserted, "skipped", out.Skipped, "segments", out.Segments)
	return nil
}

func (o *Orchestrator) finish(summary *Summary, start time.Time) error {
	entries, err := o.queue.Entries()
	if err != nil {
		return err
	}
	failed, err := o.queue.Paths(core.StateFailed)
	if err != nil {
		return err
	}
	for _, p := range failed {
		summary.FailedPaths = append(summary.FailedPaths, FailedPath{Path: p, Reason: entries[p].Reason})
	}
	for _, e := range entries {
		if e.State == core.StatePending {
			summary.Pending++
		}
	}
	summary.Elapsed = time.Since(start)

	o.logger.Info("run complete",
		"processed", summary.Processed,
		"split", summary.Split,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"pending", summary.Pending,
		"elapsed", summary.Elapsed)
	return nil
}

// Reason flattens an error into the single-line reason stored in the queue.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	return strings.ReplaceAll(err.Error(), "\n", "; ")
}
