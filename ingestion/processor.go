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

package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/poiesic/sluice/core"
	"github.com/poiesic/sluice/splitter"
)

// Limits bounds how units are ingested and split.
type Limits struct {
	MaxDirectSize     int64 // largest unit ingested without splitting
	MinSegmentSize    int64 // smallest split target
	MaxRecursionDepth int   // units at this level are never split
}

// DefaultLimits returns 5 MiB direct ingestion, 1 MiB minimum segments and
// five levels of splitting.
func DefaultLimits() Limits {
	return Limits{
		MaxDirectSize:     5 << 20,
		MinSegmentSize:    1 << 20,
		MaxRecursionDepth: 5,
	}
}

// Validate checks the limits for consistency.
func (l Limits) Validate() error {
	if l.MaxDirectSize <= 0 {
		return fmt.Errorf("%w: max direct size must be positive", ErrInvalidLimits)
	}
	if l.MinSegmentSize <= 0 {
		return fmt.Errorf("%w: min segment size must be positive", ErrInvalidLimits)
	}
	if l.MinSegmentSize > l.MaxDirectSize {
		return fmt.Errorf("%w: min segment size %d exceeds max direct size %d", ErrInvalidLimits, l.MinSegmentSize, l.MaxDirectSize)
	}
	if l.MaxRecursionDepth < 0 {
		return fmt.Errorf("%w: max recursion depth must not be negative", ErrInvalidLimits)
	}
	return nil
}

// Processor ingests a unit directly when it is small enough and otherwise,
// or when direct ingestion fails, splits it and recurses into the segments.
type Processor struct {
	ingester Ingester
	splitter *splitter.Splitter
	scratch  *Scratch
	limits   Limits
	logger   *slog.Logger
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor) error

// WithSplitter replaces the default boundary cascade.
func WithSplitter(s *splitter.Splitter) ProcessorOption {
	return func(p *Processor) error {
		if s == nil {
			return fmt.Errorf("splitter must not be nil")
		}
		p.splitter = s
		return nil
	}
}

// WithProcessorLogger sets a custom logger.
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewProcessor creates a Processor.
func NewProcessor(ingester Ingester, scratch *Scratch, limits Limits, opts ...ProcessorOption) (*Processor, error) {
	if ingester == nil {
		return nil, ErrIngesterRequired
	}
	if scratch == nil {
		return nil, ErrScratchRequired
	}
	if err := limits.Validate(); err != nil {
		return nil, err
	}

	p := &Processor{
		ingester: ingester,
		splitter: splitter.New(),
		scratch:  scratch,
		limits:   limits,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	p.logger = p.logger.With("component", "processor")
	return p, nil
}

// Process ingests unit completely or reports why it could not.
//
// A split unit succeeds only when every one of its segments succeeds. On
// success its scratch directory is removed; on failure the segments are kept
// on disk for inspection. The returned Outcome is filled in either way.
func (p *Processor) Process(ctx context.Context, unit core.Unit) (*Outcome, error) {
	if err := core.ValidateUnit(&unit); err != nil {
		return nil, err
	}
	out := &Outcome{}
	err := p.process(ctx, unit, out)
	return out, err
}

func (p *Processor) process(ctx context.Context, unit core.Unit, out *Outcome) error {
	logger := p.logger.With("path", unit.Path, "level", unit.RecursionLevel)
	out.observeLevel(unit.RecursionLevel)

	raw, err := os.ReadFile(unit.File)
	if err != nil {
		return fmt.Errorf("%w: read %s: %w", core.ErrInvalidInput, unit.File, err)
	}
	text := string(raw)
	size := int64(len(text))
	logger.Info("processing unit", "size_bytes", size)
	if err := core.ValidateText(text); err != nil {
		logger.Error("unit failed", "err", err)
		return fmt.Errorf("%s: %w", unit.Path, err)
	}

	var directErr error
	if size <= p.limits.MaxDirectSize {
		directErr = p.ingest(ctx, unit, text, out)
		if directErr == nil {
			return nil
		}
		if IsInputError(directErr) || errors.Is(directErr, ErrChunking) || ctx.Err() != nil {
			logger.Error("unit failed", "err", directErr)
			return directErr
		}
		logger.Warn("direct ingestion failed, splitting", "err", directErr)
	}

	if unit.RecursionLevel >= p.limits.MaxRecursionDepth {
		logger.Error("recursion depth exhausted", "max_depth", p.limits.MaxRecursionDepth)
		if directErr != nil {
			return fmt.Errorf("%w: %s at level %d: %w", ErrRecursionExhausted, unit.Path, unit.RecursionLevel, directErr)
		}
		return fmt.Errorf("%w: %s at level %d is still %d bytes", ErrRecursionExhausted, unit.Path, unit.RecursionLevel, size)
	}

	target := splitter.TargetSize(size, p.limits.MinSegmentSize)
	segments := p.splitter.Split(text, int(target))
	if len(segments) <= 1 {
		if directErr != nil {
			logger.Error("unit cannot be split further", "err", directErr)
			return fmt.Errorf("%w: %s: %w", ErrUnsplittable, unit.Path, directErr)
		}
		logger.Warn("unit cannot be split, ingesting oversized", "size_bytes", size)
		if err := p.ingest(ctx, unit, text, out); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrUnsplittable, unit.Path, err)
		}
		return nil
	}

	children, err := p.scratch.Materialize(unit, segments)
	if err != nil {
		return fmt.Errorf("split %s: %w", unit.Path, err)
	}
	// Segments are read back from disk; drop the parent's text before descending.
	text, segments = "", nil
	out.Splits++
	out.Segments += len(children)
	logger.Info("split unit", "segments", len(children), "target_bytes", target)

	var errs []error
	for _, child := range children {
		if err := p.process(ctx, child, out); err != nil {
			errs = append(errs, fmt.Errorf("segment %s: %w", child.Path, err))
			if ctx.Err() != nil {
				break
			}
		}
	}
	if len(errs) > 0 {
		logger.Error("segments failed, keeping scratch", "failed", len(errs), "segments", len(children), "dir", p.scratch.Dir(unit))
		return errors.Join(errs...)
	}

	if err := p.scratch.Remove(unit); err != nil {
		logger.Warn("failed to remove scratch", "err", err)
	}
	return nil
}

func (p *Processor) ingest(ctx context.Context, unit core.Unit, text string, out *Outcome) error {
	result, err := p.ingester.Ingest(ctx, unit, text)
	out.addIngest(result)
	if err != nil {
		return err
	}
	out.Chunks += result.Chunks
	out.Leaves = append(out.Leaves, core.Leaf{Path: unit.Path, Chunks: result.Chunks})
	return nil
}
