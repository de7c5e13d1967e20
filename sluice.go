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

package sluice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"

	"github.com/poiesic/sluice/ai"
	"github.com/poiesic/sluice/ai/openai"
	"github.com/poiesic/sluice/config"
	"github.com/poiesic/sluice/core"
	"github.com/poiesic/sluice/dedup"
	"github.com/poiesic/sluice/ingestion"
	"github.com/poiesic/sluice/orchestrator"
	"github.com/poiesic/sluice/queue"
	"github.com/poiesic/sluice/retry"
	"github.com/poiesic/sluice/splitter"
	"github.com/poiesic/sluice/vectorstore"
	"github.com/poiesic/sluice/vectorstore/badger"
	"github.com/poiesic/sluice/vectorstore/pgvector"
	"github.com/poiesic/sluice/vectorstore/qdrant"
	"github.com/tmc/langchaingo/textsplitter"
)

// Pipeline wires the configured vector store, embedding provider, queue and
// processor into one ingestion system.
type Pipeline struct {
	cfg          *config.Config
	store        vectorstore.Store
	embedder     ai.Embedder
	queue        *queue.Store
	dedup        *dedup.Deduplicator
	processor    *ingestion.Processor
	discoverer   *orchestrator.Discoverer
	orchestrator *orchestrator.Orchestrator
	logger       *slog.Logger
}

// Option configures a Pipeline.
type Option func(*options)

type options struct {
	store    vectorstore.Store
	embedder ai.Embedder
	chunker  textsplitter.TextSplitter
	runID    string
	logger   *slog.Logger
}

// WithStore uses store instead of the configured backend. The pipeline takes
// ownership and closes it.
func WithStore(store vectorstore.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithEmbedder uses embedder instead of the configured provider.
func WithEmbedder(embedder ai.Embedder) Option {
	return func(o *options) {
		o.embedder = embedder
	}
}

// WithChunker replaces the token chunker.
func WithChunker(chunker textsplitter.TextSplitter) Option {
	return func(o *options) {
		o.chunker = chunker
	}
}

// WithRunID sets the run identifier recorded in checkpoints.
func WithRunID(id string) Option {
	return func(o *options) {
		o.runID = id
	}
}

// WithLogger sets the logger handed to every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Open builds a Pipeline from cfg. It takes the queue lock, so only one
// pipeline per state directory can be open at a time.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}

	if cfg.Ingest.MemoryLimitMB > 0 {
		debug.SetMemoryLimit(cfg.Ingest.MemoryLimitMB << 20)
	}

	policy := retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		Logger:      o.logger,
	}

	raw := o.store
	if raw == nil {
		var err error
		if raw, err = openStore(ctx, cfg.Store); err != nil {
			return nil, err
		}
	}
	store, err := vectorstore.NewBackoffStore(raw, policy, o.logger)
	if err != nil {
		raw.Close()
		return nil, err
	}

	p := &Pipeline{cfg: cfg, store: store, logger: o.logger.With("component", "pipeline")}
	if err := p.build(ctx, o, policy); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func (p *Pipeline) build(ctx context.Context, o *options, policy retry.Policy) error {
	cfg := p.cfg

	if cfg.Embedding.Dimensions > 0 {
		if err := p.store.GetOrCreateCollection(ctx, cfg.Store.Collection, cfg.Embedding.Dimensions); err != nil {
			return fmt.Errorf("prepare collection: %w", err)
		}
	}

	dedupOpts := []dedup.Option{
		dedup.WithInsertBatchSize(cfg.Store.InsertBatchSize),
		dedup.WithLogger(o.logger),
	}
	if cfg.Ingest.VerifyWrites {
		dedupOpts = append(dedupOpts, dedup.WithConfirmation(policy))
	}
	d, err := dedup.New(p.store, cfg.Store.Collection, dedupOpts...)
	if err != nil {
		return err
	}
	p.dedup = d

	p.embedder = o.embedder
	if p.embedder == nil {
		aiConfig := ai.NewConfig(
			ai.WithHost(cfg.Embedding.BaseURL),
			ai.WithEmbeddingModel(cfg.Embedding.Model),
			ai.WithToken(cfg.Embedding.Token),
			ai.WithRateLimit(cfg.Embedding.RequestsPerSecond, cfg.Embedding.Burst),
			ai.WithTimeout(cfg.Embedding.Timeout),
		)
		embedder, err := openai.NewEmbedder(aiConfig)
		if err != nil {
			return fmt.Errorf("create embedder: %w", err)
		}
		p.embedder = ai.NewRateLimitedEmbedder(embedder, aiConfig.RequestsPerSecond, aiConfig.Burst)
	}

	chunker := o.chunker
	if chunker == nil {
		tokens, err := ingestion.NewTokenChunker(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap, cfg.Ingest.Encoding)
		if err != nil {
			return fmt.Errorf("create chunker: %w", err)
		}
		chunker = tokens
	}
	worker, err := ingestion.NewWorker(p.embedder, d,
		ingestion.WithChunker(chunker),
		ingestion.WithEmbedBatchSize(cfg.Embedding.BatchSize),
		ingestion.WithEmbedRetry(policy),
		ingestion.WithWorkerLogger(o.logger),
	)
	if err != nil {
		return err
	}

	scratch, err := ingestion.NewScratch(cfg.Ingest.ScratchDir)
	if err != nil {
		return err
	}
	limits := ingestion.Limits{
		MaxDirectSize:     cfg.Ingest.MaxDirectBytes,
		MinSegmentSize:    cfg.Ingest.MinSegmentBytes,
		MaxRecursionDepth: cfg.Ingest.MaxRecursionDepth,
	}
	p.processor, err = ingestion.NewProcessor(worker, scratch, limits,
		ingestion.WithSplitter(splitter.New()),
		ingestion.WithProcessorLogger(o.logger),
	)
	if err != nil {
		return err
	}

	p.queue, err = queue.Open(cfg.Queue.StateDir, queue.WithLogger(o.logger))
	if err != nil {
		return err
	}

	p.discoverer, err = orchestrator.NewDiscoverer(cfg.Ingest.Root, cfg.Ingest.Extensions,
		cfg.Ingest.ScratchDir, cfg.Queue.StateDir, storeDir(cfg.Store))
	if err != nil {
		return err
	}

	orchOpts := []orchestrator.Option{
		orchestrator.WithIterationCap(cfg.Run.IterationCap),
		orchestrator.WithLogger(o.logger),
	}
	if o.runID != "" {
		orchOpts = append(orchOpts, orchestrator.WithRunID(o.runID))
	}
	p.orchestrator, err = orchestrator.New(p.queue, p.processor, p.discoverer, orchOpts...)
	return err
}

func openStore(ctx context.Context, cfg config.Store) (vectorstore.Store, error) {
	switch cfg.Backend {
	case config.BackendQdrant:
		return qdrant.NewStore(qdrant.Config{
			Host:   cfg.Host,
			Port:   cfg.Port,
			APIKey: cfg.APIKey,
			UseTLS: cfg.UseTLS,
		})
	case config.BackendPgvector:
		return pgvector.NewStore(ctx, cfg.DSN)
	case config.BackendBadger:
		return badger.OpenStore(cfg.Path)
	default:
		return nil, fmt.Errorf("%w: unknown store backend %q", config.ErrInvalid, cfg.Backend)
	}
}

func storeDir(cfg config.Store) string {
	if cfg.Backend == config.BackendBadger {
		return cfg.Path
	}
	return ""
}

// Close releases the queue lock and the store connection.
func (p *Pipeline) Close() error {
	var errs []error
	if p.queue != nil {
		if err := p.queue.Close(); err != nil {
			p.logger.Error("error closing queue", "err", err)
			errs = append(errs, err)
		}
	}
	if err := p.store.Close(); err != nil {
		p.logger.Error("error closing vector store", "err", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Config returns the configuration the pipeline was built from.
func (p *Pipeline) Config() *config.Config {
	return p.cfg
}

// Queue returns the queue and checkpoint store.
func (p *Pipeline) Queue() *queue.Store {
	return p.queue
}

// Store returns the retrying vector store.
func (p *Pipeline) Store() vectorstore.Store {
	return p.store
}

// RunID returns the identifier recorded in this pipeline's checkpoints.
func (p *Pipeline) RunID() string {
	return p.orchestrator.RunID()
}

// Run processes pending units up to the configured iteration cap.
func (p *Pipeline) Run(ctx context.Context) (*orchestrator.Summary, error) {
	return p.orchestrator.Run(ctx)
}

// Enqueue discovers eligible files and queues the new ones without processing.
func (p *Pipeline) Enqueue(ctx context.Context) (discovered, added int, err error) {
	return p.orchestrator.Enqueue(ctx)
}

// RetryFailed moves failed paths back to pending, all of them when none are given.
func (p *Pipeline) RetryFailed(paths ...string) (int, error) {
	return p.queue.RetryFailed(paths...)
}

// Verify checks completed paths against the store, reporting progress on
// progress when it is not nil. It returns orchestrator.ErrIncomplete when
// chunks are missing or a path could not be checked.
func (p *Pipeline) Verify(ctx context.Context, progress io.Writer, paths ...string) (*orchestrator.VerifyReport, error) {
	v, err := orchestrator.NewVerifier(p.queue, p.store, p.cfg.Store.Collection, p.cfg.Run.VerifyWorkers)
	if err != nil {
		return nil, err
	}
	if progress != nil {
		v.WithProgress(progress)
	}
	report, err := v.Verify(ctx, paths...)
	if err != nil {
		return report, err
	}
	if len(report.Incomplete) > 0 || len(report.Errored) > 0 {
		return report, orchestrator.ErrIncomplete
	}
	return report, nil
}

// Forget deletes the chunks stored for path and returns it to pending.
func (p *Pipeline) Forget(ctx context.Context, path string) (int, error) {
	return orchestrator.Forget(ctx, p.queue, p.store, p.cfg.Store.Collection, path)
}

// Status is a snapshot of the queue and the collection.
type Status struct {
	Counts      map[core.QueueState]int
	Total       int
	Processing  []string
	Failed      []orchestrator.FailedPath
	Collection  string
	StoredCount int
	CountErr    error // set when the store could not be reached
}

// Percent returns the share of queued paths that are completed.
func (s *Status) Percent() float64 {
	return orchestrator.Percent(s.Counts[core.StateCompleted], s.Total)
}

// Status reports queue counts, in-flight and failed paths and the number of
// chunks in the collection.
func (p *Pipeline) Status(ctx context.Context) (*Status, error) {
	counts, err := p.queue.StatusCounts()
	if err != nil {
		return nil, err
	}
	st := &Status{Counts: counts, Collection: p.cfg.Store.Collection}
	for _, n := range counts {
		st.Total += n
	}
	if st.Processing, err = p.queue.Paths(core.StateProcessing); err != nil {
		return nil, err
	}

	entries, err := p.queue.Entries()
	if err != nil {
		return nil, err
	}
	failed, err := p.queue.Paths(core.StateFailed)
	if err != nil {
		return nil, err
	}
	for _, path := range failed {
		st.Failed = append(st.Failed, orchestrator.FailedPath{Path: path, Reason: entries[path].Reason})
	}

	st.StoredCount, st.CountErr = p.store.Count(ctx, p.cfg.Store.Collection)
	return st, nil
}
