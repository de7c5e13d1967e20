package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/poiesic/sluice/ai"
	"github.com/poiesic/sluice/core"
	"github.com/poiesic/sluice/dedup"
	"github.com/poiesic/sluice/retry"
	"github.com/tmc/langchaingo/textsplitter"
)

// DefaultEmbedBatchSize is the number of chunks embedded and stored per step.
const DefaultEmbedBatchSize = 16

// Ingester stores one unit's text as chunks. Processor depends on this
// rather than on Worker so the recursion can be exercised in isolation.
type Ingester interface {
	Ingest(ctx context.Context, unit core.Unit, text string) (IngestResult, error)
}

// IngestResult counts what happened to one unit's chunks.
type IngestResult struct {
	Chunks   int // chunks derived from the text
	Embedded int // chunks sent to the embedder
	Inserted int // chunks written to the store
	Skipped  int // chunks already present
}

// Worker chunks a unit, embeds the chunks and stores them through a
// Deduplicator. A unit is all-or-nothing: any error fails the whole call.
type Worker struct {
	embedder  ai.Embedder
	dedup     *dedup.Deduplicator
	chunker   textsplitter.TextSplitter
	batchSize int
	policy    retry.Policy
	logger    *slog.Logger
}

var _ Ingester = (*Worker)(nil)

// WorkerOption configures a Worker.
type WorkerOption func(*Worker) error

// WithChunker replaces the default token chunker.
func WithChunker(chunker textsplitter.TextSplitter) WorkerOption {
	return func(w *Worker) error {
		if chunker == nil {
			return fmt.Errorf("chunker must not be nil")
		}
		w.chunker = chunker
		return nil
	}
}

// WithEmbedBatchSize sets how many chunks are embedded per provider call.
func WithEmbedBatchSize(size int) WorkerOption {
	return func(w *Worker) error {
		if size < 1 {
			return fmt.Errorf("embed batch size must be positive, got %d", size)
		}
		w.batchSize = size
		return nil
	}
}

// WithEmbedRetry sets the backoff envelope for embedding calls.
func WithEmbedRetry(policy retry.Policy) WorkerOption {
	return func(w *Worker) error {
		if policy.MaxAttempts <= 0 {
			return retry.ErrInvalidMaxAttempts
		}
		w.policy = policy
		return nil
	}
}

// WithWorkerLogger sets a custom logger.
func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) error {
		if logger == nil {
			logger = slog.Default()
		}
		w.logger = logger
		return nil
	}
}

// NewWorker creates a Worker.
func NewWorker(embedder ai.Embedder, deduplicator *dedup.Deduplicator, opts ...WorkerOption) (*Worker, error) {
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if deduplicator == nil {
		return nil, ErrDeduplicatorRequired
	}

	w := &Worker{
		embedder:  embedder,
		dedup:     deduplicator,
		batchSize: DefaultEmbedBatchSize,
		policy:    retry.DefaultPolicy(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(w); err != nil {
			return nil, err
		}
	}
	if w.chunker == nil {
		chunker, err := NewTokenChunker(DefaultChunkSize, DefaultChunkOverlap, DefaultEncoding)
		if err != nil {
			return nil, err
		}
		w.chunker = chunker
	}
	w.logger = w.logger.With("component", "worker")
	w.policy.Logger = w.logger
	return w, nil
}

// Chunk splits text into the chunks Ingest would store, dropping
// whitespace-only pieces. Chunk i of the result has ID core.ChunkID(path, i).
func (w *Worker) Chunk(text string) ([]string, error) {
	pieces, err := w.chunker.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrChunking, err)
	}
	chunks := pieces[:0]
	for _, p := range pieces {
		if strings.TrimSpace(p) == "" {
			continue
		}
		chunks = append(chunks, p)
	}
	return chunks, nil
}

// Ingest stores every chunk of text under ids derived from unit.Path.
//
// Chunks are handled in sequential batches. For each batch the ids already in
// the store are skipped before embedding, the rest are embedded under the
// retry policy and submitted through the Deduplicator.
func (w *Worker) Ingest(ctx context.Context, unit core.Unit, text string) (IngestResult, error) {
	var result IngestResult
	if err := core.ValidateText(text); err != nil {
		return result, fmt.Errorf("%s: %w", unit.Path, err)
	}

	chunks, err := w.Chunk(text)
	if err != nil {
		return result, fmt.Errorf("%s: %w", unit.Path, err)
	}
	result.Chunks = len(chunks)
	logger := w.logger.With("path", unit.Path, "level", unit.RecursionLevel)
	logger.Debug("chunked unit", "chunks", len(chunks), "size_bytes", len(text))

	for start := 0; start < len(chunks); start += w.batchSize {
		end := min(start+w.batchSize, len(chunks))
		batch, err := w.ingestBatch(ctx, unit, chunks, start, end)
		result.Embedded += batch.Embedded
		result.Inserted += batch.Inserted
		result.Skipped += batch.Skipped
		if err != nil {
			logger.Warn("batch failed", "from", start, "to", end, "err", err)
			return result, fmt.Errorf("%s: chunks %d-%d: %w", unit.Path, start, end, err)
		}
	}

	logger.Debug("ingested unit", "inserted", result.Inserted, "skipped", result.Skipped)
	return result, nil
}

func (w *Worker) ingestBatch(ctx context.Context, unit core.Unit, chunks []string, start, end int) (IngestResult, error) {
	var result IngestResult

	ids := make([]core.ID, 0, end-start)
	for i := start; i < end; i++ {
		ids = append(ids, core.ChunkID(unit.Path, i))
	}
	missing, err := w.dedup.Missing(ctx, ids)
	if err != nil {
		return result, err
	}
	result.Skipped = len(ids) - len(missing)
	if len(missing) == 0 {
		return result, nil
	}

	wanted := make(map[core.ID]struct{}, len(missing))
	for _, id := range missing {
		wanted[id] = struct{}{}
	}
	indexes := make([]int, 0, len(missing))
	texts := make([]string, 0, len(missing))
	for i := start; i < end; i++ {
		if _, ok := wanted[ids[i-start]]; ok {
			indexes = append(indexes, i)
			texts = append(texts, chunks[i])
		}
	}

	vectors, err := w.embed(ctx, texts)
	result.Embedded = len(texts)
	if err != nil {
		return result, err
	}

	records := make([]*core.Chunk, len(indexes))
	for j, i := range indexes {
		records[j] = &core.Chunk{
			ID:     ids[i-start],
			Vector: vectors[j],
			Text:   chunks[i],
			Metadata: map[string]any{
				core.MetaSource:         unit.Source,
				core.MetaUnitPath:       unit.Path,
				core.MetaChunkIndex:     i,
				core.MetaChunkCount:     len(chunks),
				core.MetaRecursionLevel: unit.RecursionLevel,
			},
		}
	}

	stored, err := w.dedup.AddChunksWithDedup(ctx, records)
	if err != nil {
		return result, err
	}
	result.Inserted = stored.Inserted
	result.Skipped += stored.Skipped
	return result, nil
}

// embed requests vectors for texts, retrying transient provider failures.
func (w *Worker) embed(ctx context.Context, texts []string) ([][]float32, error) {
	var vectors [][]float32
	err := w.policy.Do(ctx, func() error {
		v, err := w.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			err = ai.Classify(err)
			if !ai.IsRetryable(err) {
				return retry.Permanent(err)
			}
			return err
		}
		if len(v) != len(texts) {
			return retry.Permanent(fmt.Errorf("%w: got %d for %d texts", ai.ErrDimensionMismatch, len(v), len(texts)))
		}
		vectors = v
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("embed %d chunks: %w", len(texts), err)
	}
	return vectors, nil
}
