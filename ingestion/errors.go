package ingestion

import (
	"errors"

	"github.com/poiesic/sluice/ai"
	"github.com/poiesic/sluice/core"
)

var (
	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrDeduplicatorRequired is returned when a deduplicator is not provided.
	ErrDeduplicatorRequired = errors.New("deduplicator required")

	// ErrIngesterRequired is returned when a processor has nothing to ingest with.
	ErrIngesterRequired = errors.New("ingester required")

	// ErrScratchRequired is returned when a processor has no scratch area.
	ErrScratchRequired = errors.New("scratch area required")

	// ErrInvalidLimits is returned for inconsistent size or depth limits.
	ErrInvalidLimits = errors.New("invalid processing limits")

	// ErrRecursionExhausted is returned when a unit still fails at the maximum split depth.
	ErrRecursionExhausted = errors.New("recursion depth exhausted")

	// ErrUnsplittable is returned when a unit cannot be split any further and
	// direct ingestion of it failed.
	ErrUnsplittable = errors.New("unit cannot be split further")

	// ErrChunking is returned when the chunker rejects a unit's text. The
	// processor fails such units without splitting them.
	ErrChunking = errors.New("chunk text")
)

// IsInputError reports whether err was caused by the unit's content itself.
// Such failures are final: splitting the unit cannot repair them.
func IsInputError(err error) bool {
	return errors.Is(err, core.ErrInvalidInput) || errors.Is(err, ai.ErrMalformedInput)
}
