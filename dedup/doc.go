// Package dedup suppresses re-insertion of chunks that already exist in the
// vector store.
//
// Chunk ids are deterministic, so re-processing a unit after a crash or a
// split produces ids that may already be stored. The Deduplicator asks the
// store which candidates exist, writes only the rest, and reports how many
// were inserted and how many were skipped as duplicates.
package dedup
