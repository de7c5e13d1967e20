// Package ingestion turns text units into stored chunks.
//
// The Worker chunks one unit's text, embeds the chunks in small sequential
// batches and stores them through a dedup.Deduplicator. It accepts a unit
// only whole: any embedding or storage failure fails the unit.
//
// The Processor sits above the Worker. Units larger than the direct size
// limit, and units whose direct ingestion fails for reasons other than bad
// input, are split with the splitter package. The segments are written to a
// Scratch directory and processed in reading order one level deeper. Splitting
// stops at the configured maximum depth.
package ingestion
