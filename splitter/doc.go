// Package splitter breaks oversized text into ordered segments along semantic
// boundaries.
//
// Splitting cascades from paragraphs to lines to sentences to clauses, moving
// to a finer boundary only for pieces that are still too large. It never cuts
// inside a word; a piece with no usable boundary is emitted whole even when it
// is larger than the target. The package does no I/O.
package splitter
