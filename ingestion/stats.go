package ingestion

import "github.com/poiesic/sluice/core"

// Outcome describes everything done while processing one top-level unit.
type Outcome struct {
	Splits   int         // units that were split
	Segments int         // segments materialized, at every level
	MaxLevel int         // deepest recursion level reached
	Chunks   int         // chunks derived by successful direct ingestions
	Embedded int         // chunks sent to the embedder
	Inserted int         // chunks written
	Skipped  int         // chunks found already stored
	Leaves   []core.Leaf // units ingested directly, in reading order
}

func (o *Outcome) observeLevel(level int) {
	o.MaxLevel = max(o.MaxLevel, level)
}

func (o *Outcome) addIngest(r IngestResult) {
	o.Embedded += r.Embedded
	o.Inserted += r.Inserted
	o.Skipped += r.Skipped
}
