package core

import (
	"encoding/binary"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a unique identifier for a stored chunk.
// It is derived from the unit path and the chunk's position within the unit.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// ChunkID derives the identifier of the chunk at index within the unit at path.
// Re-chunking the same unit with the same settings always yields the same IDs.
func ChunkID(unitPath string, index int) ID {
	return IDFromContent(unitPath + "#" + strconv.Itoa(index))
}

// ChunkIDs returns the IDs of the first count chunks of the unit at path.
func ChunkIDs(unitPath string, count int) []ID {
	ids := make([]ID, count)
	for i := range ids {
		ids[i] = ChunkID(unitPath, i)
	}
	return ids
}

// Unit is a piece of text content being ingested as one work item.
// Top-level units are discovered files (RecursionLevel 0). Segments produced
// by splitting have a synthetic Path and their text materialized at File.
type Unit struct {
	Path           string // logical identity, used for chunk IDs
	File           string // location of the unit's text on disk
	Source         string // top-level path relative to the discovery root
	SizeBytes      int64
	RecursionLevel int
}

// Name returns the base name of the file holding the unit.
func (u Unit) Name() string {
	return filepath.Base(u.File)
}

// Chunk is the atomic record stored in the vector store.
type Chunk struct {
	ID       ID
	Vector   []float32
	Text     string
	Metadata map[string]any
}

// Metadata keys attached to every chunk.
const (
	MetaSource         = "source"
	MetaUnitPath       = "unit_path"
	MetaChunkIndex     = "chunk_index"
	MetaChunkCount     = "chunk_count"
	MetaRecursionLevel = "recursion_level"
)

// Leaf describes a unit that was ingested directly, without further splitting.
type Leaf struct {
	Path   string `json:"path"`
	Chunks int    `json:"chunks"`
}

// ExpectedIDs returns every chunk ID a completed leaf must have in the store.
func (l Leaf) ExpectedIDs() []ID {
	return ChunkIDs(l.Path, l.Chunks)
}

// QueueState is the lifecycle state of a queued unit.
type QueueState string

const (
	StatePending    QueueState = "pending"
	StateProcessing QueueState = "processing"
	StateCompleted  QueueState = "completed"
	StateFailed     QueueState = "failed"
)

// QueueStates lists every state in lifecycle order.
var QueueStates = []QueueState{StatePending, StateProcessing, StateCompleted, StateFailed}

// CheckpointRecord is one entry in a path's processing history.
type CheckpointRecord struct {
	Path      string     `json:"path"`
	Timestamp time.Time  `json:"timestamp"`
	Status    QueueState `json:"status"`
	Reason    string     `json:"reason,omitempty"`
	RunID     string     `json:"run_id,omitempty"`
	Chunks    int        `json:"chunks,omitempty"`
	Leaves    []Leaf     `json:"leaves,omitempty"`
}

// ExpectedIDs returns the chunk IDs recorded for a completed path.
func (r *CheckpointRecord) ExpectedIDs() []ID {
	var ids []ID
	for _, leaf := range r.Leaves {
		ids = append(ids, leaf.ExpectedIDs()...)
	}
	return ids
}
