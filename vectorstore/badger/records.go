package badger

import (
	"github.com/poiesic/sluice/core"
)

//go:generate go run ../../cmd/musgen

// ChunkRecord is the value stored under a chunk key.
type ChunkRecord struct {
	Vector []float32
	Text   string
	Meta   ChunkMeta
}

// ChunkMeta holds the metadata attached to every ingested chunk. Metadata
// keys outside this set are not persisted by the Badger store.
type ChunkMeta struct {
	Source         string
	UnitPath       string
	ChunkIndex     int
	ChunkCount     int
	RecursionLevel int
}

// CollectionRecord is the value stored under a collection key.
type CollectionRecord struct {
	Dimension int
}

func newChunkRecord(c *core.Chunk) ChunkRecord {
	return ChunkRecord{
		Vector: c.Vector,
		Text:   c.Text,
		Meta: ChunkMeta{
			Source:         metaString(c.Metadata, core.MetaSource),
			UnitPath:       metaString(c.Metadata, core.MetaUnitPath),
			ChunkIndex:     metaInt(c.Metadata, core.MetaChunkIndex),
			ChunkCount:     metaInt(c.Metadata, core.MetaChunkCount),
			RecursionLevel: metaInt(c.Metadata, core.MetaRecursionLevel),
		},
	}
}

func (r ChunkRecord) toChunk(id core.ID) *core.Chunk {
	return &core.Chunk{
		ID:     id,
		Vector: r.Vector,
		Text:   r.Text,
		Metadata: map[string]any{
			core.MetaSource:         r.Meta.Source,
			core.MetaUnitPath:       r.Meta.UnitPath,
			core.MetaChunkIndex:     r.Meta.ChunkIndex,
			core.MetaChunkCount:     r.Meta.ChunkCount,
			core.MetaRecursionLevel: r.Meta.RecursionLevel,
		},
	}
}

func metaString(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func metaInt(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case uint32:
		return int(v)
	case uint64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// MarshalChunkRecord serializes a ChunkRecord to bytes.
func MarshalChunkRecord(record ChunkRecord) []byte {
	buf := make([]byte, ChunkRecordMUS.Size(record))
	ChunkRecordMUS.Marshal(record, buf)
	return buf
}

// UnmarshalChunkRecord deserializes a ChunkRecord from bytes.
func UnmarshalChunkRecord(data []byte) (ChunkRecord, error) {
	record, _, err := ChunkRecordMUS.Unmarshal(data)
	return record, err
}

// MarshalCollectionRecord serializes a CollectionRecord to bytes.
func MarshalCollectionRecord(record CollectionRecord) []byte {
	buf := make([]byte, CollectionRecordMUS.Size(record))
	CollectionRecordMUS.Marshal(record, buf)
	return buf
}

// UnmarshalCollectionRecord deserializes a CollectionRecord from bytes.
func UnmarshalCollectionRecord(data []byte) (CollectionRecord, error) {
	record, _, err := CollectionRecordMUS.Unmarshal(data)
	return record, err
}
