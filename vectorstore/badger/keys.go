package badger

import (
	"encoding/binary"

	"github.com/poiesic/sluice/core"
)

// Key prefixes for different data types
const (
	collectionPrefix = "vscol"
	chunkPrefix      = "vschk"
)

// makeCollectionKey generates the key holding a collection's metadata.
func makeCollectionKey(name string) []byte {
	return []byte(collectionPrefix + ":" + name)
}

// makeChunkPrefix generates the prefix shared by every chunk in a collection.
// Format: prefix:name:
func makeChunkPrefix(collection string) []byte {
	return []byte(chunkPrefix + ":" + collection + ":")
}

// makeChunkKey generates a composite key for a chunk.
// Format: prefix:name:id (id as 8 bytes big endian)
func makeChunkKey(collection string, id core.ID) []byte {
	prefix := makeChunkPrefix(collection)
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(id))
	return buf
}
