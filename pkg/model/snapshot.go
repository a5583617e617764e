package model

// Snapshot is the persisted state of a memory store: item records, collection records
// and the encoded similarity index.
type Snapshot struct {
	Version     uint64
	Memories    map[MemoryID]*Memory
	Collections map[string]*Collection
	Index       []byte
}
