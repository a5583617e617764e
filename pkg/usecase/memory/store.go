package memory

import (
	"cmp"
	"slices"

	"github.com/m-mizutani/mnemo/pkg/index"
	"github.com/m-mizutani/mnemo/pkg/model"
)

// itemStore holds memory records by ID. Stored records are treated as immutable: a
// mutation puts a new record instead of changing the old one, so that snapshots can
// share pointers.
type itemStore struct {
	items map[model.MemoryID]*model.Memory
}

func newItemStore() *itemStore {
	return &itemStore{items: make(map[model.MemoryID]*model.Memory)}
}

func (x *itemStore) get(id model.MemoryID) *model.Memory {
	return x.items[id]
}

func (x *itemStore) put(mem *model.Memory) {
	x.items[mem.ID] = mem
}

func (x *itemStore) remove(id model.MemoryID) *model.Memory {
	mem, ok := x.items[id]
	if !ok {
		return nil
	}
	delete(x.items, id)
	return mem
}

func (x *itemStore) len() int {
	return len(x.items)
}

// all returns every record ordered by ID
func (x *itemStore) all() []*model.Memory {
	out := make([]*model.Memory, 0, len(x.items))
	for _, mem := range x.items {
		out = append(out, mem)
	}
	slices.SortFunc(out, func(a, b *model.Memory) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// entries returns index rows of every embedded record ordered by ID
func (x *itemStore) entries() []index.Entry {
	var out []index.Entry
	for _, mem := range x.all() {
		if !mem.HasEmbedding() {
			continue
		}
		out = append(out, index.Entry{ID: mem.ID, Vector: mem.Embedding})
	}
	return out
}

// countBy returns the number of records per collection
func (x *itemStore) countBy() map[string]int {
	counts := make(map[string]int)
	for _, mem := range x.items {
		counts[mem.Collection]++
	}
	return counts
}
