package memory

import (
	"cmp"
	"slices"
	"time"

	"github.com/m-mizutani/mnemo/pkg/model"
)

type registry struct {
	cols map[string]*model.Collection
	now  func() time.Time
}

func newRegistry(now func() time.Time) *registry {
	r := &registry{
		cols: make(map[string]*model.Collection),
		now:  now,
	}
	r.ensure(model.DefaultCollection)
	return r
}

func (x *registry) ensure(name string) {
	if _, ok := x.cols[name]; ok {
		return
	}
	x.cols[name] = &model.Collection{Name: name, CreatedAt: x.now()}
}

func (x *registry) create(name string, metadata model.Metadata) bool {
	if _, ok := x.cols[name]; ok {
		return false
	}
	x.cols[name] = &model.Collection{
		Name:      name,
		CreatedAt: x.now(),
		Metadata:  metadata.Copy(),
	}
	return true
}

func (x *registry) delete(name string) bool {
	if name == model.DefaultCollection {
		return false
	}
	if _, ok := x.cols[name]; !ok {
		return false
	}
	delete(x.cols, name)
	return true
}

func (x *registry) exists(name string) bool {
	_, ok := x.cols[name]
	return ok
}

func (x *registry) increment(name string) {
	if col, ok := x.cols[name]; ok {
		col.Count++
	}
}

func (x *registry) decrement(name string) {
	if col, ok := x.cols[name]; ok && col.Count > 0 {
		col.Count--
	}
}

// list returns copies of every collection ordered by name
func (x *registry) list() []*model.Collection {
	out := make([]*model.Collection, 0, len(x.cols))
	for _, col := range x.cols {
		out = append(out, col.Copy())
	}
	slices.SortFunc(out, func(a, b *model.Collection) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return out
}

// recount sets every count from counts, creating missing collections
func (x *registry) recount(counts map[string]int) {
	for _, col := range x.cols {
		col.Count = 0
	}
	for name, n := range counts {
		x.ensure(name)
		x.cols[name].Count = n
	}
}
