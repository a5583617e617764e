// Package index provides an exact brute-force vector index. Rows can be appended or
// the whole index can be rebuilt; single rows can not be removed.
package index

import (
	"cmp"
	"math"
	"slices"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/model"
)

// epsilon keeps cosine similarity finite for zero vectors
const epsilon = 1e-10

// Entry is one row of the index
type Entry struct {
	ID     model.MemoryID
	Vector []float32
}

// Hit is a scored row returned by Search
type Hit struct {
	ID    model.MemoryID
	Score float64
}

// Flat stores vectors contiguously and maps every row back to a memory ID. It is not
// safe for concurrent use; the owner serializes access.
type Flat struct {
	dim  int
	data []float32
	ids  []model.MemoryID
	rows map[model.MemoryID]int
}

// NewFlat creates an empty index. dim == 0 means the dimension is fixed by the first vector.
func NewFlat(dim int) *Flat {
	return &Flat{
		dim:  dim,
		rows: make(map[model.MemoryID]int),
	}
}

// Dim returns the vector dimension, 0 if not fixed yet
func (x *Flat) Dim() int { return x.dim }

// Len returns the number of rows
func (x *Flat) Len() int { return len(x.ids) }

// IDs returns row identifiers in row order
func (x *Flat) IDs() []model.MemoryID { return slices.Clone(x.ids) }

// Contains reports whether id has a row
func (x *Flat) Contains(id model.MemoryID) bool {
	_, ok := x.rows[id]
	return ok
}

// Vector returns a copy of the vector stored for id
func (x *Flat) Vector(id model.MemoryID) ([]float32, bool) {
	row, ok := x.rows[id]
	if !ok {
		return nil, false
	}
	return slices.Clone(x.row(row)), true
}

func (x *Flat) row(i int) []float32 {
	return x.data[i*x.dim : (i+1)*x.dim]
}

// Append adds a single vector
func (x *Flat) Append(id model.MemoryID, vec []float32) error {
	if len(vec) == 0 {
		return goerr.New("empty vector", goerr.V("id", id), goerr.T(model.ErrTagInvalidInput))
	}
	if x.dim == 0 {
		x.dim = len(vec)
	}
	if len(vec) != x.dim {
		return goerr.New("vector dimension mismatch",
			goerr.V("id", id),
			goerr.V("expected", x.dim),
			goerr.V("actual", len(vec)),
			goerr.T(model.ErrTagDimensionMismatch))
	}
	if _, ok := x.rows[id]; ok {
		return goerr.New("duplicated index row", goerr.V("id", id), goerr.T(model.ErrTagConflict))
	}

	x.rows[id] = len(x.ids)
	x.ids = append(x.ids, id)
	x.data = append(x.data, vec...)
	return nil
}

// Reset drops every row but keeps the dimension
func (x *Flat) Reset() {
	x.data = nil
	x.ids = nil
	x.rows = make(map[model.MemoryID]int)
}

// Rebuild replaces the whole content with entries, in the given order. On error the
// previous content is kept.
func (x *Flat) Rebuild(entries []Entry) error {
	next := NewFlat(x.dim)
	next.data = make([]float32, 0, len(entries)*max(x.dim, 1))
	for _, e := range entries {
		if err := next.Append(e.ID, e.Vector); err != nil {
			return goerr.Wrap(err, "failed to rebuild index")
		}
	}
	*x = *next
	return nil
}

// Search scores every row against query and returns at most k hits whose score is at
// least threshold, ordered by score descending and then by ID.
func (x *Flat) Search(query []float32, k int, threshold float64) ([]Hit, error) {
	if x.Len() == 0 || k <= 0 {
		return nil, nil
	}
	if len(query) != x.dim {
		return nil, goerr.New("query dimension mismatch",
			goerr.V("expected", x.dim),
			goerr.V("actual", len(query)),
			goerr.T(model.ErrTagDimensionMismatch))
	}

	var hits []Hit
	for i, id := range x.ids {
		score := Cosine(query, x.row(i))
		if score < threshold {
			continue
		}
		hits = append(hits, Hit{ID: id, Score: score})
	}

	SortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// SortHits orders hits by score descending; equal scores are ordered by ID ascending
func SortHits(hits []Hit) {
	slices.SortFunc(hits, func(a, b Hit) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// Cosine returns dot(a, b) / (|a| * |b| + epsilon). Vectors of different length score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na)*math.Sqrt(nb) + epsilon)
}
