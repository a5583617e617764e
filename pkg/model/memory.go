package model

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

type MemoryID string

// NewMemoryID generates a new unique MemoryID
func NewMemoryID() MemoryID {
	return MemoryID(uuid.New().String())
}

// Memory is a stored text item together with its embedding vector
type Memory struct {
	ID         MemoryID  `json:"id"`
	Content    string    `json:"content"`
	Embedding  []float32 `json:"embedding,omitempty"`
	Metadata   Metadata  `json:"metadata"`
	Tags       []string  `json:"tags"`
	Collection string    `json:"collection"`
	UserID     string    `json:"user_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// HasEmbedding reports whether the embedding vector has been computed
func (x *Memory) HasEmbedding() bool {
	return len(x.Embedding) > 0
}

// HasAnyTag returns true if the memory carries at least one of tags
func (x *Memory) HasAnyTag(tags []string) bool {
	for _, tag := range tags {
		if slices.Contains(x.Tags, tag) {
			return true
		}
	}
	return false
}

// Copy returns a deep copy so that callers cannot mutate stored state
func (x *Memory) Copy() *Memory {
	if x == nil {
		return nil
	}
	dst := *x
	dst.Embedding = slices.Clone(x.Embedding)
	dst.Tags = slices.Clone(x.Tags)
	dst.Metadata = x.Metadata.Copy()
	return &dst
}

// NormalizeTags drops empty and duplicated tags while keeping the first occurrence order
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag == "" || slices.Contains(out, tag) {
			continue
		}
		out = append(out, tag)
	}
	return out
}

// QueryResult pairs a memory with its similarity score. It is never persisted.
type QueryResult struct {
	Memory *Memory `json:"item"`
	Score  float64 `json:"score"`
}
