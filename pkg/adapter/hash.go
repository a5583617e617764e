package adapter

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultHashDimensions matches the dimension of small sentence-transformer models
const DefaultHashDimensions = 384

// HashEmbedder is a deterministic, offline embedder based on feature hashing of
// lower-cased word tokens. Texts sharing words get a positive cosine similarity and
// identical texts get the same vector.
type HashEmbedder struct {
	dimensions int
}

// NewHashEmbedder creates a HashEmbedder. dimensions <= 0 falls back to DefaultHashDimensions.
func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = DefaultHashDimensions
	}
	return &HashEmbedder{dimensions: dimensions}
}

func (h *HashEmbedder) Dimensions() int {
	return h.dimensions
}

func (h *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if len(tokens) == 0 {
		tokens = []string{text}
	}

	vec := make([]float32, h.dimensions)
	for _, token := range tokens {
		hash := fnv.New64a()
		_, _ = hash.Write([]byte(token))
		sum := hash.Sum64()

		bucket := int(sum % uint64(h.dimensions))
		// the top bit decides the sign so that unrelated tokens tend to cancel out
		if sum>>63 == 1 {
			vec[bucket] -= 1
		} else {
			vec[bucket] += 1
		}
	}

	normalize(vec)
	return vec, nil
}

// normalize scales v to unit length in place
func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	magnitude := math.Sqrt(sum)
	if magnitude == 0 {
		return
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / magnitude)
	}
}
