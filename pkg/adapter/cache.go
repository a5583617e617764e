package adapter

import (
	"context"
	"slices"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/interfaces"
	"golang.org/x/sync/singleflight"
)

// CachedEmbedder memoizes embeddings by text and coalesces concurrent requests for
// the same text into a single provider call.
type CachedEmbedder struct {
	base  interfaces.Embedder
	cache *ristretto.Cache[string, []float32]
	group singleflight.Group
}

// NewCachedEmbedder wraps base with an in-process cache holding up to maxCostBytes of vectors
func NewCachedEmbedder(base interfaces.Embedder, maxCostBytes int64) (*CachedEmbedder, error) {
	if base == nil {
		return nil, goerr.New("base embedder is required")
	}
	if maxCostBytes <= 0 {
		maxCostBytes = 64 << 20
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, []float32]{
		NumCounters: max(maxCostBytes/1024*10, 1000), // ~10x of 1KiB vectors
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create embedding cache")
	}

	return &CachedEmbedder{base: base, cache: cache}, nil
}

func (c *CachedEmbedder) Dimensions() int {
	return c.base.Dimensions()
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := c.cache.Get(text); ok {
		return slices.Clone(vec), nil
	}

	v, err, _ := c.group.Do(text, func() (any, error) {
		vec, err := c.base.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		if len(vec) > 0 {
			c.cache.Set(text, slices.Clone(vec), int64(len(vec)*4))
		}
		return vec, nil
	})
	if err != nil {
		return nil, err
	}

	return slices.Clone(v.([]float32)), nil
}

// Wait blocks until buffered cache writes are applied
func (c *CachedEmbedder) Wait() {
	c.cache.Wait()
}

// Close releases the cache
func (c *CachedEmbedder) Close() {
	c.cache.Close()
}
