// Package cache provides an embedding cache decorator for pgagent embedders.
package cache

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"

	"github.com/nevindra/pgagent"
)

// Embedder memoizes embeddings by (provider, model, text). It always offers
// EmbedBatch: only misses are sent upstream, in one native batch when the
// wrapped embedder supports it.
type Embedder struct {
	inner pgagent.Embedder
	cache *ristretto.Cache
}

var _ pgagent.BatchEmbedder = (*Embedder)(nil)

// Wrap returns e decorated with a cache holding up to size vectors.
func Wrap(e pgagent.Embedder, size int64) (*Embedder, error) {
	if size <= 0 {
		return nil, fmt.Errorf("cache: size must be positive, got %d", size)
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: size * 10,
		MaxCost:     size,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	return &Embedder{inner: e, cache: c}, nil
}

// Name returns the wrapped embedder's name so routing is unchanged.
func (c *Embedder) Name() string { return c.inner.Name() }

func (c *Embedder) Embed(ctx context.Context, model, text string) ([]float32, error) {
	k := c.key(model, text)
	if v, ok := c.cache.Get(k); ok {
		return v.([]float32), nil
	}
	vec, err := c.inner.Embed(ctx, model, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(k, vec, 1)
	return vec, nil
}

func (c *Embedder) EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var (
		missIdx   []int
		missTexts []string
	)
	for i, t := range texts {
		if v, ok := c.cache.Get(c.key(model, t)); ok {
			out[i] = v.([]float32)
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	var fresh [][]float32
	if be, ok := c.inner.(pgagent.BatchEmbedder); ok {
		vecs, err := be.EmbedBatch(ctx, model, missTexts)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(missTexts) {
			return nil, &pgagent.ErrProviderCall{
				Provider: c.Name(),
				Message:  fmt.Sprintf("batch returned %d embeddings for %d inputs", len(vecs), len(missTexts)),
			}
		}
		fresh = vecs
	} else {
		fresh = make([][]float32, len(missTexts))
		for i, t := range missTexts {
			vec, err := c.inner.Embed(ctx, model, t)
			if err != nil {
				return nil, err
			}
			fresh[i] = vec
		}
	}

	for j, i := range missIdx {
		out[i] = fresh[j]
		c.cache.Set(c.key(model, missTexts[j]), fresh[j], 1)
	}
	return out, nil
}

// Wait blocks until pending cache writes are applied.
func (c *Embedder) Wait() { c.cache.Wait() }

// Close releases the cache's background goroutines.
func (c *Embedder) Close() { c.cache.Close() }

func (c *Embedder) key(model, text string) string {
	return c.inner.Name() + "\x00" + model + "\x00" + text
}
