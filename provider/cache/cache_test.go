package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/nevindra/pgagent"
)

type countingEmbedder struct {
	calls []string
	err   error
}

func (c *countingEmbedder) Name() string { return "counting" }

func (c *countingEmbedder) Embed(_ context.Context, model, text string) ([]float32, error) {
	c.calls = append(c.calls, model+"/"+text)
	if c.err != nil {
		return nil, c.err
	}
	return []float32{float32(len(text))}, nil
}

type batchingEmbedder struct {
	countingEmbedder
	batches [][]string
}

func (b *batchingEmbedder) EmbedBatch(_ context.Context, _ string, texts []string) ([][]float32, error) {
	b.batches = append(b.batches, texts)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func TestEmbedHitsCache(t *testing.T) {
	inner := &countingEmbedder{}
	c, err := Wrap(inner, 100)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	ctx := context.Background()
	if _, err := c.Embed(ctx, "m", "hello"); err != nil {
		t.Fatal(err)
	}
	c.Wait()
	vec, err := c.Embed(ctx, "m", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if vec[0] != 5 {
		t.Errorf("vec = %v", vec)
	}
	if len(inner.calls) != 1 {
		t.Errorf("inner calls = %d, want 1", len(inner.calls))
	}

	// a different model is a different key
	if _, err := c.Embed(ctx, "other", "hello"); err != nil {
		t.Fatal(err)
	}
	if len(inner.calls) != 2 {
		t.Errorf("inner calls = %d, want 2", len(inner.calls))
	}
}

func TestEmbedErrorsNotCached(t *testing.T) {
	inner := &countingEmbedder{err: errors.New("down")}
	c, _ := Wrap(inner, 10)
	defer c.Close()

	ctx := context.Background()
	c.Embed(ctx, "m", "x")
	c.Wait()
	c.Embed(ctx, "m", "x")
	if len(inner.calls) != 2 {
		t.Errorf("inner calls = %d, want 2", len(inner.calls))
	}
}

func TestEmbedBatchOnlySendsMisses(t *testing.T) {
	inner := &batchingEmbedder{}
	c, _ := Wrap(inner, 100)
	defer c.Close()

	ctx := context.Background()
	if _, err := c.Embed(ctx, "m", "bb"); err != nil {
		t.Fatal(err)
	}
	c.Wait()

	vecs, err := c.EmbedBatch(ctx, "m", []string{"a", "bb", "ccc"})
	if err != nil {
		t.Fatal(err)
	}
	if vecs[0][0] != 1 || vecs[1][0] != 2 || vecs[2][0] != 3 {
		t.Errorf("vecs = %v, want input order", vecs)
	}
	if len(inner.batches) != 1 || len(inner.batches[0]) != 2 {
		t.Errorf("batches = %v, want one batch of the two misses", inner.batches)
	}
}

func TestEmbedBatchSequentialFallback(t *testing.T) {
	inner := &countingEmbedder{}
	c, _ := Wrap(inner, 100)
	defer c.Close()

	vecs, err := c.EmbedBatch(context.Background(), "m", []string{"a", "bb"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 2 || len(inner.calls) != 2 {
		t.Errorf("vecs = %v calls = %v", vecs, inner.calls)
	}
}

func TestWrapKeepsRouting(t *testing.T) {
	c, _ := Wrap(&countingEmbedder{}, 10)
	defer c.Close()
	g := pgagent.NewGateway()
	g.RegisterEmbedder(c)
	if _, err := g.Embedder("counting"); err != nil {
		t.Errorf("cached embedder not routable by inner name: %v", err)
	}
}

func TestWrapRejectsNonPositiveSize(t *testing.T) {
	if _, err := Wrap(&countingEmbedder{}, 0); err == nil {
		t.Error("expected error for size 0")
	}
}
