package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeEmbedder struct {
	calls int
	vec   []float32
	err   error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}

func TestCachingEmbedder_CachesAcrossCalls(t *testing.T) {
	cache := NewEmbeddingCache(1 * time.Minute)
	defer cache.Stop()

	inner := &fakeEmbedder{vec: []float32{0.1, 0.2, 0.3}}
	ce := NewCachingEmbedder(inner, cache, "haval-karachi")

	vec1, err := ce.Embed(context.Background(), "white ones?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	vec2, err := ce.Embed(context.Background(), "White Ones?  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if inner.calls != 1 {
		t.Fatalf("expected inner embedder called once, got %d", inner.calls)
	}
	if len(vec1) != 3 || len(vec2) != 3 {
		t.Fatalf("unexpected vectors: %v %v", vec1, vec2)
	}
}

func TestCachingEmbedder_DistinctQueriesMiss(t *testing.T) {
	cache := NewEmbeddingCache(1 * time.Minute)
	defer cache.Stop()

	inner := &fakeEmbedder{vec: []float32{1.0}}
	ce := NewCachingEmbedder(inner, cache, "haval-karachi")

	if _, err := ce.Embed(context.Background(), "query one"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ce.Embed(context.Background(), "query two"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if inner.calls != 2 {
		t.Fatalf("expected inner embedder called twice, got %d", inner.calls)
	}
}

func TestCachingEmbedder_ScopesDoNotShareEntries(t *testing.T) {
	cache := NewEmbeddingCache(1 * time.Minute)
	defer cache.Stop()

	innerA := &fakeEmbedder{vec: []float32{1.0}}
	innerB := &fakeEmbedder{vec: []float32{2.0}}
	karachi := NewCachingEmbedder(innerA, cache, "haval-karachi")
	lahore := NewCachingEmbedder(innerB, cache, "haval-lahore")

	if _, err := karachi.Embed(context.Background(), "top H6 problems"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := lahore.Embed(context.Background(), "top H6 problems"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if innerB.calls != 1 {
		t.Fatalf("expected the second deployment to miss and embed for itself, got %d calls", innerB.calls)
	}
}

func TestCachingEmbedder_PropagatesError(t *testing.T) {
	cache := NewEmbeddingCache(1 * time.Minute)
	defer cache.Stop()

	inner := &fakeEmbedder{err: errors.New("provider down")}
	ce := NewCachingEmbedder(inner, cache, "haval-karachi")

	if _, err := ce.Embed(context.Background(), "anything"); err == nil {
		t.Fatal("expected error to propagate")
	}
	if cache.Len() != 0 {
		t.Fatalf("expected nothing cached on error, got %d entries", cache.Len())
	}
}
