package cache

import "context"

// singleEmbedder is the narrow single-query embedding shape both
// RetrievalPath and the pipeline controller's cache lookups depend on
// (pipeline.Embedder), duplicated
// here to avoid an import cycle back into internal/pipeline.
type singleEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// CachingEmbedder decorates a singleEmbedder with an EmbeddingCache so
// repeated or near-repeated queries within the TTL window skip the
// round-trip to the embedding provider entirely. scope names the
// deployment the vectors belong to (dealership id plus embedding model is
// the usual choice) and becomes part of every cache key.
type CachingEmbedder struct {
	inner singleEmbedder
	cache *EmbeddingCache
	scope string
}

// NewCachingEmbedder wraps inner with cache. cache must not be nil.
func NewCachingEmbedder(inner singleEmbedder, cache *EmbeddingCache, scope string) *CachingEmbedder {
	return &CachingEmbedder{inner: inner, cache: cache, scope: scope}
}

// Embed returns the cached vector for text if present, otherwise calls the
// wrapped embedder and populates the cache before returning.
func (c *CachingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := EmbeddingKey(c.scope, text)
	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, vec)
	return vec, nil
}
