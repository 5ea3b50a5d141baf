// Package vectorindex defines VectorIndex: the opaque, pre-built similarity
// search collaborator RetrievalPath depends on. Corpus ingestion,
// enrichment, and embedding generation that populate an index happen
// elsewhere; VectorIndex is a shared, process-wide singleton acquired at
// startup.
package vectorindex

import "context"

// Candidate is a single scored passage returned by a similarity search,
// before rerank.
type Candidate struct {
	BlockID  string
	Text     string
	Score    float64
	Metadata map[string]string
}

// VectorIndex exposes similarity search over pre-built embeddings, keyed by
// company and source. Implementations are pooled, process-wide singletons;
// none holds per-request mutable state.
type VectorIndex interface {
	// Search returns up to topK candidates for queryEmbedding, scoped to
	// company and source, optionally narrowed by metadata filters (date
	// range, variant, etc.). An empty index returns an empty, non-error
	// result; RetrievalPath must handle that case itself.
	Search(ctx context.Context, company, source string, queryEmbedding []float32, topK int, filters map[string]string) ([]Candidate, error)
}

// BM25Index is the optional lexical-search collaborator RetrievalPath fuses
// with vector search via reciprocal rank fusion when both are present.
// A nil BM25Index is valid: RetrievalPath falls back to vector-only ranking.
type BM25Index interface {
	Search(ctx context.Context, company, source string, query string, topK int) ([]Candidate, error)
}

// DirectLookup is the keyed-fetch surface behind the direct-entity
// short-circuit: it returns the blocks recorded against one named entity
// without any similarity search. Implementations usually sit on the same
// store as VectorIndex, keyed by the entity metadata written at ingest.
// An unknown entity yields an empty, non-error result.
type DirectLookup interface {
	FetchEntity(ctx context.Context, company, source, entityName, entityKind string, limit int) ([]Candidate, error)
}
