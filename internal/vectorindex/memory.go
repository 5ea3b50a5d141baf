package vectorindex

import (
	"context"
	"math"
	"sort"
)

// storedVector is one embedded passage held by InMemoryIndex.
type storedVector struct {
	company, source string
	candidate       Candidate
	embedding       []float32
}

// InMemoryIndex is a VectorIndex and BM25Index backed by an in-process
// slice, for tests and the cmd/pipelinedemo wiring entry point. It is not a
// production collaborator: real deployments point RetrievalPath at a
// pgvector-backed index instead.
type InMemoryIndex struct {
	vectors []storedVector
}

// NewInMemoryIndex creates an empty InMemoryIndex.
func NewInMemoryIndex() *InMemoryIndex {
	return &InMemoryIndex{}
}

// Add registers one embedded passage under company/source.
func (idx *InMemoryIndex) Add(company, source string, candidate Candidate, embedding []float32) {
	idx.vectors = append(idx.vectors, storedVector{company: company, source: source, candidate: candidate, embedding: embedding})
}

// Search ranks stored vectors for company/source by cosine similarity to
// queryEmbedding, applies any exact-match metadata filters, and returns the
// topK highest-scoring candidates.
func (idx *InMemoryIndex) Search(ctx context.Context, company, source string, queryEmbedding []float32, topK int, filters map[string]string) ([]Candidate, error) {
	var scored []Candidate
	for _, v := range idx.vectors {
		if v.company != company || v.source != source {
			continue
		}
		if !matchesFilters(v.candidate.Metadata, filters) {
			continue
		}
		c := v.candidate
		c.Score = cosineSimilarity(queryEmbedding, v.embedding)
		scored = append(scored, c)
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// FetchEntity returns blocks whose entity metadata names the given entity,
// in insertion order up to limit. Kind narrows the match only when both the
// block and the query carry one.
func (idx *InMemoryIndex) FetchEntity(ctx context.Context, company, source, entityName, entityKind string, limit int) ([]Candidate, error) {
	var out []Candidate
	for _, v := range idx.vectors {
		if v.company != company || v.source != source {
			continue
		}
		if v.candidate.Metadata["entity_name"] != entityName {
			continue
		}
		if k := v.candidate.Metadata["entity_kind"]; k != "" && entityKind != "" && k != entityKind {
			continue
		}
		out = append(out, v.candidate)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func matchesFilters(metadata, filters map[string]string) bool {
	for k, want := range filters {
		if metadata[k] != want {
			return false
		}
	}
	return true
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
