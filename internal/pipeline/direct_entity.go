package pipeline

import (
	"context"
	"fmt"

	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/vectorindex"
)

// DirectEntityPath is the short-circuit for single-entity questions: when
// the router finds exactly one first-class entity and the active source
// supports keyed lookup, the controller fetches that entity's records
// straight from the store and skips embed, vector search, and rerank
// entirely. The only LLM cost left on this path is the final generation
// call.
type DirectEntityPath struct {
	lookup vectorindex.DirectLookup
	limit  int
}

// NewDirectEntityPath creates a DirectEntityPath. limit bounds how many of
// the entity's blocks feed the context window, typically the same cap as
// the rerank depth.
func NewDirectEntityPath(lookup vectorindex.DirectLookup, limit int) *DirectEntityPath {
	return &DirectEntityPath{lookup: lookup, limit: limit}
}

// Fetch returns the entity's records as a ready-to-generate context. An
// entity with no records yields an empty, non-error result, the same
// contract retrieval has for an empty index.
func (p *DirectEntityPath) Fetch(ctx context.Context, company, source string, entity model.Entity) (model.RetrievalResult, error) {
	blocks, err := p.lookup.FetchEntity(ctx, company, source, entity.Name, entity.Kind, p.limit)
	if err != nil {
		return model.RetrievalResult{}, fmt.Errorf("pipeline.DirectEntityPath.Fetch: %w", err)
	}
	return buildRetrievalResult(blocks), nil
}
