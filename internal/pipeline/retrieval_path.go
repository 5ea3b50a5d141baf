package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/vectorindex"
)

// blockSeparator joins retrieved passages into one bounded context window.
const blockSeparator = "\n\n"

// Embedder is the single-query embedding shape both RetrievalPath and the
// controller's cache lookups need, narrowed to an interface for testability.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// RetrievalPath embeds the query, runs vector search, optionally fuses a
// BM25 result list via reciprocal rank fusion, reranks, and concatenates
// the winners into a bounded context window.
type RetrievalPath struct {
	embedder     Embedder
	index        vectorindex.VectorIndex
	bm25         vectorindex.BM25Index // nil = vector-only
	topKRetrieve int
	topKRerank   int
}

// NewRetrievalPath creates a RetrievalPath. bm25 may be nil.
func NewRetrievalPath(embedder Embedder, index vectorindex.VectorIndex, bm25 vectorindex.BM25Index, topKRetrieve, topKRerank int) *RetrievalPath {
	return &RetrievalPath{embedder: embedder, index: index, bm25: bm25, topKRetrieve: topKRetrieve, topKRerank: topKRerank}
}

// Retrieve embeds query, searches company+source, fuses with BM25 when
// available, reranks to topKRerank, and builds the bounded context text.
// An empty index produces an empty, non-error RetrievalResult; the
// generator handles the empty-context case.
func (p *RetrievalPath) Retrieve(ctx context.Context, query, company, source string, filters map[string]string) (model.RetrievalResult, error) {
	queryEmbedding, err := p.embedder.Embed(ctx, query)
	if err != nil {
		return model.RetrievalResult{}, fmt.Errorf("pipeline.RetrievalPath.Retrieve: embed: %w", err)
	}

	vectorCandidates, err := p.index.Search(ctx, company, source, queryEmbedding, p.topKRetrieve, filters)
	if err != nil {
		return model.RetrievalResult{}, fmt.Errorf("pipeline.RetrievalPath.Retrieve: vector search: %w", err)
	}

	var bm25Candidates []vectorindex.Candidate
	if p.bm25 != nil {
		bm25Candidates, err = p.bm25.Search(ctx, company, source, query, p.topKRetrieve)
		if err != nil {
			return model.RetrievalResult{}, fmt.Errorf("pipeline.RetrievalPath.Retrieve: bm25 search: %w", err)
		}
	}

	fused := vectorCandidates
	if len(bm25Candidates) > 0 {
		fused = reciprocalRankFusion(vectorCandidates, bm25Candidates)
	}

	reranked := rerank(fused)
	if len(reranked) > p.topKRerank {
		reranked = reranked[:p.topKRerank]
	}

	return buildRetrievalResult(reranked), nil
}

// rerank orders candidates by their fused score. Conversation-block
// passages carry no document-recency or chunk-count signal, so the fused
// rank score is the whole ordering key.
func rerank(candidates []vectorindex.Candidate) []vectorindex.Candidate {
	ranked := make([]vectorindex.Candidate, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	return ranked
}

// reciprocalRankFusion combines vector and BM25 result lists: score =
// sum(1/(k+rank)) per list a candidate appears in, k=60.
func reciprocalRankFusion(vectorResults, bm25Results []vectorindex.Candidate) []vectorindex.Candidate {
	const k = 60
	scores := make(map[string]float64)
	items := make(map[string]vectorindex.Candidate)

	for rank, item := range vectorResults {
		scores[item.BlockID] += 1.0 / float64(k+rank+1)
		if _, exists := items[item.BlockID]; !exists {
			items[item.BlockID] = item
		}
	}
	for rank, item := range bm25Results {
		scores[item.BlockID] += 1.0 / float64(k+rank+1)
		if _, exists := items[item.BlockID]; !exists {
			items[item.BlockID] = item
		}
	}

	type scored struct {
		item  vectorindex.Candidate
		score float64
	}
	sortedItems := make([]scored, 0, len(items))
	for id, item := range items {
		item.Score = scores[id]
		sortedItems = append(sortedItems, scored{item, scores[id]})
	}
	sort.Slice(sortedItems, func(i, j int) bool { return sortedItems[i].score > sortedItems[j].score })

	results := make([]vectorindex.Candidate, len(sortedItems))
	for i, s := range sortedItems {
		results[i] = s.item
	}
	return results
}

func buildRetrievalResult(blocks []vectorindex.Candidate) model.RetrievalResult {
	result := model.RetrievalResult{
		Blocks:    make([]model.RetrievedBlock, len(blocks)),
		Citations: make([]string, 0, len(blocks)),
	}
	var sb strings.Builder
	for i, b := range blocks {
		result.Blocks[i] = model.RetrievedBlock{BlockID: b.BlockID, Text: b.Text, Score: b.Score, Metadata: b.Metadata}
		result.Citations = append(result.Citations, b.BlockID)
		if i > 0 {
			sb.WriteString(blockSeparator)
		}
		fmt.Fprintf(&sb, "[%d] %s", i+1, b.Text)
	}
	result.ContextText = sb.String()
	return result
}
