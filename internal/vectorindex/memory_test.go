package vectorindex

import (
	"context"
	"testing"
)

func TestInMemoryIndex_Search_RanksByCosineSimilarity(t *testing.T) {
	idx := NewInMemoryIndex()
	idx.Add("acme-motors", "service_history",
		Candidate{BlockID: "b1", Text: "warranty covers the transmission"},
		[]float32{1, 0, 0})
	idx.Add("acme-motors", "service_history",
		Candidate{BlockID: "b2", Text: "unrelated passage"},
		[]float32{0, 1, 0})

	results, err := idx.Search(context.Background(), "acme-motors", "service_history", []float32{1, 0, 0}, 5, nil)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	if results[0].BlockID != "b1" {
		t.Errorf("results[0].BlockID = %q, want %q (higher similarity should rank first)", results[0].BlockID, "b1")
	}
}

func TestInMemoryIndex_Search_ScopedToCompanyAndSource(t *testing.T) {
	idx := NewInMemoryIndex()
	idx.Add("acme-motors", "service_history", Candidate{BlockID: "b1"}, []float32{1, 0})
	idx.Add("other-dealer", "service_history", Candidate{BlockID: "b2"}, []float32{1, 0})

	results, err := idx.Search(context.Background(), "acme-motors", "service_history", []float32{1, 0}, 5, nil)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(results) != 1 || results[0].BlockID != "b1" {
		t.Errorf("Search() = %+v, want only b1 for acme-motors", results)
	}
}

func TestInMemoryIndex_Search_AppliesMetadataFilters(t *testing.T) {
	idx := NewInMemoryIndex()
	idx.Add("acme-motors", "claims",
		Candidate{BlockID: "b1", Metadata: map[string]string{"variant": "sedan"}},
		[]float32{1, 0})
	idx.Add("acme-motors", "claims",
		Candidate{BlockID: "b2", Metadata: map[string]string{"variant": "suv"}},
		[]float32{1, 0})

	results, err := idx.Search(context.Background(), "acme-motors", "claims", []float32{1, 0}, 5, map[string]string{"variant": "suv"})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(results) != 1 || results[0].BlockID != "b2" {
		t.Errorf("Search() = %+v, want only b2 matching variant=suv", results)
	}
}

func TestInMemoryIndex_Search_EmptyIndexReturnsEmptyNotError(t *testing.T) {
	idx := NewInMemoryIndex()
	results, err := idx.Search(context.Background(), "acme-motors", "service_history", []float32{1, 0}, 5, nil)
	if err != nil {
		t.Fatalf("Search() error: %v, want nil", err)
	}
	if len(results) != 0 {
		t.Errorf("len(results) = %d, want 0", len(results))
	}
}

func TestInMemoryIndex_FetchEntity_KeyedLookup(t *testing.T) {
	idx := NewInMemoryIndex()
	idx.Add("acme-motors", "chat_logs",
		Candidate{BlockID: "b1", Text: "Jordan Lee reported brake squeal.", Metadata: map[string]string{"entity_name": "Jordan Lee", "entity_kind": "customer"}},
		[]float32{1, 0})
	idx.Add("acme-motors", "chat_logs",
		Candidate{BlockID: "b2", Text: "Alex Kim asked about tyres.", Metadata: map[string]string{"entity_name": "Alex Kim", "entity_kind": "customer"}},
		[]float32{0, 1})

	results, err := idx.FetchEntity(context.Background(), "acme-motors", "chat_logs", "Jordan Lee", "customer", 10)
	if err != nil {
		t.Fatalf("FetchEntity() error: %v", err)
	}
	if len(results) != 1 || results[0].BlockID != "b1" {
		t.Errorf("FetchEntity() = %+v, want only Jordan Lee's block", results)
	}
}

func TestInMemoryIndex_FetchEntity_UnknownEntityReturnsEmpty(t *testing.T) {
	idx := NewInMemoryIndex()
	results, err := idx.FetchEntity(context.Background(), "acme-motors", "chat_logs", "Nobody", "customer", 10)
	if err != nil {
		t.Fatalf("FetchEntity() error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("len(results) = %d, want 0 for an unknown entity", len(results))
	}
}

func TestInMemoryIndex_Search_RespectsTopK(t *testing.T) {
	idx := NewInMemoryIndex()
	for i := 0; i < 10; i++ {
		idx.Add("acme-motors", "service_history", Candidate{BlockID: string(rune('a' + i))}, []float32{1, 0})
	}

	results, err := idx.Search(context.Background(), "acme-motors", "service_history", []float32{1, 0}, 3, nil)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("len(results) = %d, want 3", len(results))
	}
}
