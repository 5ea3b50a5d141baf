package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/vectorindex"
)

type fakeDirectLookup struct {
	candidates []vectorindex.Candidate
	err        error
	gotName    string
	gotKind    string
	gotLimit   int
}

func (f *fakeDirectLookup) FetchEntity(ctx context.Context, company, source, entityName, entityKind string, limit int) ([]vectorindex.Candidate, error) {
	f.gotName = entityName
	f.gotKind = entityKind
	f.gotLimit = limit
	return f.candidates, f.err
}

func TestDirectEntityPath_Fetch_BuildsContextFromKeyedBlocks(t *testing.T) {
	lookup := &fakeDirectLookup{candidates: []vectorindex.Candidate{
		{BlockID: "cust-7a", Text: "Jordan Lee: brake squeal complaint, resolved."},
		{BlockID: "cust-7b", Text: "Jordan Lee: open tyre warranty claim."},
	}}
	p := NewDirectEntityPath(lookup, 10)

	result, err := p.Fetch(context.Background(), "acme-motors", "chat_logs", model.Entity{Name: "Jordan Lee", Kind: "customer"})
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if lookup.gotName != "Jordan Lee" || lookup.gotKind != "customer" || lookup.gotLimit != 10 {
		t.Errorf("lookup called with (%q, %q, %d)", lookup.gotName, lookup.gotKind, lookup.gotLimit)
	}
	if len(result.Blocks) != 2 {
		t.Fatalf("len(Blocks) = %d, want 2", len(result.Blocks))
	}
	if result.ContextText == "" {
		t.Error("ContextText must not be empty when the entity has records")
	}
}

func TestDirectEntityPath_Fetch_UnknownEntityIsEmptyNotError(t *testing.T) {
	p := NewDirectEntityPath(&fakeDirectLookup{}, 10)

	result, err := p.Fetch(context.Background(), "acme-motors", "chat_logs", model.Entity{Name: "Nobody", Kind: "customer"})
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if len(result.Blocks) != 0 {
		t.Errorf("len(Blocks) = %d, want 0", len(result.Blocks))
	}
}

func TestDirectEntityPath_Fetch_PropagatesLookupError(t *testing.T) {
	p := NewDirectEntityPath(&fakeDirectLookup{err: errors.New("store down")}, 10)

	if _, err := p.Fetch(context.Background(), "acme-motors", "chat_logs", model.Entity{Name: "Jordan Lee"}); err == nil {
		t.Fatal("expected the lookup error to propagate")
	}
}
