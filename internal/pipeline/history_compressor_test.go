package pipeline

import (
	"context"
	"strings"
	"testing"
)

func TestHistoryCompressor_ShortAnswerPassesThroughWithoutLLM(t *testing.T) {
	caller := &fakeCaller{text: "should not be used"}
	c := NewHistoryCompressor(caller)

	short := "The 2022 Civic has a 3-year warranty."
	got, err := c.Compress(context.Background(), "tell me more", short)
	if err != nil {
		t.Fatalf("Compress() error: %v", err)
	}
	if got != short {
		t.Errorf("Compress() = %q, want unchanged short answer", got)
	}
	if caller.calls != 0 {
		t.Error("short answers must not invoke the LLM")
	}
}

func TestHistoryCompressor_NoReferenceMarkerSkipsLLM(t *testing.T) {
	caller := &fakeCaller{text: "should not be used"}
	c := NewHistoryCompressor(caller)

	long := strings.Repeat("claim detail. ", 30)
	got, err := c.Compress(context.Background(), "what's the capital of France", long)
	if err != nil {
		t.Fatalf("Compress() error: %v", err)
	}
	if got != long {
		t.Errorf("Compress() = %q, want unchanged long answer (no reference marker)", got)
	}
	if caller.calls != 0 {
		t.Error("no reference marker means no LLM call")
	}
}

func TestHistoryCompressor_LongAnswerWithReferenceInvokesLLM(t *testing.T) {
	caller := &fakeCaller{text: "Claim #2: brake pad replacement."}
	c := NewHistoryCompressor(caller)

	long := strings.Repeat("claim detail. ", 30)
	got, err := c.Compress(context.Background(), "tell me about the second one", long)
	if err != nil {
		t.Fatalf("Compress() error: %v", err)
	}
	if caller.calls != 1 {
		t.Error("expected exactly one LLM call")
	}
	if got != "Claim #2: brake pad replacement." {
		t.Errorf("Compress() = %q", got)
	}
}

func TestHistoryCompressor_BoundsOutputWords(t *testing.T) {
	words := make([]string, maxCompressedWords+20)
	for i := range words {
		words[i] = "word"
	}
	caller := &fakeCaller{text: strings.Join(words, " ")}
	c := NewHistoryCompressor(caller)

	long := strings.Repeat("claim detail. ", 30)
	got, err := c.Compress(context.Background(), "point 3 please", long)
	if err != nil {
		t.Fatalf("Compress() error: %v", err)
	}
	if n := len(strings.Fields(got)); n != maxCompressedWords {
		t.Errorf("output has %d words, want %d (bounded)", n, maxCompressedWords)
	}
}
