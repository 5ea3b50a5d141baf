package pipeline

import (
	"context"
	"testing"
)

func TestFormatDetector_PrefilterSkipsLLM(t *testing.T) {
	caller := &fakeCaller{text: "should not be used"}
	d := NewFormatDetector(caller)

	directive, err := d.Detect(context.Background(), "what warranty does my Civic have")
	if err != nil {
		t.Fatalf("Detect() error: %v", err)
	}
	if directive.Present {
		t.Error("Present = true, want false (no format trigger words)")
	}
	if caller.calls != 0 {
		t.Error("expected the cheap prefilter to skip the LLM call")
	}
}

func TestFormatDetector_TriggerWordInvokesLLM(t *testing.T) {
	caller := &fakeCaller{text: "a bulleted list of at most 5 items"}
	d := NewFormatDetector(caller)

	directive, err := d.Detect(context.Background(), "give me a bullet list of open claims")
	if err != nil {
		t.Fatalf("Detect() error: %v", err)
	}
	if !directive.Present {
		t.Fatal("Present = false, want true")
	}
	if directive.Directive != "a bulleted list of at most 5 items" {
		t.Errorf("Directive = %q", directive.Directive)
	}
}

func TestFormatDetector_NullResponseIsAbsent(t *testing.T) {
	caller := &fakeCaller{text: "null"}
	d := NewFormatDetector(caller)

	directive, err := d.Detect(context.Background(), "please summarize in a table")
	if err != nil {
		t.Fatalf("Detect() error: %v", err)
	}
	if directive.Present {
		t.Error("Present = true, want false for a null LLM response")
	}
}
