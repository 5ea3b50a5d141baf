package pipeline

import (
	"testing"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

func TestIntentClassifier_Classify(t *testing.T) {
	c := NewIntentClassifier()

	tests := []struct {
		question string
		want     model.IntentKind
	}{
		{"what's the warranty on the 2023 CR-V?", model.Standalone},
		{"tell me more about that", model.ContextDependent},
		{"summarize the above", model.ContextDependent},
		{"how many service visits did customer Lee have?", model.Standalone},
	}

	for _, tt := range tests {
		got := c.Classify(tt.question)
		if got.Kind != tt.want {
			t.Errorf("Classify(%q) = %q, want %q", tt.question, got.Kind, tt.want)
		}
	}
}
