package pipeline

import "github.com/connexus-ai/ragbox-backend/internal/model"

// IntentClassifier decides whether an utterance can be understood on its
// own or relies on prior turns. It is a deterministic rule over explicit
// anaphora markers (anaphora means context_dependent, anything else is
// standalone) rather than an LLM call, so it runs for free inside the
// controller's parallel phase.
type IntentClassifier struct{}

// NewIntentClassifier creates an IntentClassifier.
func NewIntentClassifier() *IntentClassifier {
	return &IntentClassifier{}
}

// Classify returns context_dependent if question contains an anaphoric
// marker, standalone otherwise.
func (c *IntentClassifier) Classify(question string) model.IntentResult {
	if anaphoraPattern.MatchString(question) {
		return model.IntentResult{Kind: model.ContextDependent}
	}
	return model.IntentResult{Kind: model.Standalone}
}
