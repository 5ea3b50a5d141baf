// Package llm implements LLMCaller: a provider-agnostic call/stream
// interface over the pipeline's LLM task table, dispatching to whichever
// concrete provider a task's ConfigRegistry entry names.
package llm

import (
	"context"
	"errors"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// ErrProviderUnavailable is the sentinel wrapped into every non-retryable
// provider failure. Pipeline-level error handling turns this into the
// typed ProviderError exposed to callers.
var ErrProviderUnavailable = errors.New("llm provider unavailable")

// Provider is the minimal surface every concrete LLM backend implements.
// Implementations hold their own credentials/HTTP client and are safe for
// concurrent use.
type Provider interface {
	// GenerateContent returns the full completion text for one turn.
	GenerateContent(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxTokens int) (string, error)
	// GenerateContentStream streams completion text incrementally. The
	// text channel closes when generation finishes; at most one error is
	// sent on the error channel before it closes.
	GenerateContentStream(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxTokens int) (<-chan string, <-chan error)
}

// CallResult is the synchronous response LLMCaller.Call returns.
type CallResult struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// renderPrompt collapses a message history into a single user-turn prompt:
// all but the last message become transcript context, the last message is
// the active turn. Provider.GenerateContent takes one system+user pair
// rather than a full chat-turn array.
func renderPrompt(messages []model.Message) (systemPrompt, userPrompt string) {
	if len(messages) == 0 {
		return "", ""
	}

	var transcript string
	for _, m := range messages[:len(messages)-1] {
		transcript += string(m.Role) + ": " + m.Content + "\n"
	}

	last := messages[len(messages)-1]
	if transcript == "" {
		return "", last.Content
	}
	return "Conversation so far:\n" + transcript, last.Content
}
