package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/connexus-ai/ragbox-backend/internal/config"
	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// QueryReformulator rewrites a context-dependent query into a single
// standalone query optimized for vector retrieval.
type QueryReformulator struct {
	caller Caller
}

// NewQueryReformulator creates a QueryReformulator.
func NewQueryReformulator(caller Caller) *QueryReformulator {
	return &QueryReformulator{caller: caller}
}

// Reformulate rewrites question using compressedContext (the relevant
// slice of prior conversation) and source. It is idempotent for standalone
// queries: when intent is model.Standalone, the input is returned unchanged
// without an LLM call.
func (r *QueryReformulator) Reformulate(ctx context.Context, question, compressedContext, source string, intent model.IntentKind) (string, error) {
	if intent == model.Standalone {
		return question, nil
	}

	prompt := buildReformulationPrompt(question, compressedContext, source)
	result, err := r.caller.Call(ctx, config.TaskReformulation, []model.Message{{Role: model.RoleUser, Content: prompt}})
	if err != nil {
		return "", fmt.Errorf("pipeline.QueryReformulator.Reformulate: %w", err)
	}

	rewritten := strings.TrimSpace(result.Text)
	if rewritten == "" {
		return question, nil
	}
	return rewritten, nil
}

func buildReformulationPrompt(question, compressedContext, source string) string {
	var sb strings.Builder
	sb.WriteString("Rewrite the question below into a single standalone query suitable for vector retrieval. ")
	sb.WriteString("Resolve pronouns and materialize any entities from the context. ")
	sb.WriteString("Do not introduce facts that are not present in the context or the question itself.\n\n")
	fmt.Fprintf(&sb, "Source: %s\n", source)
	if compressedContext != "" {
		fmt.Fprintf(&sb, "Context:\n%s\n\n", compressedContext)
	}
	fmt.Fprintf(&sb, "Question: %s\n", question)
	sb.WriteString("Standalone query:")
	return sb.String()
}
