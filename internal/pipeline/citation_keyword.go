package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/connexus-ai/ragbox-backend/internal/config"
	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// CitationChecker backs the thinking-mode-only parallel-phase check that
// decides whether AnswerGenerator should annotate claims with [n] citations.
type CitationChecker struct {
	caller Caller
}

// NewCitationChecker creates a CitationChecker.
func NewCitationChecker(caller Caller) *CitationChecker {
	return &CitationChecker{caller: caller}
}

// Check returns true if question calls for citation-backed claims (factual
// lookups) rather than a conversational or opinion-style answer.
func (c *CitationChecker) Check(ctx context.Context, question string) (bool, error) {
	prompt := fmt.Sprintf("Does answering this question require citing specific source passages? Answer yes or no only.\n\nQuestion: %s", question)
	result, err := c.caller.Call(ctx, config.TaskCitationCheck, []model.Message{{Role: model.RoleUser, Content: prompt}})
	if err != nil {
		return false, fmt.Errorf("pipeline.CitationChecker.Check: %w", err)
	}
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(result.Text)), "y"), nil
}

// KeywordExtractor backs the thinking-mode-only parallel-phase keyword
// extraction; the keywords are passed to AnswerGenerator so the prompt
// names the exact terms the answer has to address. Retrieval does not use
// them.
type KeywordExtractor struct {
	caller Caller
}

// NewKeywordExtractor creates a KeywordExtractor.
func NewKeywordExtractor(caller Caller) *KeywordExtractor {
	return &KeywordExtractor{caller: caller}
}

// Extract returns a short list of salient keywords/phrases from question.
func (k *KeywordExtractor) Extract(ctx context.Context, question string) ([]string, error) {
	prompt := fmt.Sprintf("List the 3-5 most important keywords or phrases in this question, comma-separated, nothing else.\n\nQuestion: %s", question)
	result, err := k.caller.Call(ctx, config.TaskKeywordExtraction, []model.Message{{Role: model.RoleUser, Content: prompt}})
	if err != nil {
		return nil, fmt.Errorf("pipeline.KeywordExtractor.Extract: %w", err)
	}
	parts := strings.Split(result.Text, ",")
	keywords := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			keywords = append(keywords, p)
		}
	}
	return keywords, nil
}
