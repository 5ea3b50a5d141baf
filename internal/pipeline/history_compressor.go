package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/connexus-ai/ragbox-backend/internal/config"
	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// shortAnswerThreshold is the pass-through bound: prior answers at or under
// this many characters are carried forward whole, no extraction call.
const shortAnswerThreshold = 200

// maxCompressedWords bounds the extracted slice's length.
const maxCompressedWords = 100

// referenceMarkerPattern matches the markers that indicate a query refers
// to a specific slice of the prior answer: anaphora plus ordinal/numbered
// references ("point 3", "#2", "the second one").
var referenceMarkerPattern = regexp.MustCompile(`(?i)\b(above|it|that|this|those|these|point|item|#\d+|\d+(st|nd|rd|th)|first|second|third|fourth|fifth|last one|summarize|summarise)\b`)

// HistoryCompressor extracts the slice of a long prior assistant
// answer that the current query refers to.
type HistoryCompressor struct {
	caller Caller
}

// NewHistoryCompressor creates a HistoryCompressor.
func NewHistoryCompressor(caller Caller) *HistoryCompressor {
	return &HistoryCompressor{caller: caller}
}

// Compress returns the portion of priorAnswer that question refers to.
// Short answers and queries without reference markers pass through
// unchanged without an LLM call.
func (c *HistoryCompressor) Compress(ctx context.Context, question, priorAnswer string) (string, error) {
	if len(priorAnswer) <= shortAnswerThreshold {
		return priorAnswer, nil
	}
	if !referenceMarkerPattern.MatchString(question) {
		return priorAnswer, nil
	}

	prompt := buildCompressionPrompt(question, priorAnswer)
	result, err := c.caller.Call(ctx, config.TaskCompression, []model.Message{{Role: model.RoleUser, Content: prompt}})
	if err != nil {
		return "", fmt.Errorf("pipeline.HistoryCompressor.Compress: %w", err)
	}

	return boundWords(strings.TrimSpace(result.Text), maxCompressedWords), nil
}

func buildCompressionPrompt(question, priorAnswer string) string {
	var sb strings.Builder
	sb.WriteString("Extract only the contiguous or bulleted slice of the prior answer that the current question refers to. ")
	sb.WriteString("Return that slice verbatim, nothing else.\n\n")
	fmt.Fprintf(&sb, "Prior answer:\n%s\n\n", priorAnswer)
	fmt.Fprintf(&sb, "Current question: %s\n", question)
	return sb.String()
}

func boundWords(text string, maxWords int) string {
	words := strings.Fields(text)
	if len(words) <= maxWords {
		return text
	}
	return strings.Join(words[:maxWords], " ")
}
