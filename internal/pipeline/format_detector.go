package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/connexus-ai/ragbox-backend/internal/config"
	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// formatTriggerPattern is a cheap prefilter: most queries carry no format
// ask at all, and skipping the LLM call for those saves the cheapest-tier
// round-trip on every one of them.
var formatTriggerPattern = regexp.MustCompile(`(?i)\b(words?|bullet|list|table|tone|format|memo|report|email|paragraph|sentence|summary|summarize|outline|one[- ]liner|brief|concise|detailed)\b|\bin \d+\b`)

// FormatDetector detects a user-imposed output-format directive
// (word budget, list/table, tone, document type).
type FormatDetector struct {
	caller Caller
}

// NewFormatDetector creates a FormatDetector.
func NewFormatDetector(caller Caller) *FormatDetector {
	return &FormatDetector{caller: caller}
}

// Detect returns an absent FormatDirective without an LLM call when
// question contains none of the cheap format-trigger words. Otherwise it
// invokes the cheapest-tier model to confirm and capture the directive
// verbatim.
func (d *FormatDetector) Detect(ctx context.Context, question string) (model.FormatDirective, error) {
	if !formatTriggerPattern.MatchString(question) {
		return model.FormatDirective{}, nil
	}

	prompt := buildFormatDetectionPrompt(question)
	result, err := d.caller.Call(ctx, config.TaskFormatDetection, []model.Message{{Role: model.RoleUser, Content: prompt}})
	if err != nil {
		return model.FormatDirective{}, fmt.Errorf("pipeline.FormatDetector.Detect: %w", err)
	}

	directive := strings.TrimSpace(result.Text)
	if directive == "" || strings.EqualFold(directive, "null") || strings.EqualFold(directive, "none") {
		return model.FormatDirective{}, nil
	}
	return model.FormatDirective{Present: true, Directive: directive}, nil
}

func buildFormatDetectionPrompt(question string) string {
	var sb strings.Builder
	sb.WriteString("Does this message impose an output-format directive (word budget, list/table, tone, document type)? ")
	sb.WriteString("If yes, return the directive verbatim as a short phrase. If no, return exactly: null\n\n")
	fmt.Fprintf(&sb, "Message: %s\n", question)
	return sb.String()
}
