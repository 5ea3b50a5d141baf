package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/connexus-ai/ragbox-backend/internal/config"
	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// OutOfDomainRefusal is the fixed, domain-scoped refusal string
// the controller returns on OOD_SHORTCIRCUIT. It costs no generation
// call and also doubles as the marker DomainClassifier checks for when
// deciding whether the immediately preceding turn was in-domain.
const OutOfDomainRefusal = "I can only help with questions about this dealership's vehicles, service history, and warranty records. Could you ask something in that area?"

// anaphoraPattern matches follow-up markers: a bridge back to the prior
// in-domain turn regardless of the current utterance's topical keywords.
var anaphoraPattern = regexp.MustCompile(`(?i)\b(above|it|that|this|those|these|point|summarize|summarise|tell me more|continue|elaborate)\b`)

// Caller is the minimal LLMCaller surface every pipeline stage depends on,
// narrowed to an interface so tests substitute a fake instead of a live
// provider.
type Caller interface {
	Call(ctx context.Context, task config.TaskName, messages []model.Message) (CallResult, error)
}

// CallResult mirrors llm.CallResult without importing the llm package,
// keeping pipeline stage signatures provider-agnostic.
type CallResult struct {
	Text string
}

// DomainClassifier decides whether an utterance is in-domain,
// out-of-domain, or small talk.
type DomainClassifier struct {
	caller         Caller
	domainLabel    string
	enabledSources []string
}

// NewDomainClassifier creates a DomainClassifier for one company's domain
// label (e.g. "Haval dealership service records") and enabled sources.
func NewDomainClassifier(caller Caller, domainLabel string, enabledSources []string) *DomainClassifier {
	return &DomainClassifier{caller: caller, domainLabel: domainLabel, enabledSources: enabledSources}
}

// Classify classifies question given up to the last two turns of history.
// The follow-up rule is enforced unconditionally: if the most recent
// assistant turn was in-domain (i.e. not the canned refusal) and question
// contains an anaphoric marker, the result is in_domain regardless of what
// the LLM call below would have said about topical keywords alone.
func (c *DomainClassifier) Classify(ctx context.Context, question string, history []model.Message) (model.ClassificationResult, error) {
	if followUpApplies(question, history) {
		return model.ClassificationResult{Classification: model.InDomain, Reason: "follow-up to an in-domain turn"}, nil
	}

	prompt := c.buildPrompt(question, lastTwo(history))
	result, err := c.caller.Call(ctx, config.TaskDomainClassification, []model.Message{{Role: model.RoleUser, Content: prompt}})
	if err != nil {
		return model.ClassificationResult{}, fmt.Errorf("pipeline.DomainClassifier.Classify: %w", err)
	}

	return parseClassification(result.Text), nil
}

func followUpApplies(question string, history []model.Message) bool {
	if !anaphoraPattern.MatchString(question) {
		return false
	}
	lastAssistant, ok := lastAssistantTurn(history)
	if !ok {
		return false
	}
	return lastAssistant.Content != OutOfDomainRefusal
}

func lastAssistantTurn(history []model.Message) (model.Message, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == model.RoleAssistant {
			return history[i], true
		}
	}
	return model.Message{}, false
}

func lastTwo(history []model.Message) []model.Message {
	if len(history) <= 2 {
		return history
	}
	return history[len(history)-2:]
}

func (c *DomainClassifier) buildPrompt(question string, recent []model.Message) string {
	var sb strings.Builder
	sb.WriteString("Classify the user's message as exactly one of: in_domain, out_of_domain, small_talk.\n")
	fmt.Fprintf(&sb, "Domain: %s\n", c.domainLabel)
	fmt.Fprintf(&sb, "Enabled sources: %s\n", strings.Join(c.enabledSources, ", "))
	if len(recent) > 0 {
		sb.WriteString("Recent turns:\n")
		for _, m := range recent {
			fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
		}
	}
	fmt.Fprintf(&sb, "Message: %s\n", question)
	sb.WriteString("Answer with a single word: in_domain, out_of_domain, or small_talk.")
	return sb.String()
}

func parseClassification(text string) model.ClassificationResult {
	normalized := strings.ToLower(strings.TrimSpace(text))
	switch {
	case strings.Contains(normalized, "out_of_domain") || strings.Contains(normalized, "out-of-domain"):
		return model.ClassificationResult{Classification: model.OutOfDomain}
	case strings.Contains(normalized, "small_talk") || strings.Contains(normalized, "small talk"):
		return model.ClassificationResult{Classification: model.SmallTalk}
	default:
		return model.ClassificationResult{Classification: model.InDomain}
	}
}
