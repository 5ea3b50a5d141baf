package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/connexus-ai/ragbox-backend/internal/config"
	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// metaOpPattern matches verbs that signal the user wants the prior
// assistant answer reformatted rather than a new data need.
var metaOpPattern = regexp.MustCompile(`(?i)\b(summarize|summarise|translate|reformat|rephrase|shorten|condense|rewrite)\b`)

// topicSwitchPattern matches a handful of cheap lexical tells for an
// unrelated new topic, used only as a heuristic prefilter before the LLM
// call; the LLM has the final say.
var topicSwitchPattern = regexp.MustCompile(`(?i)\b(forget that|never mind|different question|switching topics|new question|actually, |unrelated)\b`)

// ContextSelector decides how much prior conversation, if any, a
// context-dependent turn should carry forward. It only runs when history
// is non-empty; a fresh session has nothing to select from.
type ContextSelector struct {
	caller Caller
}

// NewContextSelector creates a ContextSelector.
func NewContextSelector(caller Caller) *ContextSelector {
	return &ContextSelector{caller: caller}
}

// Select returns the ContextDecision for question given the session's
// current history (oldest first) and the session window cap N.
func (s *ContextSelector) Select(ctx context.Context, question string, history []model.Message, windowN int) (model.ContextDecision, error) {
	if len(history) == 0 {
		return model.ContextDecision{Action: model.Continuation, MessagesToInclude: 0}, nil
	}

	if metaOpPattern.MatchString(question) {
		return model.ContextDecision{Action: model.MetaOp, MessagesToInclude: 1}, nil
	}
	if topicSwitchPattern.MatchString(question) {
		return model.ContextDecision{Action: model.TopicSwitch, MessagesToInclude: 0}, nil
	}

	prompt := buildContextSelectionPrompt(question, history)
	result, err := s.caller.Call(ctx, config.TaskContextSelection, []model.Message{{Role: model.RoleUser, Content: prompt}})
	if err != nil {
		return model.ContextDecision{}, fmt.Errorf("pipeline.ContextSelector.Select: %w", err)
	}

	return parseContextDecision(result.Text, windowN), nil
}

func buildContextSelectionPrompt(question string, history []model.Message) string {
	var sb strings.Builder
	sb.WriteString("Decide how this message relates to the conversation so far. Answer with exactly one of:\n")
	sb.WriteString("TOPIC_SWITCH (unrelated new topic), DATA_REQUEST (new data need referencing prior context), ")
	sb.WriteString("META_OP (operates on the last assistant answer: summarize/translate/reformat), ")
	sb.WriteString("CONTINUATION (elaborates on the same topic).\n")
	sb.WriteString("Conversation:\n")
	for _, m := range history {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
	}
	fmt.Fprintf(&sb, "New message: %s\n", question)
	sb.WriteString("Answer with one word: TOPIC_SWITCH, DATA_REQUEST, META_OP, or CONTINUATION.")
	return sb.String()
}

func parseContextDecision(text string, windowN int) model.ContextDecision {
	normalized := strings.ToUpper(strings.TrimSpace(text))
	switch {
	case strings.Contains(normalized, "TOPIC_SWITCH"):
		return model.ContextDecision{Action: model.TopicSwitch, MessagesToInclude: 0}
	case strings.Contains(normalized, "META_OP"):
		return model.ContextDecision{Action: model.MetaOp, MessagesToInclude: 1}
	case strings.Contains(normalized, "DATA_REQUEST"):
		return model.ContextDecision{Action: model.DataRequest, MessagesToInclude: windowN}
	default:
		return model.ContextDecision{Action: model.Continuation, MessagesToInclude: minInt(2, windowN)}
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
