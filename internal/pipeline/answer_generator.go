package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/connexus-ai/ragbox-backend/internal/config"
	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// AnswerMode selects which of the two generation tasks AnswerGenerator
// invokes: concise non-thinking, or longer thinking with citation
// annotations enabled when needed.
type AnswerMode string

const (
	NonThinking AnswerMode = "non_thinking"
	Thinking    AnswerMode = "thinking"
)

// GenerateInput is everything AnswerGenerator needs to assemble the final
// prompt: mode-specific system directives, an optional format override,
// retrieved context or the SQL result, the (possibly reformulated)
// question, and, only when needed, the last assistant turn.
type GenerateInput struct {
	Mode              AnswerMode
	Question          string
	Format            model.FormatDirective
	ContextText       string
	LastAssistantTurn string // set only for META_OP decisions
	CitationsNeeded   bool     // thinking mode only
	Keywords          []string // thinking mode only, from the parallel-phase keyword extraction
	RetrievalEmpty    bool
}

// StreamCaller extends Caller with the streaming call AnswerGenerator needs.
type StreamCaller interface {
	Caller
	Stream(ctx context.Context, task config.TaskName, messages []model.Message) (<-chan string, <-chan error)
}

// AnswerGenerator assembles the final prompt and streams the answer.
type AnswerGenerator struct {
	caller StreamCaller
}

// NewAnswerGenerator creates an AnswerGenerator.
func NewAnswerGenerator(caller StreamCaller) *AnswerGenerator {
	return &AnswerGenerator{caller: caller}
}

// Stream produces tokens as they arrive. The cache stores only the
// completed text; the controller joins the token channel before writing.
func (g *AnswerGenerator) Stream(ctx context.Context, in GenerateInput) (<-chan string, <-chan error) {
	task := config.TaskAnswerNonThinking
	if in.Mode == Thinking {
		task = config.TaskAnswerThinking
	}

	prompt := g.buildPrompt(in)
	return g.caller.Stream(ctx, task, []model.Message{{Role: model.RoleUser, Content: prompt}})
}

func (g *AnswerGenerator) buildPrompt(in GenerateInput) string {
	var sb strings.Builder

	if in.Mode == Thinking {
		sb.WriteString("Answer thoroughly, reasoning over the provided context. ")
		if in.CitationsNeeded {
			sb.WriteString("Annotate factual claims with [n] citations referencing the numbered context blocks.\n")
		} else {
			sb.WriteString("\n")
		}
	} else {
		sb.WriteString("Answer concisely and directly.\n")
	}

	if len(in.Keywords) > 0 {
		fmt.Fprintf(&sb, "Make sure the answer addresses: %s\n", strings.Join(in.Keywords, ", "))
	}

	if in.Format.Present {
		fmt.Fprintf(&sb, "\n=== FORMAT OVERRIDE (follow this instead of the default structure) ===\n%s\n", in.Format.Directive)
	}

	if in.RetrievalEmpty {
		sb.WriteString("\n=== CONTEXT ===\nNo matching content was found in the corpus for this question. Say so plainly; do not guess.\n")
	} else if in.ContextText != "" {
		fmt.Fprintf(&sb, "\n=== CONTEXT ===\n%s\n", in.ContextText)
	}

	if in.LastAssistantTurn != "" {
		fmt.Fprintf(&sb, "\n=== PRIOR ANSWER ===\n%s\n", in.LastAssistantTurn)
	}

	fmt.Fprintf(&sb, "\n=== QUESTION ===\n%s\n", in.Question)
	return sb.String()
}

// EstimateConfidence backs the optional self-critique confidence floor: a
// cheap lexical-overlap heuristic between the generated answer and the
// context it was grounded in, so no second generation call is spent on the
// critique. The controller only consults it to decide whether to append a
// low-confidence caveat, and only when the caller opts in.
func EstimateConfidence(answer, contextText string) float64 {
	if contextText == "" {
		return 0
	}
	contextWords := tokenSet(contextText)
	if len(contextWords) == 0 {
		return 0
	}
	answerWords := tokenSet(answer)
	if len(answerWords) == 0 {
		return 0
	}

	overlap := 0
	for w := range answerWords {
		if contextWords[w] {
			overlap++
		}
	}
	return float64(overlap) / float64(len(answerWords))
}

func tokenSet(text string) map[string]bool {
	fields := strings.Fields(strings.ToLower(text))
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		if len(f) > 3 {
			set[f] = true
		}
	}
	return set
}

// CollectStream drains a token stream into a single string, returning the
// first error (if any) encountered before the stream closed.
func CollectStream(tokens <-chan string, errs <-chan error) (string, error) {
	var sb strings.Builder
	for tok := range tokens {
		sb.WriteString(tok)
	}
	if err := <-errs; err != nil {
		return "", fmt.Errorf("pipeline.CollectStream: %w", err)
	}
	return sb.String(), nil
}
