package main

import (
	"context"
	"strings"
	"sync"

	"github.com/connexus-ai/ragbox-backend/internal/config"
	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/pipeline"
)

// inDomainKeywords gates demoCaller's rule-based domain classification: a
// question mentioning any of these is treated as in-domain, everything
// else as out-of-domain. A real deployment asks an LLM this question
// instead of matching keywords.
var inDomainKeywords = []string{
	"brake", "h6", "jolion", "warranty", "service", "vin", "vehicle",
	"engine", "tyre", "tire", "dealership", "maintenance", "recall",
}

// demoCaller is a rule-based stand-in for llm.LLMCaller: it implements
// every task a real Caller/StreamCaller would, but never makes a network
// call, so this binary runs without any provider credentials configured.
type demoCaller struct{}

func newDemoCaller() *demoCaller {
	return &demoCaller{}
}

func (d *demoCaller) Call(ctx context.Context, task config.TaskName, messages []model.Message) (pipeline.CallResult, error) {
	question := lastMessage(messages)

	switch task {
	case config.TaskDomainClassification:
		if containsAny(strings.ToLower(question), inDomainKeywords) {
			return pipeline.CallResult{Text: "in_domain"}, nil
		}
		return pipeline.CallResult{Text: "out_of_domain"}, nil

	case config.TaskContextSelection:
		return pipeline.CallResult{Text: "CONTINUATION"}, nil

	case config.TaskEntityExtraction:
		return pipeline.CallResult{Text: `{"entities":[]}`}, nil

	case config.TaskFormatDetection:
		return pipeline.CallResult{Text: "NONE"}, nil

	case config.TaskCompression:
		return pipeline.CallResult{Text: truncateWords(question, 50)}, nil

	case config.TaskReformulation:
		return pipeline.CallResult{Text: question}, nil

	case config.TaskCitationCheck:
		return pipeline.CallResult{Text: "yes"}, nil

	case config.TaskKeywordExtraction:
		return pipeline.CallResult{Text: question}, nil

	default:
		return pipeline.CallResult{Text: ""}, nil
	}
}

// Stream backs AnswerGenerator. It builds a short answer from whatever
// appeared under the prompt's CONTEXT section and streams it word by word,
// the same token-at-a-time shape a real streaming provider returns.
func (d *demoCaller) Stream(ctx context.Context, task config.TaskName, messages []model.Message) (<-chan string, <-chan error) {
	prompt := lastMessage(messages)
	answer := composeAnswer(prompt)

	tokens := make(chan string)
	errs := make(chan error, 1)
	go func() {
		defer close(tokens)
		defer close(errs)
		for _, w := range strings.Fields(answer) {
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			case tokens <- w + " ":
			}
		}
	}()
	return tokens, errs
}

// Embed backs the Embedder interface RetrievalPath and CachingEmbedder
// depend on, using the same illustrative bag-of-words hash as seedCorpus.
func (d *demoCaller) Embed(ctx context.Context, text string) ([]float32, error) {
	return bagOfWordsVector(text, 0), nil
}

func composeAnswer(prompt string) string {
	const marker = "=== CONTEXT ==="
	idx := strings.Index(prompt, marker)
	if idx < 0 {
		return "I don't have enough information to answer that."
	}
	contextSection := prompt[idx+len(marker):]
	if end := strings.Index(contextSection, "==="); end >= 0 {
		contextSection = contextSection[:end]
	}
	contextSection = strings.TrimSpace(contextSection)

	if strings.Contains(contextSection, "No matching content was found") {
		return "I couldn't find anything in the corpus about that."
	}
	return "Based on the dealership records: " + truncateWords(contextSection, 60)
}

func lastMessage(messages []model.Message) string {
	if len(messages) == 0 {
		return ""
	}
	return messages[len(messages)-1].Content
}

func containsAny(text string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}

func truncateWords(text string, max int) string {
	words := strings.Fields(text)
	if len(words) <= max {
		return text
	}
	return strings.Join(words[:max], " ") + "..."
}

// bagOfWordsVector is a deterministic, illustrative stand-in for a real
// embedding call: it hashes each word into one of a fixed number of
// buckets, so textually similar passages land closer together under
// cosine similarity than unrelated ones. It is not a real embedding model.
func bagOfWordsVector(text string, seed int) []float32 {
	const dims = 16
	vec := make([]float32, dims)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := 0
		for _, r := range w {
			h = h*31 + int(r)
		}
		if h < 0 {
			h = -h
		}
		vec[h%dims]++
	}
	vec[seed%dims] += 0.5
	return vec
}

// demoSessionStore is an in-memory sessionStore, standing in for
// memory.SessionMemory's Redis-backed one.
type demoSessionStore struct {
	mu      sync.Mutex
	history map[string][]model.Message
}

func newDemoSessionStore() *demoSessionStore {
	return &demoSessionStore{history: map[string][]model.Message{}}
}

func (s *demoSessionStore) Append(ctx context.Context, sessionID string, role model.Role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[sessionID] = append(s.history[sessionID], model.Message{Role: role, Content: content})
	return nil
}

func (s *demoSessionStore) History(ctx context.Context, sessionID string) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Message(nil), s.history[sessionID]...), nil
}
