package llm

import (
	"context"
	"fmt"

	"github.com/connexus-ai/ragbox-backend/internal/config"
	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// LLMCaller is the pipeline's sole entry point for invoking a language
// model. Callers name a task, not a provider/model pair: LLMCaller resolves
// the pair from the ConfigRegistry and dispatches to the matching Provider.
// It never retries across providers on failure; retry policy lives inside
// each provider, not here.
type LLMCaller struct {
	registry  *config.ConfigRegistry
	providers map[string]Provider
}

// NewLLMCaller builds an LLMCaller over a registry and a set of providers
// keyed by the provider name used in ConfigRegistry entries (e.g. "vertexai",
// "byollm").
func NewLLMCaller(registry *config.ConfigRegistry, providers map[string]Provider) *LLMCaller {
	return &LLMCaller{registry: registry, providers: providers}
}

// Call performs a synchronous completion for task over messages.
func (c *LLMCaller) Call(ctx context.Context, task config.TaskName, messages []model.Message) (CallResult, error) {
	mc, provider, err := c.resolve(task)
	if err != nil {
		return CallResult{}, err
	}

	systemPrompt, userPrompt := renderPrompt(messages)
	text, err := provider.GenerateContent(ctx, systemPrompt, userPrompt, mc.Temperature, mc.MaxTokens)
	if err != nil {
		return CallResult{}, fmt.Errorf("llm.LLMCaller.Call: task %q: %w", task, err)
	}

	return CallResult{Text: text}, nil
}

// Stream performs a streaming completion for task over messages. The
// returned channel yields tokens as they arrive and closes on completion.
func (c *LLMCaller) Stream(ctx context.Context, task config.TaskName, messages []model.Message) (<-chan string, <-chan error) {
	mc, provider, err := c.resolve(task)
	if err != nil {
		errCh := make(chan error, 1)
		errCh <- err
		close(errCh)
		textCh := make(chan string)
		close(textCh)
		return textCh, errCh
	}

	systemPrompt, userPrompt := renderPrompt(messages)
	return provider.GenerateContentStream(ctx, systemPrompt, userPrompt, mc.Temperature, mc.MaxTokens)
}

func (c *LLMCaller) resolve(task config.TaskName) (config.ModelConfig, Provider, error) {
	mc, err := c.registry.Lookup(task)
	if err != nil {
		return config.ModelConfig{}, nil, fmt.Errorf("llm.LLMCaller: %w", err)
	}

	provider, ok := c.providers[mc.Provider]
	if !ok {
		return config.ModelConfig{}, nil, fmt.Errorf("llm.LLMCaller: %w: no provider registered for %q", ErrProviderUnavailable, mc.Provider)
	}
	return mc, provider, nil
}
