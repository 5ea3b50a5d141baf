package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// BYOLLMProvider implements Provider for OpenAI-compatible chat completion
// APIs (OpenRouter, self-hosted vLLM, etc). Used for the pipeline's
// bring-your-own-LLM override path when a caller supplies its own API key.
type BYOLLMProvider struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewBYOLLMProvider creates a BYOLLMProvider. baseURL defaults to
// OpenRouter's endpoint when empty.
func NewBYOLLMProvider(apiKey, baseURL, model string) *BYOLLMProvider {
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	return &BYOLLMProvider{
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
	Stream      bool            `json:"stream,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *BYOLLMProvider) GenerateContent(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxTokens int) (string, error) {
	reqBody := openAIRequest{
		Model:       c.model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Messages: []openAIMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("llm.BYOLLMProvider.GenerateContent: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("llm.BYOLLMProvider.GenerateContent: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm.BYOLLMProvider.GenerateContent: call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("llm.BYOLLMProvider.GenerateContent: read body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", fmt.Errorf("llm.BYOLLMProvider.GenerateContent: %w: auth failed: %d", ErrProviderUnavailable, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("llm.BYOLLMProvider.GenerateContent: %w: rate limited", ErrProviderUnavailable)
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("llm.BYOLLMProvider.GenerateContent: %w: server error %d", ErrProviderUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("llm.BYOLLMProvider.GenerateContent: unexpected status %d", resp.StatusCode)
	}

	var parsed openAIResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("llm.BYOLLMProvider.GenerateContent: decode: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("llm.BYOLLMProvider.GenerateContent: %w: %s", ErrProviderUnavailable, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("llm.BYOLLMProvider.GenerateContent: %w: empty response", ErrProviderUnavailable)
	}
	return parsed.Choices[0].Message.Content, nil
}

func (c *BYOLLMProvider) GenerateContentStream(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxTokens int) (<-chan string, <-chan error) {
	textCh := make(chan string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(textCh)
		defer close(errCh)
		if err := c.streamChatCompletion(ctx, systemPrompt, userPrompt, temperature, maxTokens, textCh); err != nil {
			errCh <- err
		}
	}()

	return textCh, errCh
}

func (c *BYOLLMProvider) streamChatCompletion(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxTokens int, textCh chan<- string) error {
	reqBody := openAIRequest{
		Model:       c.model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Stream:      true,
		Messages: []openAIMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("llm.BYOLLMProvider.streamChatCompletion: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("llm.BYOLLMProvider.streamChatCompletion: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("llm.BYOLLMProvider.streamChatCompletion: call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("llm.BYOLLMProvider.streamChatCompletion: status %d: %s", resp.StatusCode, body)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk openAIStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Error != nil {
			return fmt.Errorf("llm.BYOLLMProvider.streamChatCompletion: %w: %s", ErrProviderUnavailable, chunk.Error.Message)
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				textCh <- choice.Delta.Content
			}
		}
	}
	return scanner.Err()
}
