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

	"cloud.google.com/go/vertexai/genai"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/iterator"
)

// VertexAIProvider implements Provider over Google's Gemini family. Regional
// locations use the Go SDK; the "global" location falls back to the raw REST
// API, which the SDK does not support.
type VertexAIProvider struct {
	client     *genai.Client // nil when using the global endpoint
	httpClient *http.Client  // used only for global-endpoint REST calls
	project    string
	location   string
	model      string
	useREST    bool
}

// NewVertexAIProvider creates a VertexAIProvider bound to one model.
func NewVertexAIProvider(ctx context.Context, project, location, model string) (*VertexAIProvider, error) {
	if location == "global" {
		httpClient, err := google.DefaultClient(ctx, "https://www.googleapis.com/auth/cloud-platform")
		if err != nil {
			return nil, fmt.Errorf("llm.NewVertexAIProvider: default credentials: %w", err)
		}
		return &VertexAIProvider{httpClient: httpClient, project: project, location: location, model: model, useREST: true}, nil
	}

	client, err := genai.NewClient(ctx, project, location)
	if err != nil {
		return nil, fmt.Errorf("llm.NewVertexAIProvider: %w", err)
	}
	return &VertexAIProvider{client: client, project: project, location: location, model: model}, nil
}

func (p *VertexAIProvider) GenerateContent(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxTokens int) (string, error) {
	return withRetry(ctx, "VertexAIProvider.GenerateContent", func() (string, error) {
		if p.useREST {
			return p.generateREST(ctx, systemPrompt, userPrompt, temperature, maxTokens)
		}
		return p.generateSDK(ctx, systemPrompt, userPrompt, temperature, maxTokens)
	})
}

func (p *VertexAIProvider) generateSDK(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxTokens int) (string, error) {
	m := p.client.GenerativeModel(p.model)
	if systemPrompt != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}
	}
	t := float32(temperature)
	m.Temperature = &t
	mt := int32(maxTokens)
	m.MaxOutputTokens = &mt

	resp, err := m.GenerateContent(ctx, genai.Text(userPrompt))
	if err != nil {
		return "", fmt.Errorf("llm.VertexAIProvider.generateSDK: %w", err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("llm.VertexAIProvider.generateSDK: %w: empty response", ErrProviderUnavailable)
	}

	var parts []string
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			parts = append(parts, string(t))
		}
	}
	return strings.Join(parts, ""), nil
}

type restGenerateRequest struct {
	Contents          []restContent         `json:"contents"`
	SystemInstruction *restContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *restGenerationConfig `json:"generationConfig,omitempty"`
}

type restContent struct {
	Role  string     `json:"role"`
	Parts []restPart `json:"parts"`
}

type restPart struct {
	Text string `json:"text"`
}

type restGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

type restGenerateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *VertexAIProvider) endpointURL(stream bool) string {
	verb := "generateContent"
	suffix := ""
	if stream {
		verb = "streamGenerateContent"
		suffix = "?alt=sse"
	}
	return fmt.Sprintf(
		"https://aiplatform.googleapis.com/v1/projects/%s/locations/global/publishers/google/models/%s:%s%s",
		p.project, p.model, verb, suffix,
	)
}

func (p *VertexAIProvider) buildRequest(systemPrompt, userPrompt string, temperature float64, maxTokens int) restGenerateRequest {
	req := restGenerateRequest{
		Contents: []restContent{{Role: "user", Parts: []restPart{{Text: userPrompt}}}},
		GenerationConfig: &restGenerationConfig{
			Temperature:     &temperature,
			MaxOutputTokens: &maxTokens,
		},
	}
	if systemPrompt != "" {
		req.SystemInstruction = &restContent{Role: "user", Parts: []restPart{{Text: systemPrompt}}}
	}
	return req
}

func (p *VertexAIProvider) generateREST(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxTokens int) (string, error) {
	bodyBytes, err := json.Marshal(p.buildRequest(systemPrompt, userPrompt, temperature, maxTokens))
	if err != nil {
		return "", fmt.Errorf("llm.VertexAIProvider.generateREST: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.endpointURL(false), bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("llm.VertexAIProvider.generateREST: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm.VertexAIProvider.generateREST: call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("llm.VertexAIProvider.generateREST: read body: %w", err)
	}
	if isRetryableStatus(resp.StatusCode) {
		return "", fmt.Errorf("llm.VertexAIProvider.generateREST: %w: status %d: %s", errTransient, resp.StatusCode, respBody)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llm.VertexAIProvider.generateREST: %w: status %d: %s", ErrProviderUnavailable, resp.StatusCode, respBody)
	}

	var parsed restGenerateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("llm.VertexAIProvider.generateREST: decode: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("llm.VertexAIProvider.generateREST: %w: api error %d: %s", ErrProviderUnavailable, parsed.Error.Code, parsed.Error.Message)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("llm.VertexAIProvider.generateREST: %w: empty response", ErrProviderUnavailable)
	}

	var parts []string
	for _, part := range parsed.Candidates[0].Content.Parts {
		if part.Text != "" {
			parts = append(parts, part.Text)
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("llm.VertexAIProvider.generateREST: %w: no text in response", ErrProviderUnavailable)
	}
	return strings.Join(parts, ""), nil
}

func (p *VertexAIProvider) GenerateContentStream(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxTokens int) (<-chan string, <-chan error) {
	textCh := make(chan string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(textCh)
		defer close(errCh)

		var err error
		if p.useREST {
			err = p.streamREST(ctx, systemPrompt, userPrompt, temperature, maxTokens, textCh)
		} else {
			err = p.streamSDK(ctx, systemPrompt, userPrompt, temperature, maxTokens, textCh)
		}
		if err != nil {
			errCh <- err
		}
	}()

	return textCh, errCh
}

func (p *VertexAIProvider) streamSDK(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxTokens int, textCh chan<- string) error {
	m := p.client.GenerativeModel(p.model)
	if systemPrompt != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}
	}
	t := float32(temperature)
	m.Temperature = &t
	mt := int32(maxTokens)
	m.MaxOutputTokens = &mt

	iter := m.GenerateContentStream(ctx, genai.Text(userPrompt))
	for {
		resp, err := iter.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return fmt.Errorf("llm.VertexAIProvider.streamSDK: %w", err)
		}
		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					textCh <- string(t)
				}
			}
		}
	}
}

func (p *VertexAIProvider) streamREST(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxTokens int, textCh chan<- string) error {
	bodyBytes, err := json.Marshal(p.buildRequest(systemPrompt, userPrompt, temperature, maxTokens))
	if err != nil {
		return fmt.Errorf("llm.VertexAIProvider.streamREST: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.endpointURL(true), bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("llm.VertexAIProvider.streamREST: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("llm.VertexAIProvider.streamREST: call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("llm.VertexAIProvider.streamREST: status %d: %s", resp.StatusCode, body)
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

		var chunk restGenerateResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		for _, cand := range chunk.Candidates {
			for _, part := range cand.Content.Parts {
				if part.Text != "" {
					textCh <- part.Text
				}
			}
		}
	}
	return scanner.Err()
}

// Close releases the underlying SDK client, if one was created.
func (p *VertexAIProvider) Close() {
	if p.client != nil {
		p.client.Close()
	}
}
