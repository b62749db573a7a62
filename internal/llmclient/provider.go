package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/journalctl/core/internal/apperrors"
)

// CallResult is what a provider adapter returns for one completion call
// (spec §4.F "Each call returns {text, tokensIn, tokensOut, raw}").
type CallResult struct {
	Text      string
	TokensIn  int
	TokensOut int
	Raw       json.RawMessage
}

// Provider is an LLM backend adapter: an OpenAI-style Responses API or an
// Anthropic-style Messages API client (spec §4.F "Providers").
type Provider interface {
	Complete(ctx context.Context, systemPrompt, userContent, model string) (CallResult, error)
}

// httpDoer is satisfied by *http.Client; narrowed for test doubles.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// openAIProvider calls an OpenAI-style Responses API endpoint.
type openAIProvider struct {
	httpClient httpDoer
	baseURL    string
	apiKey     string
}

// NewOpenAIProvider builds an OpenAI-style adapter. baseURL defaults to the
// public API when empty, to allow test doubles to point at a local server.
func NewOpenAIProvider(apiKey, baseURL string) Provider {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1/responses"
	}
	return &openAIProvider{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
	}
}

type openAIRequest struct {
	Model string `json:"model"`
	Input []openAIMessage `json:"input"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	OutputText string `json:"output_text"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (p *openAIProvider) Complete(ctx context.Context, systemPrompt, userContent, model string) (CallResult, error) {
	body, err := json.Marshal(openAIRequest{
		Model: model,
		Input: []openAIMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userContent},
		},
	})
	if err != nil {
		return CallResult{}, fmt.Errorf("marshal openai request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(body))
	if err != nil {
		return CallResult{}, fmt.Errorf("build openai request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return CallResult{}, apperrors.NewLlmProviderError("openai", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return CallResult{}, apperrors.NewLlmProviderError("openai", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusTooManyRequests {
		return CallResult{}, apperrors.NewLlmProviderErrorNonRetriable("openai", fmt.Errorf("status %d: %s", resp.StatusCode, raw))
	}
	if resp.StatusCode >= 400 {
		return CallResult{}, apperrors.NewLlmProviderError("openai", fmt.Errorf("status %d: %s", resp.StatusCode, raw))
	}

	var parsed openAIResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return CallResult{}, apperrors.NewLlmProviderError("openai", fmt.Errorf("decode response: %w", err))
	}

	return CallResult{
		Text:      parsed.OutputText,
		TokensIn:  parsed.Usage.InputTokens,
		TokensOut: parsed.Usage.OutputTokens,
		Raw:       raw,
	}, nil
}

// anthropicProvider calls an Anthropic-style Messages API endpoint.
type anthropicProvider struct {
	httpClient httpDoer
	baseURL    string
	apiKey     string
}

// NewAnthropicProvider builds an Anthropic-style adapter.
func NewAnthropicProvider(apiKey, baseURL string) Provider {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1/messages"
	}
	return &anthropicProvider{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
	}
}

type anthropicRequest struct {
	Model     string              `json:"model"`
	System    string              `json:"system"`
	MaxTokens int                 `json:"max_tokens"`
	Messages  []anthropicMessage  `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (p *anthropicProvider) Complete(ctx context.Context, systemPrompt, userContent, model string) (CallResult, error) {
	body, err := json.Marshal(anthropicRequest{
		Model:     model,
		System:    systemPrompt,
		MaxTokens: 4096,
		Messages:  []anthropicMessage{{Role: "user", Content: userContent}},
	})
	if err != nil {
		return CallResult{}, fmt.Errorf("marshal anthropic request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(body))
	if err != nil {
		return CallResult{}, fmt.Errorf("build anthropic request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return CallResult{}, apperrors.NewLlmProviderError("anthropic", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return CallResult{}, apperrors.NewLlmProviderError("anthropic", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusTooManyRequests {
		return CallResult{}, apperrors.NewLlmProviderErrorNonRetriable("anthropic", fmt.Errorf("status %d: %s", resp.StatusCode, raw))
	}
	if resp.StatusCode >= 400 {
		return CallResult{}, apperrors.NewLlmProviderError("anthropic", fmt.Errorf("status %d: %s", resp.StatusCode, raw))
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return CallResult{}, apperrors.NewLlmProviderError("anthropic", fmt.Errorf("decode response: %w", err))
	}

	text := ""
	if len(parsed.Content) > 0 {
		text = parsed.Content[0].Text
	}

	return CallResult{
		Text:      text,
		TokensIn:  parsed.Usage.InputTokens,
		TokensOut: parsed.Usage.OutputTokens,
		Raw:       raw,
	}, nil
}
