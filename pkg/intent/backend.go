package intent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Provider names a reasoning backend implementation.
type Provider string

const (
	ProviderOpenAI   Provider = "openai"
	ProviderLMStudio Provider = "lmstudio"
	ProviderOllama   Provider = "ollama"
)

// Backend answers free-form prompts.
type Backend interface {
	Name() string
	Complete(ctx context.Context, prompt string) (string, error)
}

// BackendConfig configures a reasoning backend.
type BackendConfig struct {
	Provider Provider
	Endpoint string
	Model    string
	APIKey   string
	Timeout  time.Duration
}

// withDefaults fills provider-specific defaults.
func (c BackendConfig) withDefaults() BackendConfig {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	switch c.Provider {
	case ProviderOpenAI:
		if c.Endpoint == "" {
			c.Endpoint = "https://api.openai.com"
		}
		if c.Model == "" {
			c.Model = "gpt-4o-mini"
		}
	case ProviderLMStudio:
		if c.Endpoint == "" {
			c.Endpoint = "http://localhost:1234"
		}
		if c.Model == "" {
			c.Model = "local-model"
		}
	case ProviderOllama:
		if c.Endpoint == "" {
			c.Endpoint = "http://localhost:11434"
		}
		if c.Model == "" {
			c.Model = "llama3.1"
		}
	}
	return c
}

// NewBackend creates the backend selected by cfg.Provider.
func NewBackend(cfg BackendConfig) (Backend, error) {
	cfg = cfg.withDefaults()
	client := &http.Client{Timeout: cfg.Timeout}

	switch cfg.Provider {
	case ProviderOpenAI, ProviderLMStudio:
		return &ChatCompletionsBackend{name: string(cfg.Provider), cfg: cfg, client: client}, nil
	case ProviderOllama:
		return &OllamaBackend{cfg: cfg, client: client}, nil
	default:
		return nil, fmt.Errorf("unsupported reasoning provider %q", cfg.Provider)
	}
}

// ChatCompletionsBackend talks to an OpenAI-compatible /v1/chat/completions endpoint.
type ChatCompletionsBackend struct {
	name   string
	cfg    BackendConfig
	client *http.Client
}

// Name implements Backend.
func (b *ChatCompletionsBackend) Name() string { return b.name }

// Complete implements Backend.
func (b *ChatCompletionsBackend) Complete(ctx context.Context, prompt string) (string, error) {
	payload := map[string]any{
		"model": b.cfg.Model,
		"messages": []map[string]string{
			{"role": "system", "content": "You review Terraform changes for a deployment gate. Be concise."},
			{"role": "user", "content": prompt},
		},
		"temperature": 0.2,
		"max_tokens":  300,
	}

	headers := map[string]string{}
	if b.cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + b.cfg.APIKey
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	endpoint := strings.TrimSuffix(b.cfg.Endpoint, "/") + "/v1/chat/completions"
	if err := postJSON(ctx, b.client, endpoint, payload, headers, &out); err != nil {
		return "", fmt.Errorf("%s: %w", b.name, err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%s: empty choices", b.name)
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

// OllamaBackend talks to the Ollama /api/generate endpoint.
type OllamaBackend struct {
	cfg    BackendConfig
	client *http.Client
}

// Name implements Backend.
func (b *OllamaBackend) Name() string { return string(ProviderOllama) }

// Complete implements Backend.
func (b *OllamaBackend) Complete(ctx context.Context, prompt string) (string, error) {
	request := struct {
		Model  string `json:"model"`
		Prompt string `json:"prompt"`
		Stream bool   `json:"stream"`
	}{Model: b.cfg.Model, Prompt: prompt}

	var out struct {
		Response string `json:"response"`
		Done     bool   `json:"done"`
	}
	endpoint := strings.TrimSuffix(b.cfg.Endpoint, "/") + "/api/generate"
	if err := postJSON(ctx, b.client, endpoint, request, nil, &out); err != nil {
		return "", fmt.Errorf("ollama: %w", err)
	}
	return strings.TrimSpace(out.Response), nil
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any, headers map[string]string, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
