package providers

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

// Ollama talks to a local Ollama server over its native HTTP API.
type Ollama struct {
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

// NewOllama creates an Ollama provider. A zero timeout defaults to 30s.
func NewOllama(baseURL, model string, timeout time.Duration) *Ollama {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Ollama{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Model:      model,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// Generate completes a bare prompt via /api/generate.
func (o *Ollama) Generate(ctx context.Context, prompt string) (string, error) {
	body := map[string]any{
		"model":  o.Model,
		"prompt": prompt,
		"stream": false,
	}
	raw, err := o.post(ctx, "/api/generate", body)
	if err != nil {
		return "", err
	}

	var resp struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("parse generate response: %w", err)
	}
	return resp.Response, nil
}

// GenerateWithContext completes prompt as the next user turn via
// /api/chat, with history as the preceding messages.
func (o *Ollama) GenerateWithContext(ctx context.Context, prompt string, history []Message) (string, error) {
	messages := make([]Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, Message{Role: "user", Content: prompt})

	body := map[string]any{
		"model":    o.Model,
		"messages": messages,
		"stream":   false,
	}
	raw, err := o.post(ctx, "/api/chat", body)
	if err != nil {
		return "", err
	}

	var resp struct {
		Message Message `json:"message"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("parse chat response: %w", err)
	}
	return resp.Message.Content, nil
}

// HealthCheck probes /api/tags.
func (o *Ollama) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.BaseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := o.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama health check returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// Info returns the provider identity.
func (o *Ollama) Info() ModelInfo {
	return ModelInfo{Provider: "ollama", Model: o.Model}
}

func (o *Ollama) post(ctx context.Context, path string, body map[string]any) ([]byte, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.BaseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}
