package gen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// LlamaConfig controls the llama-server backend.
type LlamaConfig struct {
	Endpoint    string
	Temperature float64
	System      string
}

// Llama implements pipeline.Generator against a llama-server's
// OpenAI-compatible chat completions endpoint.
type Llama struct {
	client *http.Client
	cfg    LlamaConfig
}

// NewLlama constructs the backend.
func NewLlama(cfg LlamaConfig, client *http.Client) *Llama {
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.3
	}
	return &Llama{client: client, cfg: cfg}
}

// Name identifies the backend in logs and metrics.
func (l *Llama) Name() string { return "llama" }

type llamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type llamaRequest struct {
	Messages    []llamaMessage `json:"messages"`
	Stream      bool           `json:"stream"`
	Temperature float64        `json:"temperature"`
}

type llamaResponse struct {
	Choices []struct {
		Message llamaMessage `json:"message"`
	} `json:"choices"`
}

// Generate posts a chat completion request and returns the first choice.
func (l *Llama) Generate(ctx context.Context, prompt string) (string, error) {
	messages := make([]llamaMessage, 0, 2)
	if l.cfg.System != "" {
		messages = append(messages, llamaMessage{Role: "system", Content: l.cfg.System})
	}
	messages = append(messages, llamaMessage{Role: "user", Content: prompt})

	payload, err := json.Marshal(llamaRequest{
		Messages:    messages,
		Stream:      false,
		Temperature: l.cfg.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal llama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build llama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("llama request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("llama status %d: %s", resp.StatusCode, body)
	}

	var parsed llamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode llama response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("llama returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}
