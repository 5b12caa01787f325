// anthropic.go -- Anthropic messages API client.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// messagesURL is a var so tests can point it at a local httptest server.
var messagesURL = "https://api.anthropic.com/v1/messages"

// apiVersion is the anthropic-version header value; pinned so a provider-side
// default change cannot alter response shapes under us.
const apiVersion = "2023-06-01"

// Client calls the Anthropic messages endpoint for short completions.
type Client struct {
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewClient returns a Client for the given API key and model.
// Uses a 30s timeout on the outbound HTTP client.
func NewClient(apiKey, model string) *Client {
	return &Client{
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Complete issues one completion request and returns the text of the first
// content block. Any failure -- network, non-2xx status, empty response -- is
// returned to the caller untouched; there is no local retry, because a failed
// generation must abort the post attempt rather than publish blank content.
func (c *Client) Complete(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	reqBody, err := json.Marshal(struct {
		Model       string    `json:"model"`
		MaxTokens   int       `json:"max_tokens"`
		Temperature float64   `json:"temperature"`
		System      string    `json:"system"`
		Messages    []message `json:"messages"`
	}{
		Model:       c.model,
		MaxTokens:   maxTokens,
		Temperature: 0.9,
		System:      system,
		Messages:    []message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic: building request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, messagesURL, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("anthropic: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("anthropic: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("anthropic: status %d: %s", resp.StatusCode, body)
	}

	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("anthropic: decoding response: %w", err)
	}

	for _, block := range result.Content {
		if block.Type == "text" && block.Text != "" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("anthropic: response contained no text content")
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
