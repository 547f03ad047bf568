// Package llm generates grounded answers through the Ollama API.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// DefaultModel is the stock generation model.
const DefaultModel = "mistral"

// DefaultTimeout bounds one generation call. Local models on modest
// hardware can take minutes on long contexts.
const DefaultTimeout = 180 * time.Second

const statusTimeout = 5 * time.Second

// NoContextAnswer is returned without calling the model when there
// are no context documents to ground an answer in.
const NoContextAnswer = "No information available to answer this query."

// Client calls the Ollama generation endpoint and tracks token usage.
type Client struct {
	baseURL string
	model   string
	httpc   *http.Client

	generations    atomic.Int64
	promptTokens   atomic.Int64
	responseTokens atomic.Int64
}

// Usage is the cumulative generation accounting for /api/status.
type Usage struct {
	Generations    int64 `json:"generations"`
	PromptTokens   int64 `json:"prompt_tokens"`
	ResponseTokens int64 `json:"response_tokens"`
}

// NewClient builds a generation client. Zero values fall back to the
// defaults.
func NewClient(baseURL, model string, timeout time.Duration) *Client {
	if model == "" {
		model = DefaultModel
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		model:   model,
		httpc:   &http.Client{Timeout: timeout},
	}
}

// Model returns the configured generation model name.
func (c *Client) Model() string {
	return c.model
}

// Usage returns the cumulative token accounting.
func (c *Client) Usage() Usage {
	return Usage{
		Generations:    c.generations.Load(),
		PromptTokens:   c.promptTokens.Load(),
		ResponseTokens: c.responseTokens.Load(),
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response        string `json:"response"`
	PromptEvalCount int64  `json:"prompt_eval_count"`
	EvalCount       int64  `json:"eval_count"`
}

// Generate answers the query grounded strictly in the given context
// documents. With no contexts it returns the canned answer without a
// model call.
func (c *Client) Generate(ctx context.Context, query string, contexts []string) (string, error) {
	if len(contexts) == 0 {
		return NoContextAnswer, nil
	}

	body, err := json.Marshal(generateRequest{
		Model:  c.model,
		Prompt: buildPrompt(query, contexts),
		Stream: false,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode generation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build generation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("generation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generation request failed: %s", resp.Status)
	}

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode generation response: %w", err)
	}

	c.generations.Add(1)
	c.promptTokens.Add(result.PromptEvalCount)
	c.responseTokens.Add(result.EvalCount)

	return strings.TrimSpace(result.Response), nil
}

// Available probes the Ollama tag list and reports whether the
// configured model is present. It never blocks longer than the status
// timeout.
func (c *Client) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false
	}

	// Tag names carry suffixes like "mistral:latest".
	for _, m := range tags.Models {
		if strings.Contains(m.Name, c.model) {
			return true
		}
	}
	return false
}

func buildPrompt(query string, contexts []string) string {
	parts := make([]string, 0, len(contexts))
	for i, content := range contexts {
		parts = append(parts, fmt.Sprintf("Document %d:\n%s", i+1, content))
	}

	return fmt.Sprintf(`You are a security analyst assistant. Answer the following question using ONLY the provided context documents. Be concise and accurate.

Context:
%s

Question: %s

Answer:`, strings.Join(parts, "\n\n"), query)
}
