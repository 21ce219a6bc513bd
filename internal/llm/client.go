// Package llm provides a thin client for an OpenAI-compatible language model
// API: chat completions for extraction and question answering, embeddings
// for the retrieval index.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/mjv57/medical-doc-processor/pkg/circuitbreaker"
)

// Config holds client configuration.
type Config struct {
	// BaseURL is the API base, e.g. https://api.openai.com/v1.
	BaseURL string
	// APIKey is sent as a bearer token.
	APIKey string
	// ChatModel is the completion model name.
	ChatModel string
	// EmbeddingModel is the embeddings model name.
	EmbeddingModel string
	// Timeout bounds a single request.
	Timeout time.Duration
}

// DefaultConfig returns defaults matching the hosted OpenAI API.
func DefaultConfig(apiKey string) Config {
	return Config{
		BaseURL:        "https://api.openai.com/v1",
		APIKey:         apiKey,
		ChatModel:      "gpt-3.5-turbo",
		EmbeddingModel: "text-embedding-ada-002",
		Timeout:        60 * time.Second,
	}
}

// Client calls the model API with retry and circuit breaker protection.
type Client struct {
	config  Config
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// New creates a client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	breaker, err := circuitbreaker.New(circuitbreaker.DefaultConfig("llm"), logger)
	if err != nil {
		return nil, err
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.Logger = nil
	rc.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &Client{
		config:  cfg,
		client:  rc.StandardClient(),
		breaker: breaker,
		logger:  logger,
	}, nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends a single-user-message chat completion and returns the model
// text. Temperature is pinned to zero: extraction must be repeatable.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	reqBody := chatRequest{
		Model:       c.config.ChatModel,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: 0,
	}

	var resp chatResponse
	if err := c.post(ctx, "/chat/completions", reqBody, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("model returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed returns one vector per input text, in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	reqBody := embeddingRequest{Model: c.config.EmbeddingModel, Input: texts}

	var resp embeddingResponse
	if err := c.post(ctx, "/embeddings", reqBody, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	vectors := make([][]float64, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding index %d out of range", item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	result, err := c.breaker.Execute(ctx, func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("send request: %w", err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("model API returned status %d: %s", resp.StatusCode, truncate(string(raw), 200))
		}
		return raw, nil
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(result.([]byte), out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
