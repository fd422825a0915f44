package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrNotConfigured reports a producer that is missing its endpoint or
// credentials. Chains skip such producers instead of failing the request.
var ErrNotConfigured = errors.New("embedding producer not configured")

// Input is the material to embed. Image is optional; producers that cannot
// consume images ignore it.
type Input struct {
	Text  string
	Image string
}

// Producer turns text (and optionally an image URL) into a vector.
type Producer interface {
	Name() string
	Embed(ctx context.Context, input Input) ([]float32, error)
}

// MultimodalClient calls a self-hosted multimodal embedding endpoint that
// accepts text together with an image URL and returns a 4096-dimensional
// vector.
type MultimodalClient struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewMultimodalClient creates a client for the multimodal endpoint. An empty
// endpoint yields a client that reports ErrNotConfigured on use.
func NewMultimodalClient(endpoint, apiKey string, timeout time.Duration) *MultimodalClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &MultimodalClient{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *MultimodalClient) Name() string { return "multimodal" }

// Embed sends text plus the optional image URL and decodes the vector. Both
// a bare {"embedding": [...]} body and the OpenAI-style {"data": [...]}
// envelope are accepted.
func (c *MultimodalClient) Embed(ctx context.Context, input Input) ([]float32, error) {
	if c.endpoint == "" {
		return nil, ErrNotConfigured
	}

	requestBody := map[string]interface{}{
		"text": input.Text,
	}
	if input.Image != "" {
		requestBody["image"] = input.Image
	}
	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding endpoint returned status: %d", resp.StatusCode)
	}

	var body struct {
		Embedding []float32 `json:"embedding"`
		Data      []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	vec := body.Embedding
	if len(vec) == 0 && len(body.Data) > 0 {
		vec = body.Data[0].Embedding
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("embedding endpoint returned no vector")
	}
	return vec, nil
}

// DefaultTextModel is the OpenRouter model used for text-only fallback
// embeddings.
const DefaultTextModel = "qwen/qwen3-embedding-8b"

// TextClient calls an OpenAI-compatible /embeddings endpoint for text-only
// vectors. Used as the fallback when the multimodal endpoint is down or
// unconfigured; its vectors are shorter and live in their own dimension
// space.
type TextClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewTextClient creates the text fallback client. An empty API key yields a
// client that reports ErrNotConfigured on use.
func NewTextClient(baseURL, apiKey, model string, timeout time.Duration) *TextClient {
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	if model == "" {
		model = DefaultTextModel
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TextClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *TextClient) Name() string { return "text" }

// Embed generates a text-only vector; the image input is ignored.
func (c *TextClient) Embed(ctx context.Context, input Input) ([]float32, error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}

	requestBody := map[string]interface{}{
		"model": c.model,
		"input": []string{input.Text},
	}
	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/embeddings", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding API returned status: %d", resp.StatusCode)
	}

	var body struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(body.Data) == 0 || len(body.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embedding API returned no vector")
	}
	return body.Data[0].Embedding, nil
}

// Chain tries producers in order until one succeeds. Unconfigured producers
// are skipped silently; real failures fall through to the next producer and
// the last error is returned when everything fails.
type Chain struct {
	producers []Producer
}

// NewChain builds a fallback chain from the given producers.
func NewChain(producers ...Producer) *Chain {
	return &Chain{producers: producers}
}

func (c *Chain) Name() string { return "chain" }

// Embed walks the chain. Returns ErrNotConfigured only when no producer in
// the chain is usable.
func (c *Chain) Embed(ctx context.Context, input Input) ([]float32, error) {
	var lastErr error
	for _, p := range c.producers {
		vec, err := p.Embed(ctx, input)
		if err == nil {
			return vec, nil
		}
		if errors.Is(err, ErrNotConfigured) {
			continue
		}
		lastErr = fmt.Errorf("%s: %w", p.Name(), err)
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrNotConfigured
}
