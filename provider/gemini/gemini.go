package gemini_provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/typelark/fontdex/models"
)

const geminiAPIURL = "https://generativelanguage.googleapis.com/v1beta"

// DefaultModel is used when the configuration leaves the model blank.
const DefaultModel = "gemini-2.0-flash"

// InvalidResponseError reports a model response that was not the JSON shape
// we asked for. Raw keeps the payload for diagnostics.
type InvalidResponseError struct {
	Raw string
	Err error
}

func (e *InvalidResponseError) Error() string {
	return fmt.Sprintf("invalid model response: %v", e.Err)
}

func (e *InvalidResponseError) Unwrap() error { return e.Err }

// client implements the provider interface using Google's Gemini API
type client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewGeminiClient creates a new Gemini client
func NewGeminiClient(apiKey, model string, timeout time.Duration) *client {
	if model == "" {
		model = DefaultModel
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &client{
		apiKey:     apiKey,
		model:      model,
		baseURL:    geminiAPIURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// SuggestFonts asks the model for font recommendations as structured JSON.
// Catalog context fonts are listed in rank order to anchor the suggestions.
func (c *client) SuggestFonts(ctx context.Context, message string, history []models.ChatMessage, catalog []models.Font) (models.SearchResponse, error) {
	systemPrompt := `
You are a typography expert helping users pick font families. Suggest real,
well-known font families that match the request.

RULES:
1. Suggest between 16 and 24 font families, best matches first
2. Use the exact canonical family name (e.g. "Abril Fatface", not "abril-fatface")
3. Keep the reply conversational and short; never mention JSON or technical terms
4. Every suggestion needs a one-sentence description, a category and a few tags

RESPONSE FORMAT:
Respond ONLY with valid JSON in the following format:
{
  "reply": "Your conversational response to the user",
  "fonts": [
    {"name": "Family Name", "desc": "one sentence", "category": "serif|sans-serif|display|handwriting|monospace", "tags": ["array", "of", "strings"]}
  ]
}
Do not include any other text or explanation.
`
	var historyLines []string
	for _, msg := range history {
		historyLines = append(historyLines, fmt.Sprintf("%s: %s", msg.Role, msg.Text))
	}
	var catalogLines []string
	for _, font := range catalog {
		catalogLines = append(catalogLines, fmt.Sprintf("- %s (%s): %s [%s]",
			font.Name, font.Category, font.Description, strings.Join(font.Tags, ", ")))
	}
	userPrompt := fmt.Sprintf(`
CONTEXT HISTORY:
[%s]

CATALOG MATCHES (best first, prefer these when they fit):
%s

USER MESSAGE: "%s"
`, strings.Join(historyLines, "\n"), strings.Join(catalogLines, "\n"), message)

	responseStr, err := c.sendRequest(ctx, systemPrompt, userPrompt)
	if err != nil {
		return models.SearchResponse{}, err
	}

	var resp models.SearchResponse
	if err := json.Unmarshal([]byte(extractJSON(responseStr)), &resp); err != nil {
		return models.SearchResponse{}, &InvalidResponseError{Raw: responseStr, Err: err}
	}
	if len(resp.Fonts) == 0 {
		return models.SearchResponse{}, &InvalidResponseError{Raw: responseStr, Err: fmt.Errorf("no fonts in response")}
	}
	return resp, nil
}

// EnrichFont asks the model to describe a single family for catalog storage.
func (c *client) EnrichFont(ctx context.Context, name string, hints models.Font) (models.Font, error) {
	systemPrompt := `
You are a typography expert writing catalog metadata for font families.

RESPONSE FORMAT:
Respond ONLY with valid JSON in the following format:
{
  "description": "two sentences describing the family and its typical use",
  "category": "serif|sans-serif|display|handwriting|monospace",
  "tags": ["array", "of", "strings"]
}
Do not include any other text or explanation.
`
	userPrompt := fmt.Sprintf(`
FONT FAMILY: "%s"
KNOWN CATEGORY: "%s"
KNOWN TAGS: %v
`, name, hints.Category, hints.Tags)

	responseStr, err := c.sendRequest(ctx, systemPrompt, userPrompt)
	if err != nil {
		return models.Font{}, err
	}

	var resp struct {
		Description string   `json:"description"`
		Category    string   `json:"category"`
		Tags        []string `json:"tags"`
	}
	if err := json.Unmarshal([]byte(extractJSON(responseStr)), &resp); err != nil {
		return models.Font{}, &InvalidResponseError{Raw: responseStr, Err: err}
	}
	if resp.Description == "" {
		return models.Font{}, &InvalidResponseError{Raw: responseStr, Err: fmt.Errorf("no description in response")}
	}

	// Caller-supplied hints take precedence; the model only fills gaps.
	font := hints
	font.Name = name
	if font.Description == "" {
		font.Description = resp.Description
	}
	if font.Category == "" {
		font.Category = resp.Category
	}
	if len(font.Tags) == 0 {
		font.Tags = resp.Tags
	}
	return font, nil
}

// geminiRequest represents a request to the Gemini API
type geminiRequest struct {
	SystemInstruction *geminiContent   `json:"system_instruction,omitempty"`
	Contents          []geminiContent  `json:"contents"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type generationConfig struct {
	ResponseMimeType string `json:"responseMimeType"`
}

// geminiResponse represents a response from the Gemini API
type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// sendRequest sends a request to the Gemini API
func (c *client) sendRequest(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	requestBody := geminiRequest{
		SystemInstruction: &geminiContent{Parts: []geminiPart{{Text: systemPrompt}}},
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: userPrompt}}},
		},
		GenerationConfig: generationConfig{ResponseMimeType: "application/json"},
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API returned status: %d", resp.StatusCode)
	}

	var geminiResp geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&geminiResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(geminiResp.Candidates) == 0 || len(geminiResp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}
	return geminiResp.Candidates[0].Content.Parts[0].Text, nil
}

// extractJSON strips markdown code fences some models wrap around JSON.
func extractJSON(s string) string {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}
