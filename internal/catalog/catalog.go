package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/typelark/fontdex/models"
)

const webfontsAPIURL = "https://www.googleapis.com/webfonts/v1/webfonts"

// Source identifier stamped on every font listed from this client.
const SourceName = "google-fonts"

// Client lists font families from the Google Fonts webfonts API. It is the
// authoritative source for backfill seeding and for file URLs.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a webfonts API client.
func NewClient(apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    webfontsAPIURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// List fetches the full catalog, sorted by popularity so backfill seeds the
// most requested families first.
func (c *Client) List(ctx context.Context) ([]models.Font, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("webfonts API key not set")
	}
	url := fmt.Sprintf("%s?key=%s&sort=popularity", c.baseURL, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("webfonts API returned status: %d", resp.StatusCode)
	}

	var body struct {
		Items []struct {
			Family   string            `json:"family"`
			Category string            `json:"category"`
			Files    map[string]string `json:"files"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	fonts := make([]models.Font, 0, len(body.Items))
	for _, item := range body.Items {
		if item.Family == "" {
			continue
		}
		fonts = append(fonts, models.Font{
			Name:     item.Family,
			Category: item.Category,
			Files:    item.Files,
			Source:   SourceName,
		})
	}
	return fonts, nil
}
