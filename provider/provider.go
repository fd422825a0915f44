package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/typelark/fontdex/models"
	gemini_provider "github.com/typelark/fontdex/provider/gemini"
)

// Client represents different LLM providers
type Client string

const (
	Gemini Client = "gemini"
)

// Provider is the interface that all LLM implementations must satisfy
type Provider interface {
	// SuggestFonts answers a font request with a conversational reply and a
	// structured list of suggested families. Catalog carries retrieved
	// context fonts in rank order; the model is steered toward them but may
	// suggest beyond them.
	SuggestFonts(ctx context.Context, message string, history []models.ChatMessage, catalog []models.Font) (models.SearchResponse, error)
	// EnrichFont fills in description and tags for a font the catalog knows
	// nothing about. Hints carry whatever metadata the enqueuer had on hand.
	EnrichFont(ctx context.Context, name string, hints models.Font) (models.Font, error)
}

// NewProvider creates a new LLM client based on the provided configuration
func NewProvider(client Client, apiKey, model string, timeout time.Duration) (Provider, error) {
	switch client {
	case Gemini:
		if apiKey == "" {
			return nil, errors.New("GEMINI_API_KEY not set")
		}
		return gemini_provider.NewGeminiClient(apiKey, model, timeout), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", client)
	}
}
