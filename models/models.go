package models

import "time"

// Font is a catalog entry. Name is the unique, case-sensitive key.
type Font struct {
	Name        string            `json:"name"`
	Category    string            `json:"category"`
	Description string            `json:"description"`
	Tags        []string          `json:"tags,omitempty"`
	Source      string            `json:"source,omitempty"`
	Files       map[string]string `json:"files,omitempty"`
	UpdatedAt   time.Time         `json:"updated_at,omitempty"`
}

// ContextText concatenates the searchable metadata of a font. The same string
// feeds both the embedding producer and the intervention tokenizer.
func (f Font) ContextText() string {
	text := f.Name
	if f.Category != "" {
		text += " " + f.Category
	}
	for _, tag := range f.Tags {
		text += " " + tag
	}
	if f.Description != "" {
		text += " " + f.Description
	}
	return text
}

// ChatMessage is one turn of the conversation forwarded to the generation model.
type ChatMessage struct {
	Role string `json:"role"` // "user" or "model"
	Text string `json:"text"`
}

// FontSuggestion is a single recommendation in a search response. Catalog
// metadata (tags, source, files) is attached when the suggested name matches a
// retrieved catalog entry; otherwise the suggestion is model-only.
type FontSuggestion struct {
	Name     string            `json:"name"`
	Desc     string            `json:"desc"`
	Category string            `json:"category"`
	Tags     []string          `json:"tags,omitempty"`
	Source   string            `json:"source,omitempty"`
	Files    map[string]string `json:"files,omitempty"`
}

// SearchResponse is the payload returned for a query and the value persisted in
// the semantic cache.
type SearchResponse struct {
	Reply  string           `json:"reply"`
	Fonts  []FontSuggestion `json:"fonts"`
	Cached bool             `json:"cached,omitempty"`
}
