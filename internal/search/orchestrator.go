package search

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/typelark/fontdex/internal/embedding"
	"github.com/typelark/fontdex/internal/queue"
	"github.com/typelark/fontdex/internal/retrieval"
	"github.com/typelark/fontdex/internal/store"
	"github.com/typelark/fontdex/models"
)

// Defaults for retrieval and cache acceptance. The cache threshold is
// stricter: a hit short-circuits generation entirely, so a near miss must not
// be served.
const (
	DefaultTopK               = 20
	DefaultSearchThreshold    = 0.5
	DefaultCacheThreshold     = 0.95
	DefaultEnrichmentDeadline = 10 * time.Second
)

type catalogSearcher interface {
	SearchFonts(ctx context.Context, vector []float32, threshold float64, limit int) ([]store.FontSearchResult, error)
	MissingFonts(ctx context.Context, names []string) ([]string, error)
	LookupCachedResponse(ctx context.Context, vector []float32, threshold float64) (models.SearchResponse, bool, error)
	SaveCachedResponse(ctx context.Context, queryText string, vector []float32, resp models.SearchResponse) error
}

type suggester interface {
	SuggestFonts(ctx context.Context, message string, history []models.ChatMessage, catalog []models.Font) (models.SearchResponse, error)
}

type jitEnqueuer interface {
	Enqueue(ctx context.Context, fontName, source string, payload queue.Payload, priority int) (queue.Job, bool, error)
}

// Orchestrator runs the full search pipeline: embed the query, consult the
// semantic cache, retrieve and optionally re-rank catalog candidates, generate
// suggestions, reconcile them against the catalog and queue enrichment for
// the gaps.
type Orchestrator struct {
	Store    catalogSearcher
	Provider suggester
	Embedder embedding.Producer
	Queue    jitEnqueuer
	Logger   *log.Logger

	Strategy     retrieval.Strategy
	Penalties    retrieval.Options
	TopK         int
	Threshold    float64
	CacheEnabled bool
	CacheCutoff  float64
}

// NewOrchestrator applies defaults for unset tuning knobs.
func NewOrchestrator(st catalogSearcher, provider suggester, embedder embedding.Producer, q jitEnqueuer, logger *log.Logger) *Orchestrator {
	return &Orchestrator{
		Store:        st,
		Provider:     provider,
		Embedder:     embedder,
		Queue:        q,
		Logger:       logger,
		TopK:         DefaultTopK,
		Threshold:    DefaultSearchThreshold,
		CacheEnabled: true,
		CacheCutoff:  DefaultCacheThreshold,
	}
}

// Search answers one query. History is forwarded to the generation model but
// never participates in embedding or caching; the cache key is the message
// alone.
func (o *Orchestrator) Search(ctx context.Context, message string, history []models.ChatMessage) (models.SearchResponse, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return models.SearchResponse{}, fmt.Errorf("message must not be empty")
	}

	vector, err := o.Embedder.Embed(ctx, embedding.Input{Text: message})
	if err != nil {
		return models.SearchResponse{}, fmt.Errorf("embed query: %w", err)
	}

	if o.CacheEnabled {
		cached, hit, err := o.Store.LookupCachedResponse(ctx, vector, o.CacheCutoff)
		if err != nil {
			o.Logger.Printf("cache lookup failed: %v", err)
		} else if hit {
			cached.Cached = true
			return cached, nil
		}
	}

	hits, err := o.Store.SearchFonts(ctx, vector, o.Threshold, o.TopK)
	if err != nil {
		return models.SearchResponse{}, fmt.Errorf("catalog search: %w", err)
	}

	catalogContext := o.rank(hits, message)

	resp, err := o.Provider.SuggestFonts(ctx, message, history, catalogContext)
	if err != nil {
		return models.SearchResponse{}, fmt.Errorf("generate suggestions: %w", err)
	}

	resp = reconcile(resp, hits)
	o.enqueueUnknown(resp)

	if o.CacheEnabled {
		if err := o.Store.SaveCachedResponse(ctx, message, vector, resp); err != nil {
			o.Logger.Printf("cache write failed: %v", err)
		}
	}
	return resp, nil
}

// rank orders retrieval hits for the generation prompt. Under the baseline
// strategy that is plain confidence order; under the intervention strategy
// motif penalties re-rank first.
func (o *Orchestrator) rank(hits []store.FontSearchResult, message string) []models.Font {
	if !o.Strategy.Active() {
		fonts := make([]models.Font, len(hits))
		for i, hit := range hits {
			fonts[i] = hit.Font
		}
		return fonts
	}

	candidates := make([]retrieval.Candidate, len(hits))
	for i, hit := range hits {
		candidates[i] = retrieval.Candidate{Font: hit.Font, Confidence: hit.Confidence}
	}
	ranked := retrieval.Apply(candidates, message, o.Penalties)
	fonts := make([]models.Font, len(ranked))
	for i, r := range ranked {
		fonts[i] = r.Font
	}
	return fonts
}

// reconcile attaches catalog metadata to suggestions whose names match a
// retrieved entry. Matching is case-insensitive; the model's wording wins for
// the description.
func reconcile(resp models.SearchResponse, hits []store.FontSearchResult) models.SearchResponse {
	byName := make(map[string]models.Font, len(hits))
	for _, hit := range hits {
		byName[strings.ToLower(hit.Font.Name)] = hit.Font
	}

	for i, suggestion := range resp.Fonts {
		font, ok := byName[strings.ToLower(suggestion.Name)]
		if !ok {
			continue
		}
		resp.Fonts[i].Name = font.Name
		resp.Fonts[i].Tags = font.Tags
		resp.Fonts[i].Source = font.Source
		resp.Fonts[i].Files = font.Files
		if resp.Fonts[i].Category == "" {
			resp.Fonts[i].Category = font.Category
		}
	}
	return resp
}

// enqueueUnknown queues just-in-time enrichment for suggested names the
// catalog has never seen. Detached from the request: failures are logged, the
// user's response never waits on or surfaces them.
func (o *Orchestrator) enqueueUnknown(resp models.SearchResponse) {
	var names []string
	suggestionByName := make(map[string]models.FontSuggestion)
	for _, suggestion := range resp.Fonts {
		if suggestion.Source != "" {
			// Already reconciled against the catalog.
			continue
		}
		names = append(names, suggestion.Name)
		suggestionByName[suggestion.Name] = suggestion
	}
	if len(names) == 0 {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultEnrichmentDeadline)
		defer cancel()

		missing, err := o.Store.MissingFonts(ctx, names)
		if err != nil {
			o.Logger.Printf("missing fonts check failed: %v", err)
			return
		}
		for _, name := range missing {
			suggestion := suggestionByName[name]
			payload := queue.Payload{
				Category:    suggestion.Category,
				Description: suggestion.Desc,
				Tags:        suggestion.Tags,
			}
			if _, _, err := o.Queue.Enqueue(ctx, name, "model-suggestion", payload, queue.PriorityJustInTime); err != nil {
				o.Logger.Printf("enqueue enrichment for %s: %v", name, err)
			}
		}
	}()
}
