package worker

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/typelark/fontdex/internal/embedding"
	"github.com/typelark/fontdex/internal/queue"
	"github.com/typelark/fontdex/models"
)

type fakeStore struct {
	existing map[string]models.Font
	upserted []models.Font
	vectors  [][]float32
}

func (f *fakeStore) GetFontByName(_ context.Context, name string) (models.Font, bool, error) {
	font, ok := f.existing[name]
	return font, ok, nil
}

func (f *fakeStore) UpsertFont(_ context.Context, font models.Font, vector []float32) error {
	f.upserted = append(f.upserted, font)
	f.vectors = append(f.vectors, vector)
	return nil
}

type fakeEnricher struct {
	font  models.Font
	err   error
	calls int
}

func (f *fakeEnricher) EnrichFont(_ context.Context, name string, hints models.Font) (models.Font, error) {
	f.calls++
	if f.err != nil {
		return models.Font{}, f.err
	}
	font := hints
	font.Name = name
	if font.Description == "" {
		font.Description = f.font.Description
	}
	if font.Category == "" {
		font.Category = f.font.Category
	}
	if len(font.Tags) == 0 {
		font.Tags = f.font.Tags
	}
	return font, nil
}

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Name() string { return "fake" }
func (f *fakeEmbedder) Embed(context.Context, embedding.Input) ([]float32, error) {
	return f.vec, f.err
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "[WORKER] ", log.LstdFlags)
}

func newTestWorker(store *fakeStore, enricher *fakeEnricher, embedder *fakeEmbedder) *Worker {
	return NewWorker(nil, store, enricher, embedder, testLogger(), true)
}

func TestProcessEnrichesAndUpserts(t *testing.T) {
	store := &fakeStore{existing: map[string]models.Font{}}
	enricher := &fakeEnricher{font: models.Font{Description: "A slab serif.", Category: "serif", Tags: []string{"slab"}}}
	w := newTestWorker(store, enricher, &fakeEmbedder{vec: []float32{0.1, 0.2}})

	job := &queue.Job{ID: "job-1", FontName: "Arvo", Source: "google-fonts"}
	outcome, err := w.process(context.Background(), job)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome != "completed" {
		t.Fatalf("outcome = %q", outcome)
	}
	if len(store.upserted) != 1 || store.upserted[0].Name != "Arvo" {
		t.Fatalf("unexpected upserts: %+v", store.upserted)
	}
	if len(store.vectors[0]) != 2 {
		t.Fatalf("vector not forwarded: %v", store.vectors)
	}
}

func TestProcessRefreshesExistingFont(t *testing.T) {
	existing := models.Font{
		Name:        "Inter",
		Category:    "sans-serif",
		Description: "A variable sans.",
		Tags:        []string{"ui"},
		Source:      "google-fonts",
	}
	store := &fakeStore{existing: map[string]models.Font{"Inter": existing}}
	enricher := &fakeEnricher{}
	w := newTestWorker(store, enricher, &fakeEmbedder{vec: []float32{0.3, 0.4}})

	outcome, err := w.process(context.Background(), &queue.Job{ID: "job-1", FontName: "Inter"})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome != "refreshed" {
		t.Fatalf("outcome = %q", outcome)
	}
	if enricher.calls != 0 {
		t.Fatal("existing row is authoritative, model must not be consulted")
	}
	// Re-enrichment still embeds and upserts the existing row.
	if len(store.upserted) != 1 || store.upserted[0].Description != "A variable sans." {
		t.Fatalf("unexpected upserts: %+v", store.upserted)
	}
	if len(store.vectors) != 1 || len(store.vectors[0]) != 2 {
		t.Fatalf("vector not forwarded: %v", store.vectors)
	}
}

func TestProcessFallsBackToGenericDescription(t *testing.T) {
	store := &fakeStore{existing: map[string]models.Font{}}
	enricher := &fakeEnricher{err: errors.New("model unavailable")}
	w := newTestWorker(store, enricher, &fakeEmbedder{vec: []float32{1}})

	job := &queue.Job{
		ID:            "job-1",
		FontName:      "Satoshi",
		Source:        "fontshare",
		SourcePayload: queue.Payload{Category: "sans-serif"},
	}
	outcome, err := w.process(context.Background(), job)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome != "completed" {
		t.Fatalf("outcome = %q", outcome)
	}
	got := store.upserted[0]
	if got.Description != "A popular sans-serif font family from fontshare." {
		t.Fatalf("unexpected fallback description: %q", got.Description)
	}
	if len(got.Tags) == 0 {
		t.Fatal("fallback should still tag the font")
	}
}

func TestGenericEnrichmentDefaults(t *testing.T) {
	got := genericEnrichment(models.Font{Name: "Mystery"})
	if got.Category != "sans-serif" {
		t.Fatalf("default category = %q", got.Category)
	}
	if got.Description != "A popular sans-serif font family from the web." {
		t.Fatalf("unexpected description: %q", got.Description)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "sans-serif" {
		t.Fatalf("unexpected tags: %v", got.Tags)
	}

	// Hint values always win over the generic filler.
	hinted := genericEnrichment(models.Font{Name: "Satoshi", Description: "A geometric sans.", Category: "display"})
	if hinted.Description != "A geometric sans." {
		t.Fatalf("hint description overwritten: %q", hinted.Description)
	}
	if hinted.Category != "display" {
		t.Fatalf("hint category overwritten: %q", hinted.Category)
	}
}

func TestProcessEmbeddingFailureFailsJob(t *testing.T) {
	store := &fakeStore{existing: map[string]models.Font{}}
	w := newTestWorker(store, &fakeEnricher{font: models.Font{Description: "x"}}, &fakeEmbedder{err: errors.New("endpoint down")})

	if _, err := w.process(context.Background(), &queue.Job{ID: "job-1", FontName: "Arvo"}); err == nil {
		t.Fatal("expected embedding failure to surface")
	}
	if len(store.upserted) != 0 {
		t.Fatal("nothing should be upserted without a vector")
	}
}

func TestProcessVerifiesFontFile(t *testing.T) {
	var method string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
	}))
	defer srv.Close()

	store := &fakeStore{existing: map[string]models.Font{}}
	w := newTestWorker(store, &fakeEnricher{font: models.Font{Description: "x"}}, &fakeEmbedder{vec: []float32{1}})

	job := &queue.Job{
		ID:            "job-1",
		FontName:      "Lora",
		SourcePayload: queue.Payload{Files: map[string]string{"regular": srv.URL + "/lora.ttf"}},
	}
	if _, err := w.process(context.Background(), job); err != nil {
		t.Fatalf("process: %v", err)
	}
	if method != "HEAD" {
		t.Fatalf("expected HEAD request, got %q", method)
	}
}

func TestProcessUnreachableFileFailsJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	store := &fakeStore{existing: map[string]models.Font{}}
	w := newTestWorker(store, &fakeEnricher{font: models.Font{Description: "x"}}, &fakeEmbedder{vec: []float32{1}})

	job := &queue.Job{
		ID:            "job-1",
		FontName:      "Lora",
		SourcePayload: queue.Payload{Files: map[string]string{"regular": srv.URL + "/gone.ttf"}},
	}
	_, err := w.process(context.Background(), job)
	if err == nil || !strings.Contains(err.Error(), "unreachable") {
		t.Fatalf("expected unreachable file error, got %v", err)
	}
}

func TestFirstFileURLPrefersRegular(t *testing.T) {
	files := map[string]string{
		"italic":  "https://fonts.example/i.ttf",
		"regular": "https://fonts.example/r.ttf",
		"700":     "https://fonts.example/b.ttf",
	}
	if got := firstFileURL(files); got != "https://fonts.example/r.ttf" {
		t.Fatalf("firstFileURL = %q", got)
	}
	if got := firstFileURL(nil); got != "" {
		t.Fatalf("expected empty for nil files, got %q", got)
	}
	// Deterministic without a regular variant.
	noRegular := map[string]string{"b": "https://x/b", "a": "https://x/a"}
	if got := firstFileURL(noRegular); got != "https://x/a" {
		t.Fatalf("firstFileURL = %q", got)
	}
}

func TestWorkerDisabledReturnsImmediately(t *testing.T) {
	w := NewWorker(nil, nil, nil, nil, testLogger(), false)
	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("disabled worker did not stop")
	}
}

func TestWorkerIDsAreUnique(t *testing.T) {
	a := NewWorker(nil, nil, nil, nil, testLogger(), true)
	b := NewWorker(nil, nil, nil, nil, testLogger(), true)
	if a.ID == b.ID {
		t.Fatalf("worker ids collide: %s", a.ID)
	}
	if !strings.HasPrefix(a.ID, "worker-") {
		t.Fatalf("unexpected id format: %s", a.ID)
	}
}
