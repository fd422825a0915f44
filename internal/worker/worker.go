package worker

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/typelark/fontdex/internal/embedding"
	"github.com/typelark/fontdex/internal/queue"
	"github.com/typelark/fontdex/models"
)

type jobQueue interface {
	Claim(ctx context.Context, workerID string) (*queue.Job, error)
	Complete(ctx context.Context, jobID string) error
	Fail(ctx context.Context, jobID, errorMessage string) error
}

type catalogStore interface {
	GetFontByName(ctx context.Context, name string) (models.Font, bool, error)
	UpsertFont(ctx context.Context, font models.Font, vector []float32) error
}

type enricher interface {
	EnrichFont(ctx context.Context, name string, hints models.Font) (models.Font, error)
}

// Worker drains the enrichment queue: claim a job, build catalog metadata for
// the font, embed it and upsert the row. One worker processes one job at a
// time; concurrency comes from running more workers, the claim query keeps
// them from colliding.
type Worker struct {
	Queue    jobQueue
	Store    catalogStore
	Provider enricher
	Embedder embedding.Producer
	Logger   *log.Logger

	// PollInterval is the sleep between claim attempts when the queue is
	// empty. JobTimeout bounds a single job end to end.
	PollInterval time.Duration
	JobTimeout   time.Duration
	Enabled      bool

	// ID tags claims in the database so stalled jobs can be traced back to
	// the worker that held them.
	ID string

	httpClient *http.Client
}

// NewWorker builds a worker with a unique id.
func NewWorker(q jobQueue, store catalogStore, provider enricher, embedder embedding.Producer, logger *log.Logger, enabled bool) *Worker {
	return &Worker{
		Queue:        q,
		Store:        store,
		Provider:     provider,
		Embedder:     embedder,
		Logger:       logger,
		PollInterval: 5 * time.Second,
		JobTimeout:   2 * time.Minute,
		Enabled:      enabled,
		ID:           "worker-" + uuid.NewString()[:8],
		httpClient:   &http.Client{Timeout: 15 * time.Second},
	}
}

// Run polls until the context is cancelled. Returns immediately when the
// worker is disabled by configuration.
func (w *Worker) Run(ctx context.Context) error {
	if !w.Enabled {
		w.Logger.Printf("worker disabled by config, not starting")
		return nil
	}
	w.Logger.Printf("worker %s started", w.ID)

	for {
		select {
		case <-ctx.Done():
			w.Logger.Printf("worker %s stopping: %v", w.ID, ctx.Err())
			return ctx.Err()
		default:
		}

		job, err := w.Queue.Claim(ctx, w.ID)
		if err != nil {
			w.Logger.Printf("claim failed: %v", err)
			w.sleep(ctx)
			continue
		}
		if job == nil {
			w.sleep(ctx)
			continue
		}

		w.handle(ctx, job)
	}
}

func (w *Worker) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(w.PollInterval):
	}
}

func (w *Worker) handle(ctx context.Context, job *queue.Job) {
	jobCtx, cancel := context.WithTimeout(ctx, w.JobTimeout)
	defer cancel()

	start := time.Now()
	outcome, err := w.process(jobCtx, job)
	jobDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		w.Logger.Printf("job %s (%s) attempt %d failed: %v", job.ID, job.FontName, job.Attempts, err)
		if failErr := w.Queue.Fail(ctx, job.ID, err.Error()); failErr != nil {
			w.Logger.Printf("recording failure for job %s: %v", job.ID, failErr)
		}
		jobsProcessed.WithLabelValues("failed").Inc()
		return
	}
	if completeErr := w.Queue.Complete(ctx, job.ID); completeErr != nil {
		w.Logger.Printf("completing job %s: %v", job.ID, completeErr)
	}
	jobsProcessed.WithLabelValues(outcome).Inc()
	w.Logger.Printf("job %s (%s) %s in %s", job.ID, job.FontName, outcome, time.Since(start).Round(time.Millisecond))
}

// process builds the catalog row for the job's font. Returns the outcome
// label on success.
func (w *Worker) process(ctx context.Context, job *queue.Job) (string, error) {
	existing, found, err := w.Store.GetFontByName(ctx, job.FontName)
	if err != nil {
		return "", fmt.Errorf("catalog lookup: %w", err)
	}

	var font models.Font
	outcome := "completed"
	if found {
		// Re-enrichment: the catalog row is authoritative, no model call.
		// The row still flows through validation, embedding and upsert so
		// re-enqueued fonts get refreshed.
		font = existing
		outcome = "refreshed"
	} else {
		hints := models.Font{
			Name:        job.FontName,
			Category:    job.SourcePayload.Category,
			Description: job.SourcePayload.Description,
			Tags:        job.SourcePayload.Tags,
			Files:       job.SourcePayload.Files,
			Source:      job.Source,
		}
		font, err = w.Provider.EnrichFont(ctx, job.FontName, hints)
		if err != nil {
			w.Logger.Printf("model enrichment for %s failed, using generic description: %v", job.FontName, err)
			font = genericEnrichment(hints)
		}
	}

	fileURL := firstFileURL(font.Files)
	if fileURL != "" {
		if err := w.verifyFileURL(ctx, fileURL); err != nil {
			return "", fmt.Errorf("font file unreachable: %w", err)
		}
	}

	vector, err := w.Embedder.Embed(ctx, embedding.Input{Text: font.ContextText(), Image: fileURL})
	if err != nil {
		return "", fmt.Errorf("embedding: %w", err)
	}

	if err := w.Store.UpsertFont(ctx, font, vector); err != nil {
		return "", fmt.Errorf("upsert: %w", err)
	}
	return outcome, nil
}

// verifyFileURL checks the first font file is actually servable before the
// catalog points users at it.
func (w *Worker) verifyFileURL(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, "HEAD", url, nil)
	if err != nil {
		return err
	}
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("HEAD %s returned status %d", url, resp.StatusCode)
	}
	return nil
}

// genericEnrichment is the last-resort catalog entry when the model cannot
// describe the font. Keeps the job completable so retries are spent on real
// transient failures.
func genericEnrichment(hints models.Font) models.Font {
	category := hints.Category
	if category == "" {
		category = "sans-serif"
	}
	source := hints.Source
	if source == "" {
		source = "the web"
	}
	font := hints
	font.Category = category
	if font.Description == "" {
		font.Description = fmt.Sprintf("A popular %s font family from %s.", category, source)
	}
	if len(font.Tags) == 0 {
		font.Tags = []string{category}
	}
	return font
}

// firstFileURL picks a deterministic representative file, preferring the
// regular variant.
func firstFileURL(files map[string]string) string {
	if len(files) == 0 {
		return ""
	}
	if url, ok := files["regular"]; ok && url != "" {
		return url
	}
	variants := make([]string, 0, len(files))
	for variant := range files {
		variants = append(variants, variant)
	}
	sort.Strings(variants)
	for _, variant := range variants {
		if url := strings.TrimSpace(files[variant]); url != "" {
			return url
		}
	}
	return ""
}
