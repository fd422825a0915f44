package worker

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/typelark/fontdex/internal/queue"
	"github.com/typelark/fontdex/models"
)

type catalogLister interface {
	List(ctx context.Context) ([]models.Font, error)
}

type missingFilter interface {
	MissingFonts(ctx context.Context, names []string) ([]string, error)
}

type enqueuer interface {
	Enqueue(ctx context.Context, fontName, source string, payload queue.Payload, priority int) (queue.Job, bool, error)
}

// Backfill periodically walks the upstream catalog and enqueues enrichment
// jobs for every family the local catalog is missing, at backfill priority so
// live query gaps always jump ahead.
type Backfill struct {
	Catalog catalogLister
	Store   missingFilter
	Queue   enqueuer
	Rdb     *redis.Client
	Logger  *log.Logger

	// Schedule is a cron expression (or @daily/@hourly). Limit caps how many
	// families a single run considers; zero means the whole catalog.
	Schedule string
	Limit    int
	Stop     chan struct{}

	last *time.Time
}

func (b *Backfill) Start() {
	ticker := time.NewTicker(1 * time.Hour)
	go func() {
		for {
			select {
			case <-b.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				b.tick()
			}
		}
	}()
}

func (b *Backfill) tick() {
	ctx := context.Background()
	if !isDue(b.Schedule, b.last) {
		return
	}

	// distributed lock to avoid duplicate seeding runs
	if b.Rdb != nil {
		ok, _ := b.Rdb.SetNX(ctx, "backfill:lock", "1", 10*time.Minute).Result()
		if !ok {
			return
		}
		defer b.Rdb.Del(ctx, "backfill:lock")
	}

	now := time.Now()
	b.last = &now

	enqueued, err := b.RunOnce(ctx)
	if err != nil {
		b.Logger.Printf("backfill run failed: %v", err)
		return
	}
	b.Logger.Printf("backfill enqueued %d jobs", enqueued)
}

// RunOnce does a single seeding pass and reports how many jobs it created.
// Also driven directly by the seed CLI command.
func (b *Backfill) RunOnce(ctx context.Context) (int, error) {
	fonts, err := b.Catalog.List(ctx)
	if err != nil {
		return 0, err
	}
	if b.Limit > 0 && len(fonts) > b.Limit {
		fonts = fonts[:b.Limit]
	}

	names := make([]string, len(fonts))
	byName := make(map[string]models.Font, len(fonts))
	for i, font := range fonts {
		names[i] = font.Name
		byName[font.Name] = font
	}

	missing, err := b.Store.MissingFonts(ctx, names)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, name := range missing {
		font := byName[name]
		payload := queue.Payload{
			Category: font.Category,
			Tags:     font.Tags,
			Files:    font.Files,
		}
		_, created, err := b.Queue.Enqueue(ctx, name, font.Source, payload, queue.PriorityBackfill)
		if err != nil {
			b.Logger.Printf("enqueue %s: %v", name, err)
			continue
		}
		if created {
			enqueued++
		}
	}
	return enqueued, nil
}

// isDue determines whether the schedule should fire now given the last run.
// Supports "@daily", "@hourly", and standard 5-field cron expressions.
func isDue(cronSpec string, last *time.Time) bool {
	now := time.Now()
	switch cronSpec {
	case "@daily":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			// Fallback: treat as @daily if invalid
			if last == nil {
				return true
			}
			return now.Sub(*last) >= 24*time.Hour
		}
		if last == nil {
			return true
		}
		next := expr.Next(*last)
		return !next.After(now)
	}
}
