package server

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/typelark/fontdex/internal/queue"
)

type opsQueue interface {
	StatusCounts(ctx context.Context) (map[queue.Status]int, error)
	Stalled(ctx context.Context, olderThan time.Duration) ([]queue.Job, error)
	RecentFailures(ctx context.Context, limit int) ([]queue.Job, error)
}

// OpsHandler surfaces enrichment queue health for operators.
type OpsHandler struct {
	Queue      opsQueue
	StallAfter time.Duration
}

func (h *OpsHandler) Register(g *echo.Group) {
	g.GET("/queue", h.queueHealth)
}

func (h *OpsHandler) queueHealth(c echo.Context) error {
	ctx := c.Request().Context()

	counts, err := h.Queue.StatusCounts(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	stalled, err := h.Queue.Stalled(ctx, h.StallAfter)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	failures, err := h.Queue.RecentFailures(ctx, 5)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	resp := QueueHealthResponse{
		Counts:         make(map[string]int, len(counts)),
		Stuck:          digests(stalled),
		RecentFailures: digests(failures),
	}
	for status, n := range counts {
		resp.Counts[string(status)] = n
	}
	return c.JSON(http.StatusOK, resp)
}

func digests(jobs []queue.Job) []QueueJobDigest {
	out := make([]QueueJobDigest, 0, len(jobs))
	for _, job := range jobs {
		digest := QueueJobDigest{
			ID:        job.ID,
			FontName:  job.FontName,
			Status:    string(job.Status),
			Attempts:  job.Attempts,
			WorkerID:  job.WorkerID,
			LastError: job.LastError,
			UpdatedAt: job.UpdatedAt.Format(time.RFC3339),
		}
		if job.ClaimedAt != nil {
			digest.ClaimedAt = job.ClaimedAt.Format(time.RFC3339)
		}
		out = append(out, digest)
	}
	return out
}
