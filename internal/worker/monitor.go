package worker

import (
	"context"
	"log"
	"time"

	"github.com/typelark/fontdex/internal/queue"
)

type queueStats interface {
	StatusCounts(ctx context.Context) (map[queue.Status]int, error)
	Stalled(ctx context.Context, olderThan time.Duration) ([]queue.Job, error)
}

// Monitor publishes queue depth and stall gauges. It only observes; stalled
// jobs are surfaced for operators, never rewritten.
type Monitor struct {
	Queue  queueStats
	Logger *log.Logger

	Interval   time.Duration
	StallAfter time.Duration
	Stop       chan struct{}
}

func (m *Monitor) Start() {
	interval := m.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-m.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				m.tick()
			}
		}
	}()
}

func (m *Monitor) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	counts, err := m.Queue.StatusCounts(ctx)
	if err != nil {
		m.Logger.Printf("queue status counts: %v", err)
	} else {
		for status, n := range counts {
			queueDepth.WithLabelValues(string(status)).Set(float64(n))
		}
	}

	stalled, err := m.Queue.Stalled(ctx, m.StallAfter)
	if err != nil {
		m.Logger.Printf("queue stall check: %v", err)
		return
	}
	stalledJobs.Set(float64(len(stalled)))
	for _, job := range stalled {
		m.Logger.Printf("stalled job %s (%s) held by %s since %s", job.ID, job.FontName, job.WorkerID, job.ClaimedAt)
	}
}
