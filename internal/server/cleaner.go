package server

import (
	"context"
	"log"
	"time"

	"github.com/typelark/fontdex/internal/store"
)

// CacheCleaner evicts semantic cache entries past their TTL so stale
// responses age out instead of matching forever.
type CacheCleaner struct {
	Store  *store.Store
	TTL    time.Duration
	Logger *log.Logger
	Stop   chan struct{}
}

func (c *CacheCleaner) Start() {
	ticker := time.NewTicker(1 * time.Hour)
	go func() {
		for {
			select {
			case <-c.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				c.tick()
			}
		}
	}()
}

func (c *CacheCleaner) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pruned, err := c.Store.PruneCacheBefore(ctx, time.Now().Add(-c.TTL))
	if err != nil {
		c.Logger.Printf("cache prune failed: %v", err)
		return
	}
	if pruned > 0 {
		c.Logger.Printf("pruned %d cached queries", pruned)
	}
}
