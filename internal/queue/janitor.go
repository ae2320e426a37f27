package queue

import (
	"context"
	"log/slog"
	"time"
)

// Evicter drops terminal work older than the retention window.
type Evicter interface {
	Evict(olderThan time.Duration) int
}

// Janitor periodically evicts finished jobs, batches and history rows.
type Janitor struct {
	Retention time.Duration
	Every     time.Duration
	Targets   []Evicter
	Store     *Store
	Logger    *slog.Logger
}

func (j *Janitor) Start(ctx context.Context) {
	if j.Retention <= 0 {
		j.Retention = time.Hour
	}
	if j.Every <= 0 {
		j.Every = time.Minute
	}
	if j.Logger == nil {
		j.Logger = slog.Default()
	}
	ticker := time.NewTicker(j.Every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep runs one cleanup pass.
func (j *Janitor) Sweep(ctx context.Context) {
	evicted := 0
	for _, t := range j.Targets {
		evicted += t.Evict(j.Retention)
	}
	var purged int64
	if j.Store != nil {
		n, err := j.Store.Purge(ctx, time.Now().UTC().Add(-j.Retention))
		if err != nil {
			j.logger().Warn("janitor purge failed", "err", err)
		}
		purged = n
	}
	if evicted > 0 || purged > 0 {
		j.logger().Info("janitor sweep", "evicted", evicted, "purged", purged)
	}
}

func (j *Janitor) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}
