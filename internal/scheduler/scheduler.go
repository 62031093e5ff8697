// Package scheduler runs periodic maintenance: pruning old detection
// runs and summary snapshots, and purging stale API cache entries.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/perfscope/perfscope/internal/cache"
	"github.com/perfscope/perfscope/internal/store"
)

// Config holds scheduler configuration.
type Config struct {
	Interval time.Duration // base tick cadence (default 1m)

	RunRetention      time.Duration // how long detection runs are kept
	SnapshotRetention time.Duration // how long summary snapshots are kept
	CacheRetention    time.Duration // how long cached API responses are kept

	PruneInterval      time.Duration // prune runs and snapshots
	CachePurgeInterval time.Duration // purge the API cache
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:           time.Minute,
		RunRetention:       90 * 24 * time.Hour,
		SnapshotRetention:  180 * 24 * time.Hour,
		CacheRetention:     14 * 24 * time.Hour,
		PruneInterval:      time.Hour,
		CachePurgeInterval: time.Hour,
	}
}

// Scheduler runs periodic maintenance tasks. The cache store may be
// nil when the server runs without one.
type Scheduler struct {
	db     *store.DB
	cache  cache.Store
	config Config

	lastPrune time.Time
	lastCache time.Time
}

// New creates a new Scheduler.
func New(db *store.DB, cacheStore cache.Store, config Config) *Scheduler {
	def := DefaultConfig()
	if config.Interval == 0 {
		config.Interval = def.Interval
	}
	if config.RunRetention == 0 {
		config.RunRetention = def.RunRetention
	}
	if config.SnapshotRetention == 0 {
		config.SnapshotRetention = def.SnapshotRetention
	}
	if config.CacheRetention == 0 {
		config.CacheRetention = def.CacheRetention
	}
	if config.PruneInterval == 0 {
		config.PruneInterval = def.PruneInterval
	}
	if config.CachePurgeInterval == 0 {
		config.CachePurgeInterval = def.CachePurgeInterval
	}
	return &Scheduler{db: db, cache: cacheStore, config: config}
}

// Run starts the scheduler loop. It blocks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	slog.Info("scheduler started", "interval", s.config.Interval)
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.tick(false)
		}
	}
}

func (s *Scheduler) tick(force bool) {
	now := time.Now()

	if force || now.Sub(s.lastPrune) >= s.config.PruneInterval {
		if n, err := s.db.PruneRuns(now.Add(-s.config.RunRetention)); err != nil {
			slog.Error("prune detection runs", "error", err)
		} else if n > 0 {
			slog.Info("pruned detection runs", "count", n)
		}
		if n, err := s.db.PruneSnapshots(now.Add(-s.config.SnapshotRetention)); err != nil {
			slog.Error("prune summary snapshots", "error", err)
		} else if n > 0 {
			slog.Info("pruned summary snapshots", "count", n)
		}
		s.lastPrune = now
	}

	if s.cache != nil && (force || now.Sub(s.lastCache) >= s.config.CachePurgeInterval) {
		if n, err := s.cache.Purge(now.Add(-s.config.CacheRetention)); err != nil {
			slog.Error("purge api cache", "error", err)
		} else if n > 0 {
			slog.Info("purged api cache entries", "count", n)
		}
		s.lastCache = now
	}
}

// RunOnce executes a single scheduler tick. Useful for testing.
func (s *Scheduler) RunOnce() {
	s.tick(true)
}
