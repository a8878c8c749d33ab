// Package exporter periodically samples the cache store's size and item
// count into the gauges §6 exposes over /metrics. Adapted from the
// teacher's internal/exporter (which polled *database.DB directly) to poll
// any cachestore.Store, logging through zap like the rest of the adapted
// packages instead of the teacher's bare log.Printf.
package exporter

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rpcguard/rpcguard/internal/cachestore"
	"github.com/rpcguard/rpcguard/internal/metrics"
)

// Exporter polls a Store on a fixed interval.
type Exporter struct {
	logger   *zap.Logger
	store    cachestore.Store
	interval time.Duration
}

// New constructs an Exporter.
func New(logger *zap.Logger, store cachestore.Store, interval time.Duration) *Exporter {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Exporter{logger: logger, store: store, interval: interval}
}

// Start samples immediately, then on every tick, until ctx is done.
func (e *Exporter) Start(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.collect(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.collect(ctx)
		}
	}
}

func (e *Exporter) collect(ctx context.Context) {
	size, err := e.store.Size(ctx)
	if err != nil {
		e.logger.Warn("failed to get cache size", zap.Error(err))
	} else {
		metrics.CacheSizeBytes.Set(float64(size))
	}

	count, err := e.store.ItemCount(ctx)
	if err != nil {
		e.logger.Warn("failed to get cache item count", zap.Error(err))
	} else {
		metrics.CacheItemsCount.Set(float64(count))
	}
}
