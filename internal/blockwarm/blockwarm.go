// Package blockwarm is the optional, acknowledged-but-unspecified
// cache-warmer of §1/§9: it refreshes the block-number cache used by
// §4.4's normalization step. The pipeline never starts or awaits it; an
// operator may run one Warmer per network if it wants "latest" calls to
// share cache entries during the 30-second consistency window.
package blockwarm

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rpcguard/rpcguard/internal/blockcache"
)

// FetchFunc retrieves the current block number for a network, typically by
// calling eth_blockNumber against the network's primary upstream.
type FetchFunc func(ctx context.Context, network string) (uint64, error)

// Warmer periodically refreshes one network's entry in a blockcache.Cache.
type Warmer struct {
	logger   *zap.Logger
	cache    *blockcache.Cache
	network  string
	fetch    FetchFunc
	interval time.Duration
}

// New constructs a Warmer for one network. interval should be comfortably
// shorter than blockcache.FreshFor so the entry never goes cold under
// steady load.
func New(logger *zap.Logger, cache *blockcache.Cache, network string, fetch FetchFunc, interval time.Duration) *Warmer {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Warmer{logger: logger, cache: cache, network: network, fetch: fetch, interval: interval}
}

// Run refreshes the cache until ctx is done. Callers that don't want
// cache-warming simply never call Run (§1, §9: normalization degrades to a
// no-op when the cache is cold).
func (w *Warmer) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.refresh(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.refresh(ctx)
		}
	}
}

func (w *Warmer) refresh(ctx context.Context) {
	block, err := w.fetch(ctx, w.network)
	if err != nil {
		w.logger.Warn("block warmer fetch failed", zap.String("network", w.network), zap.Error(err))
		return
	}
	w.cache.Set(w.network, block)
}
