// Package cleanup implements the eviction trigger of §6 (cache.max_size):
// a background goroutine that prunes the least-recently-used entries
// whenever a write pushes the store over budget. Adapted from the
// teacher's internal/cleanup.Manager (which drove *database.DB directly)
// to drive any cachestore.Store, and to log through zap like the rest of
// the adapted packages instead of the teacher's bare log.Printf.
package cleanup

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/rpcguard/rpcguard/internal/cachestore"
)

// Manager watches a Store's size and prunes it back under maxSize, leaving
// slackRatio of headroom so cleanup doesn't trigger on every write.
type Manager struct {
	logger     *zap.Logger
	store      cachestore.Store
	maxSize    int64
	slackRatio float64
	trigger    chan struct{}
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewManager constructs a Manager. slackRatio <= 0 defaults to 0.2 (20%).
func NewManager(logger *zap.Logger, store cachestore.Store, maxSize int64, slackRatio float64) *Manager {
	if slackRatio <= 0 {
		slackRatio = 0.2
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		logger:     logger,
		store:      store,
		maxSize:    maxSize,
		slackRatio: slackRatio,
		trigger:    make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start launches the background cleanup goroutine.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.run()
}

// Stop cancels the goroutine and waits for it to exit.
func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()
}

// NotifyWrite signals that a cache write happened, so the manager should
// re-check the store's size. Coalesces: a pending signal is not duplicated.
func (m *Manager) NotifyWrite() {
	select {
	case m.trigger <- struct{}{}:
	default:
	}
}

func (m *Manager) run() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.trigger:
			m.cleanup()
		}
	}
}

func (m *Manager) cleanup() {
	currentSize, err := m.store.Size(m.ctx)
	if err != nil {
		m.logger.Warn("failed to get cache size", zap.Error(err))
		return
	}

	if currentSize <= m.maxSize {
		return
	}

	targetSize := int64(float64(m.maxSize) * (1.0 - m.slackRatio))
	toFree := currentSize - targetSize
	if toFree <= 0 {
		return
	}

	freed, err := m.store.Prune(m.ctx, toFree)
	if err != nil {
		m.logger.Warn("failed to prune cache", zap.Error(err))
		return
	}
	m.logger.Info("pruned cache", zap.Int64("bytes_freed", freed))
}
