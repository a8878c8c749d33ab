// Package pipeline implements the Request Pipeline of §4.1: the single
// process(req, networkKey) → Response entry point that normalizes,
// fingerprints, checks the cache, coalesces in-flight duplicates, queues,
// calls upstream through the circuit breaker, applies the archive-fallback
// predicate, and writes the cache — generalizing the teacher's
// internal/proxy.Handler (a single-upstream, single-cache-backend version
// of the same shape) to the multi-network registry the spec requires.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/rpcguard/rpcguard/internal/blockcache"
	"github.com/rpcguard/rpcguard/internal/breaker"
	"github.com/rpcguard/rpcguard/internal/cachepolicy"
	"github.com/rpcguard/rpcguard/internal/cachestore"
	"github.com/rpcguard/rpcguard/internal/coalesce"
	"github.com/rpcguard/rpcguard/internal/fingerprint"
	"github.com/rpcguard/rpcguard/internal/jsonrpc"
	"github.com/rpcguard/rpcguard/internal/metrics"
	"github.com/rpcguard/rpcguard/internal/netconf"
	"github.com/rpcguard/rpcguard/internal/queue"
	"github.com/rpcguard/rpcguard/internal/router"
	"github.com/rpcguard/rpcguard/internal/upstream"
)

// networkRuntime bundles the per-network state the registry doesn't own:
// the breaker and queue are mutable and live for the process lifetime,
// while the Network descriptor itself stays immutable (§3 Ownership).
type networkRuntime struct {
	network router.Network
	breaker *breaker.Breaker
	queue   *queue.Queue
}

// CleanupNotifier is notified after every cache write so a background
// eviction manager can re-check the store's size; *cleanup.Manager
// satisfies it. Grounded on the teacher's proxy.Handler, which calls
// cleanupManager.NotifyWrite() right after a successful cache write.
type CleanupNotifier interface {
	NotifyWrite()
}

// Pipeline wires every component named in §4.1 into the single process
// entry point. One Pipeline serves every configured network; the cache
// store, coalescer and upstream client are shared resources (§5).
type Pipeline struct {
	logger     *zap.Logger
	registry   *netconf.Registry
	runtimes   map[string]*networkRuntime
	store      cachestore.Store
	coalescer  *coalesce.Coalescer
	client     *upstream.Client
	blockCache *blockcache.Cache
	cleanup    CleanupNotifier
	maxAge     time.Duration
	clock      clockwork.Clock
}

// Config configures the parts of a Pipeline not owned by the network
// registry.
type Config struct {
	MaxAge        time.Duration
	BreakerConfig breaker.Config
	QueueConfig   queue.Config
}

// New builds a Pipeline for every network in registry, sharing store,
// client and blockCache across all of them (§5 Shared resources). cleanup
// may be nil when no eviction manager is running.
func New(logger *zap.Logger, registry *netconf.Registry, store cachestore.Store, client *upstream.Client, blockCache *blockcache.Cache, cleanup CleanupNotifier, clock clockwork.Clock, cfg Config) *Pipeline {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	runtimes := make(map[string]*networkRuntime, len(registry.Keys()))
	for _, key := range registry.Keys() {
		network, _ := registry.Lookup(key)
		runtimes[key] = &networkRuntime{
			network: network,
			breaker: breaker.New(cfg.BreakerConfig, clock),
			queue:   queue.New(cfg.QueueConfig),
		}
	}

	return &Pipeline{
		logger:     logger,
		registry:   registry,
		runtimes:   runtimes,
		store:      store,
		coalescer:  coalesce.New(),
		client:     client,
		blockCache: blockCache,
		cleanup:    cleanup,
		maxAge:     cfg.MaxAge,
		clock:      clock,
	}
}

// BreakerSnapshots reports every network's current breaker state, for
// GET /stats (§6).
func (p *Pipeline) BreakerSnapshots() map[string]breaker.Snapshot {
	snapshots := make(map[string]breaker.Snapshot, len(p.runtimes))
	for key, rt := range p.runtimes {
		snapshots[key] = rt.breaker.Snapshot()
	}
	return snapshots
}

// Process implements §4.1's public contract. It never returns an error: any
// failure is rendered into a JSON-RPC error response in the returned value.
func (p *Pipeline) Process(ctx context.Context, req jsonrpc.Request, networkKey string) jsonrpc.Response {
	start := p.clock.Now()

	rt, ok := p.runtimes[networkKey]
	if !ok {
		return jsonrpc.InternalError(req.ID)
	}

	metrics.NetworkRequestsTotal.WithLabelValues(networkKey, req.Method).Inc()

	params := p.normalize(req.Method, req.Params, networkKey)

	key, err := fingerprint.Compute(networkKey, req.Method, params)
	if err != nil {
		p.logger.Warn("fingerprint failed", zap.Error(err))
		return jsonrpc.InternalError(req.ID)
	}

	cacheable, ttl := cachepolicy.Resolve(req.Method, params, p.maxAge)
	cacheStatus := "miss"

	if cacheable {
		if entry, hit, err := p.store.Get(ctx, key); err == nil && hit {
			cacheStatus = "hit"
			metrics.CacheHits.WithLabelValues(req.Method).Inc()
			p.observe(req.Method, cacheStatus, start, len(entry.Result))
			metrics.HTTPRequestsTotal.WithLabelValues(req.Method, cacheStatus, "ok").Inc()
			return decodeCachedResponse(entry, req.ID)
		}
		metrics.CacheMisses.WithLabelValues(req.Method).Inc()
	}

	resp, _, err := p.coalescer.Do(key, func() (jsonrpc.Response, error) {
		return p.execute(ctx, rt, req, params, key, networkKey, cacheable, ttl)
	})

	if err != nil {
		out := jsonrpc.UpstreamError(req.ID, err.Error())
		if errors.Is(err, errBreakerOpen) {
			out = jsonrpc.UpstreamUnavailable(req.ID)
		}
		p.observe(req.Method, cacheStatus, start, 0)
		metrics.HTTPRequestsTotal.WithLabelValues(req.Method, cacheStatus, "error").Inc()
		return out
	}

	out := resp.WithID(req.ID)
	p.observe(req.Method, cacheStatus, start, len(out.Result))
	metrics.HTTPRequestsTotal.WithLabelValues(req.Method, cacheStatus, "ok").Inc()
	return out
}

// execute performs steps 5-9 of §4.1: queue, breaker-guarded primary call,
// archive-fallback decision, and the cache write. It runs inside the
// coalescer's critical section, so concurrent identical requests share
// exactly one execution.
func (p *Pipeline) execute(ctx context.Context, rt *networkRuntime, req jsonrpc.Request, params json.RawMessage, key, networkKey string, cacheable bool, ttl time.Duration) (jsonrpc.Response, error) {
	callReq := req
	callReq.Params = params

	result, upstreamType, err := p.callPrimaryThenFallback(ctx, rt, callReq, networkKey)
	if err != nil {
		return jsonrpc.Response{}, err
	}

	if upstreamType == router.UpstreamFallback {
		metrics.ArchiveNodeRequestsTotal.WithLabelValues(networkKey, req.Method).Inc()
	}

	resp := result.Body

	if cacheable {
		if problematic, reason := cachepolicy.IsProblematic(resp.Result); problematic {
			metrics.CacheInvalidEntriesTotal.WithLabelValues(networkKey, req.Method, reason).Inc()
		} else if resp.Error == nil {
			entry := cachestore.Entry{Result: resp.Result, CreatedAt: p.clock.Now(), TTL: ttl}
			if err := p.store.Set(ctx, key, entry); err != nil {
				p.logger.Warn("cache write failed", zap.Error(err))
			} else if p.cleanup != nil {
				p.cleanup.NotifyWrite()
			}
		}
	}

	return resp, nil
}

// callPrimaryThenFallback runs step 6 against the primary, evaluates the
// archive-fallback predicate (§4.5/step 7), and retries at most once
// against the fallback upstream when the predicate fires.
func (p *Pipeline) callPrimaryThenFallback(ctx context.Context, rt *networkRuntime, req jsonrpc.Request, networkKey string) (*upstream.Result, router.UpstreamType, error) {
	result, callErr := p.callThroughBreaker(ctx, rt, rt.network.Primary, req, networkKey, router.UpstreamPrimary)

	var resp *jsonrpc.Response
	if callErr == nil {
		resp = &result.Body
	}

	shouldFallback, reason := router.ShouldFallback(req.Method, req.Params, resp, callErr)
	if !shouldFallback || rt.network.Fallback == nil {
		if callErr != nil {
			return nil, router.UpstreamPrimary, callErr
		}
		metrics.RoutingDecisionsTotal.WithLabelValues(networkKey, string(router.UpstreamPrimary), "no_fallback").Inc()
		return result, router.UpstreamPrimary, nil
	}

	metrics.FallbackRequestsTotal.WithLabelValues(networkKey, string(router.UpstreamFallback), reason).Inc()
	metrics.RoutingDecisionsTotal.WithLabelValues(networkKey, string(router.UpstreamFallback), reason).Inc()

	fallbackResult, fallbackErr := p.callThroughBreaker(ctx, rt, *rt.network.Fallback, req, networkKey, router.UpstreamFallback)
	if fallbackErr != nil {
		return nil, router.UpstreamFallback, fallbackErr
	}
	return fallbackResult, router.UpstreamFallback, nil
}

// errBreakerOpen marks a call rejected by callThroughBreaker's breaker
// guard, so Process can report it as jsonrpc.UpstreamUnavailable instead of
// the generic upstream error.
var errBreakerOpen = errors.New("circuit breaker open")

// callThroughBreaker implements step 6: queue admission, the breaker guard,
// and the upstream call, updating breaker state on the outcome.
func (p *Pipeline) callThroughBreaker(ctx context.Context, rt *networkRuntime, desc upstream.Descriptor, req jsonrpc.Request, networkKey string, upstreamType router.UpstreamType) (*upstream.Result, error) {
	allowed, _ := rt.breaker.Allow()
	if !allowed {
		return nil, fmt.Errorf("%w: network %s", errBreakerOpen, networkKey)
	}

	callStart := p.clock.Now()
	result, err := queue.Submit(ctx, rt.queue, func() (*upstream.Result, error) {
		return p.client.Call(ctx, desc, req)
	})
	metrics.UpstreamResponseTimeMS.WithLabelValues(networkKey, string(upstreamType)).Observe(msSince(p.clock, callStart))

	if upstream.IsBreakerFailure(err) {
		rt.breaker.RecordFailure()
	} else {
		rt.breaker.RecordSuccess()
	}

	if err != nil {
		return nil, err
	}

	metrics.UpstreamResponsesTotal.WithLabelValues(statusLabel(result.StatusCode)).Inc()
	return result, nil
}

// normalize implements step 1: eth_call's "latest"/"pending" block tag is
// rewritten to the cached concrete block number when the block cache is
// fresh for this network.
func (p *Pipeline) normalize(method string, params json.RawMessage, networkKey string) json.RawMessage {
	if method != "eth_call" || p.blockCache == nil || len(params) == 0 {
		return params
	}

	var args []json.RawMessage
	if err := json.Unmarshal(params, &args); err != nil || len(args) < 2 {
		return params
	}

	var tag string
	if err := json.Unmarshal(args[1], &tag); err != nil {
		return params
	}
	if tag != "latest" && tag != "pending" {
		return params
	}

	block, ok := p.blockCache.Get(networkKey)
	if !ok {
		return params
	}

	args[1], _ = json.Marshal(fmt.Sprintf("0x%x", block))
	rewritten, err := json.Marshal(args)
	if err != nil {
		return params
	}
	return rewritten
}

func (p *Pipeline) observe(method, cacheStatus string, start time.Time, size int) {
	metrics.RequestDurationMS.WithLabelValues(method, cacheStatus).Observe(msSince(p.clock, start))
	if size > 0 {
		metrics.ResponseSizeBytes.WithLabelValues(method).Observe(float64(size))
	}
}

func msSince(clock clockwork.Clock, start time.Time) float64 {
	return float64(clock.Now().Sub(start).Milliseconds())
}

func statusLabel(code int) string {
	return fmt.Sprintf("%d", code)
}

func decodeCachedResponse(entry cachestore.Entry, id json.RawMessage) jsonrpc.Response {
	return jsonrpc.Response{JSONRPC: jsonrpc.Version, Result: entry.Result, ID: id}
}
