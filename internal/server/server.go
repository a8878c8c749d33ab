// Package server implements the HTTP surface of §6: POST / and POST
// /:network for JSON-RPC (single or batched), GET /health, GET /stats,
// GET /metrics, and POST /cache/clear. Generalized from the teacher's
// server.New (a single chi router mounting one proxy.Handler at "/") to
// the multi-network, multi-route surface the spec requires, keeping the
// teacher's auth-middleware and promhttp-mount pattern.
package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rpcguard/rpcguard/internal/breaker"
	"github.com/rpcguard/rpcguard/internal/cachestore"
	"github.com/rpcguard/rpcguard/internal/cleanup"
	"github.com/rpcguard/rpcguard/internal/dispatcher"
	"github.com/rpcguard/rpcguard/internal/jsonrpc"
	"github.com/rpcguard/rpcguard/internal/netconf"
)

// maxBodyBytes bounds request size so a single caller cannot exhaust memory
// decoding an unbounded batch (§6 request validation).
const maxBodyBytes = 10 << 20

// version is reported by GET /health (§6).
const version = "0.1.0"

// Config configures the HTTP surface.
type Config struct {
	Addr           string
	AuthToken      string
	AllowedOrigins []string
	HelmetEnabled  bool
}

// Server owns the HTTP listener and the background cleanup manager.
type Server struct {
	logger         *zap.Logger
	httpServer     *http.Server
	cleanupManager *cleanup.Manager
	startedAt      time.Time
}

// BreakerSnapshotter exposes per-network breaker state for GET /stats;
// *pipeline.Pipeline satisfies it.
type BreakerSnapshotter interface {
	BreakerSnapshots() map[string]breaker.Snapshot
}

// New builds a Server exposing the registry's networks through dispatch,
// backed by store for /stats and /cache/clear.
func New(logger *zap.Logger, cfg Config, registry *netconf.Registry, dispatch *dispatcher.Dispatcher, store cachestore.Store, cleanupManager *cleanup.Manager, breakers BreakerSnapshotter) *Server {
	startedAt := time.Now()

	r := chi.NewRouter()

	r.Use(securityHeaders(cfg))

	r.Get("/health", healthHandler(startedAt, registry))

	r.Group(func(r chi.Router) {
		if cfg.AuthToken != "" {
			r.Use(authMiddleware(cfg.AuthToken))
		}

		r.Handle("/metrics", promhttp.Handler())

		r.Get("/stats", statsHandler(logger, registry, store, breakers))
		r.Post("/cache/clear", clearCacheHandler(logger, store))

		r.Post("/", rpcHandler(dispatch, registry, registry.DefaultKey()))
		r.Post("/{network}", rpcHandler(dispatch, registry, ""))
	})

	return &Server{
		logger: logger,
		httpServer: &http.Server{
			Addr:    cfg.Addr,
			Handler: r,
		},
		cleanupManager: cleanupManager,
		startedAt:      startedAt,
	}
}

// Start begins serving, blocking until the listener stops.
func (s *Server) Start() error {
	if s.cleanupManager != nil {
		s.cleanupManager.Start()
	}
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the listener and the cleanup manager.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cleanupManager != nil {
		s.cleanupManager.Stop()
	}
	return s.httpServer.Shutdown(ctx)
}

func authMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer "+token {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// securityHeaders applies the teacher's acknowledged-but-external CORS and
// helmet-style security headers (§1 Out of scope, §6) at the edge, without
// pulling in a dedicated middleware stack the pack never demonstrates.
func securityHeaders(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(cfg.AllowedOrigins) > 0 {
				origin := r.Header.Get("Origin")
				for _, allowed := range cfg.AllowedOrigins {
					if allowed == "*" || allowed == origin {
						w.Header().Set("Access-Control-Allow-Origin", origin)
						w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
						w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
						break
					}
				}
			}
			if cfg.HelmetEnabled {
				w.Header().Set("X-Content-Type-Options", "nosniff")
				w.Header().Set("X-Frame-Options", "DENY")
				w.Header().Set("Referrer-Policy", "no-referrer")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// rpcHandler decodes a single request or a batch array and dispatches it.
// defaultNetwork is used for POST / (empty means take {network} from the
// URL, 404ing on an unknown key per §6).
func rpcHandler(dispatch *dispatcher.Dispatcher, registry *netconf.Registry, defaultNetwork string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		networkKey := defaultNetwork
		if networkKey == "" {
			networkKey = chi.URLParam(r, "network")
		}
		if _, ok := registry.Lookup(networkKey); !ok {
			http.Error(w, "unknown network", http.StatusNotFound)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			http.Error(w, "failed to read body", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")

		if firstNonSpace(body) == '[' {
			var reqs []jsonrpc.Request
			if err := json.Unmarshal(body, &reqs); err != nil {
				http.Error(w, "invalid json", http.StatusBadRequest)
				return
			}
			responses := dispatch.DispatchBatch(r.Context(), reqs, networkKey)
			json.NewEncoder(w).Encode(responses)
			return
		}

		var req jsonrpc.Request
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		resp := dispatch.DispatchOne(r.Context(), req, networkKey)
		json.NewEncoder(w).Encode(resp)
	}
}

func firstNonSpace(body []byte) byte {
	for _, b := range body {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return b
		}
	}
	return 0
}

type healthResponse struct {
	Status    string    `json:"status"`
	Uptime    string    `json:"uptime"`
	Memory    uint64    `json:"memory"`
	Version   string    `json:"version"`
	Upstream  string    `json:"upstream"`
	Timestamp time.Time `json:"timestamp"`
}

// healthHandler reports liveness (§6 GET /health). It never probes
// upstreams synchronously — "connected" reflects that at least one
// network is configured, not a live round-trip, to keep /health cheap.
func healthHandler(startedAt time.Time, registry *netconf.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)

		upstream := "connected"
		if len(registry.Keys()) == 0 {
			upstream = "disconnected"
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(healthResponse{
			Status:    "healthy",
			Uptime:    time.Since(startedAt).String(),
			Memory:    mem.Alloc,
			Version:   version,
			Upstream:  upstream,
			Timestamp: time.Now(),
		})
	}
}

type statsResponse struct {
	Networks   []string                    `json:"networks"`
	CacheSize  int64                       `json:"cache_size_bytes"`
	CacheItems int64                       `json:"cache_items"`
	Breakers   map[string]breaker.Snapshot `json:"breakers"`
}

func statsHandler(logger *zap.Logger, registry *netconf.Registry, store cachestore.Store, breakers BreakerSnapshotter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		size, err := store.Size(r.Context())
		if err != nil {
			logger.Warn("stats: cache size lookup failed", zap.Error(err))
		}
		items, err := store.ItemCount(r.Context())
		if err != nil {
			logger.Warn("stats: cache item count lookup failed", zap.Error(err))
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(statsResponse{
			Networks:   registry.Keys(),
			CacheSize:  size,
			CacheItems: items,
			Breakers:   breakers.BreakerSnapshots(),
		})
	}
}

func clearCacheHandler(logger *zap.Logger, store cachestore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.Clear(r.Context()); err != nil {
			logger.Warn("cache clear failed", zap.Error(err))
			http.Error(w, "failed to clear cache", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]bool{"cleared": true})
	}
}
