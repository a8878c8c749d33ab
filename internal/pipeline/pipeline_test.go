package pipeline_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rpcguard/rpcguard/internal/breaker"
	"github.com/rpcguard/rpcguard/internal/cachestore"
	"github.com/rpcguard/rpcguard/internal/config"
	"github.com/rpcguard/rpcguard/internal/jsonrpc"
	"github.com/rpcguard/rpcguard/internal/netconf"
	"github.com/rpcguard/rpcguard/internal/pipeline"
	"github.com/rpcguard/rpcguard/internal/queue"
	"github.com/rpcguard/rpcguard/internal/upstream"
)

func buildPipeline(t *testing.T, primaryURL, fallbackURL string) *pipeline.Pipeline {
	t.Helper()

	cfg := config.RPCConfig{
		Networks: map[string]config.NetworkConfig{
			"mainnet": {URL: primaryURL, FallbackURL: fallbackURL, Timeout: time.Second, RetryDelay: time.Millisecond},
		},
	}
	registry, err := netconf.Build(cfg)
	require.NoError(t, err)

	store := cachestore.NewMemory(clockwork.NewRealClock())
	t.Cleanup(func() { store.Close() })

	client := upstream.NewClient(upstream.DefaultConfig())

	return pipeline.New(zap.NewNop(), registry, store, client, nil, nil, clockwork.NewRealClock(), pipeline.Config{
		MaxAge:        30 * time.Second,
		BreakerConfig: breaker.Config{FailureThreshold: 5, RecoveryTimeout: time.Minute, MonitoringPeriod: time.Minute},
		QueueConfig:   queue.Config{Concurrency: 10},
	})
}

func jsonRPCHandler(t *testing.T, result string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req jsonrpc.Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		json.NewEncoder(w).Encode(jsonrpc.Response{JSONRPC: jsonrpc.Version, Result: json.RawMessage(result), ID: req.ID})
	}
}

func TestProcess_CacheMissThenHit(t *testing.T) {
	var calls int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		jsonRPCHandler(t, `"0x1"`)(w, r)
	}))
	defer primary.Close()

	p := buildPipeline(t, primary.URL, "")
	ctx := context.Background()

	resp1 := p.Process(ctx, jsonrpc.Request{JSONRPC: jsonrpc.Version, Method: "eth_chainId", Params: []byte(`[]`), ID: []byte(`1`)}, "mainnet")
	assert.Equal(t, json.RawMessage(`"0x1"`), resp1.Result)
	assert.Equal(t, json.RawMessage(`1`), resp1.ID)

	resp2 := p.Process(ctx, jsonrpc.Request{JSONRPC: jsonrpc.Version, Method: "eth_chainId", Params: []byte(`[]`), ID: []byte(`2`)}, "mainnet")
	assert.Equal(t, json.RawMessage(`"0x1"`), resp2.Result)
	assert.Equal(t, json.RawMessage(`2`), resp2.ID)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "cache hit must not re-contact the upstream")
}

func TestProcess_NullResultTriggersArchiveFallback(t *testing.T) {
	primary := httptest.NewServer(jsonRPCHandler(t, "null"))
	defer primary.Close()
	fallback := httptest.NewServer(jsonRPCHandler(t, `[{"logIndex":1}]`))
	defer fallback.Close()

	p := buildPipeline(t, primary.URL, fallback.URL)

	resp := p.Process(context.Background(), jsonrpc.Request{JSONRPC: jsonrpc.Version, Method: "eth_getLogs", Params: []byte(`[{}]`), ID: []byte(`7`)}, "mainnet")
	assert.Equal(t, json.RawMessage(`[{"logIndex":1}]`), resp.Result)
}

func TestProcess_ErrorPatternTriggersArchiveFallback(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req jsonrpc.Request
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(jsonrpc.Response{
			JSONRPC: jsonrpc.Version,
			Error:   &jsonrpc.Error{Code: -32000, Message: "block not found"},
			ID:      req.ID,
		})
	}))
	defer primary.Close()
	fallback := httptest.NewServer(jsonRPCHandler(t, `"0xdeadbeef"`))
	defer fallback.Close()

	p := buildPipeline(t, primary.URL, fallback.URL)

	resp := p.Process(context.Background(), jsonrpc.Request{JSONRPC: jsonrpc.Version, Method: "eth_getBalance", Params: []byte(`["0xabc","0x10"]`), ID: []byte(`9`)}, "mainnet")
	assert.Equal(t, json.RawMessage(`"0xdeadbeef"`), resp.Result)
}

func TestProcess_SuccessfulPrimaryNeverContactsFallback(t *testing.T) {
	primary := httptest.NewServer(jsonRPCHandler(t, `"0x5"`))
	defer primary.Close()

	var fallbackCalls int32
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fallbackCalls, 1)
		jsonRPCHandler(t, `"0x9"`)(w, r)
	}))
	defer fallback.Close()

	p := buildPipeline(t, primary.URL, fallback.URL)
	resp := p.Process(context.Background(), jsonrpc.Request{JSONRPC: jsonrpc.Version, Method: "eth_getBalance", Params: []byte(`["0xabc","0x10"]`), ID: []byte(`1`)}, "mainnet")

	assert.Equal(t, json.RawMessage(`"0x5"`), resp.Result)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fallbackCalls))
}

func TestProcess_UnknownNetworkYieldsInternalError(t *testing.T) {
	p := buildPipeline(t, "http://127.0.0.1:0", "")
	resp := p.Process(context.Background(), jsonrpc.Request{JSONRPC: jsonrpc.Version, Method: "eth_chainId", ID: []byte(`1`)}, "does-not-exist")
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.CodeInternalError, resp.Error.Code)
}
