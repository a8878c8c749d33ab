package dispatcher_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpcguard/rpcguard/internal/dispatcher"
	"github.com/rpcguard/rpcguard/internal/jsonrpc"
)

// stubProcessor answers eth_getBalance with an error response and every
// other method with a result carrying the request's own id, so tests can
// verify per-index isolation without standing up a real pipeline.
type stubProcessor struct{}

func (stubProcessor) Process(_ context.Context, req jsonrpc.Request, _ string) jsonrpc.Response {
	if req.Method == "eth_getBalance" {
		return jsonrpc.Response{
			JSONRPC: jsonrpc.Version,
			Error:   &jsonrpc.Error{Code: -32601, Message: "boom"},
			ID:      req.ID,
		}
	}
	return jsonrpc.Response{JSONRPC: jsonrpc.Version, Result: req.ID, ID: req.ID}
}

func TestDispatchBatch_OneFailingItemDoesNotAbortBatch(t *testing.T) {
	d := dispatcher.New(stubProcessor{}, 4)

	reqs := []jsonrpc.Request{
		{JSONRPC: jsonrpc.Version, Method: "eth_chainId", ID: json.RawMessage(`1`)},
		{JSONRPC: jsonrpc.Version, Method: "eth_getBalance", ID: json.RawMessage(`2`)},
		{JSONRPC: jsonrpc.Version, Method: "eth_blockNumber", ID: json.RawMessage(`3`)},
	}

	resps := d.DispatchBatch(context.Background(), reqs, "mainnet")

	require.Len(t, resps, 3)
	assert.Nil(t, resps[0].Error)
	assert.Equal(t, json.RawMessage(`1`), resps[0].ID)

	require.NotNil(t, resps[1].Error)
	assert.Equal(t, json.RawMessage(`2`), resps[1].ID)

	assert.Nil(t, resps[2].Error)
	assert.Equal(t, json.RawMessage(`3`), resps[2].ID)
}

func TestDispatchBatch_PreservesOrderUnderConcurrency(t *testing.T) {
	d := dispatcher.New(stubProcessor{}, 8)

	var reqs []jsonrpc.Request
	for i := 0; i < 50; i++ {
		id, _ := json.Marshal(i)
		reqs = append(reqs, jsonrpc.Request{JSONRPC: jsonrpc.Version, Method: "eth_blockNumber", ID: id})
	}

	resps := d.DispatchBatch(context.Background(), reqs, "mainnet")
	require.Len(t, resps, 50)
	for i, resp := range resps {
		want, _ := json.Marshal(i)
		assert.Equal(t, json.RawMessage(want), resp.ID, "index %d", i)
	}
}

func TestDispatchOne(t *testing.T) {
	d := dispatcher.New(stubProcessor{}, 1)
	resp := d.DispatchOne(context.Background(), jsonrpc.Request{JSONRPC: jsonrpc.Version, Method: "eth_chainId", ID: json.RawMessage(`9`)}, "mainnet")
	assert.Nil(t, resp.Error)
	assert.Equal(t, json.RawMessage(`9`), resp.ID)
}
