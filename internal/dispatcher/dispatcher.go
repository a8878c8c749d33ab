// Package dispatcher implements the batch handling of §4.7: an ordered
// request array is processed through the pipeline with bounded
// parallelism, and responses are reassembled in the same order, each
// failure isolated to its own index. Grounded on the pack's own bounded
// fan-out pattern (malbeclabs-doublezero's
// controlplane/telemetry/internal/data/internet.getCircuitLatencies, which
// chunks work behind a pond result pool) rather than the teacher, which
// never had to handle batches.
package dispatcher

import (
	"context"

	"github.com/alitto/pond/v2"

	"github.com/rpcguard/rpcguard/internal/jsonrpc"
)

// Processor is the single-request entry point batches are dispatched
// through; *pipeline.Pipeline satisfies it.
type Processor interface {
	Process(ctx context.Context, req jsonrpc.Request, networkKey string) jsonrpc.Response
}

// Dispatcher bounds batch fan-out to a configured concurrency limit
// (§4.7 batchConcurrencyLimit, default 10).
type Dispatcher struct {
	pipeline Processor
	pool     pond.ResultPool[indexedResponse]
}

type indexedResponse struct {
	index    int
	response jsonrpc.Response
}

// New constructs a Dispatcher. concurrency <= 0 defaults to 10.
func New(pipeline Processor, concurrency int) *Dispatcher {
	if concurrency <= 0 {
		concurrency = 10
	}
	return &Dispatcher{pipeline: pipeline, pool: pond.NewResultPool[indexedResponse](concurrency)}
}

// DispatchOne runs a single request through the pipeline; used by the
// server for non-batch POSTs.
func (d *Dispatcher) DispatchOne(ctx context.Context, req jsonrpc.Request, networkKey string) jsonrpc.Response {
	return d.pipeline.Process(ctx, req, networkKey)
}

// DispatchBatch runs every request in reqs through the pipeline, at most
// the dispatcher's configured concurrency at a time, and returns responses
// in the same order (§4.7: same length and order, notifications still
// answered by index). A single item's failure never aborts the batch: the
// pipeline itself never errors out of Process, it renders the failure into
// that item's JSON-RPC error response.
func (d *Dispatcher) DispatchBatch(ctx context.Context, reqs []jsonrpc.Request, networkKey string) []jsonrpc.Response {
	group := d.pool.NewGroupContext(ctx)

	for i, req := range reqs {
		i, req := i, req
		group.SubmitErr(func() (indexedResponse, error) {
			resp := d.pipeline.Process(ctx, req, networkKey)
			return indexedResponse{index: i, response: resp}, nil
		})
	}

	results, _ := group.Wait()

	responses := make([]jsonrpc.Response, len(reqs))
	for _, r := range results {
		responses[r.index] = r.response
	}
	return responses
}
