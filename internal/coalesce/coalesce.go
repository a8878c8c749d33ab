// Package coalesce implements the In-flight Coalescer of §2/§4.1 step 4/§9:
// concurrent identical requests share one upstream call. It is a thin
// wrapper over golang.org/x/sync/singleflight, grounded on the pack's own
// TTL+singleflight fetch wrapper
// (client/doublezerod/internal/onchain.CachingFetcher): singleflight's Do
// already performs the atomic "check in-flight, else insert" critical
// section §9 calls for, so there is no hand-rolled map/mutex to get wrong.
package coalesce

import (
	"github.com/rpcguard/rpcguard/internal/jsonrpc"
	"golang.org/x/sync/singleflight"
)

// Coalescer maps a fingerprint to the one pending upstream call computing
// its result.
type Coalescer struct {
	group singleflight.Group
}

// New constructs an empty Coalescer.
func New() *Coalescer {
	return &Coalescer{}
}

// Do runs fn if no call for key is already in flight, otherwise waits for
// the in-flight call and returns its result to this caller too. shared
// reports whether the result was shared with at least one other caller.
// The in-flight entry is removed automatically once fn settles (success or
// failure), matching §4.1 step 9.
func (c *Coalescer) Do(key string, fn func() (jsonrpc.Response, error)) (resp jsonrpc.Response, shared bool, err error) {
	v, err, shared := c.group.Do(key, func() (any, error) {
		return fn()
	})
	if v == nil {
		return jsonrpc.Response{}, shared, err
	}
	return v.(jsonrpc.Response), shared, err
}
