// Package queue implements the per-network Request Queue of §2/§4.1 step 5:
// it bounds in-flight upstream requests to a concurrency limit and enforces
// a per-interval submission cap. Concurrency is provided by an
// alitto/pond/v2 result pool (grounded on the pack's own bounded fan-out
// pattern, e.g. malbeclabs-doublezero's getCircuitLatenciesPool), and the
// interval cap by golang.org/x/time/rate (already a teacher dependency,
// moved here from the teacher's handler-level limiter to the per-network
// queue the spec calls for).
package queue

import (
	"context"
	"fmt"

	"github.com/alitto/pond/v2"
	"golang.org/x/time/rate"
)

// Config configures one network's queue.
type Config struct {
	// Concurrency bounds the number of upstream calls in flight at once.
	Concurrency int
	// PerIntervalCap bounds how many submissions may start per second
	// (token bucket with a burst of PerIntervalCap). Zero disables the cap.
	PerIntervalCap int
}

// Queue bounds concurrency and rate for one network's upstream calls.
type Queue struct {
	pool    pond.ResultPool[any]
	limiter *rate.Limiter
}

// New constructs a per-network Queue. A Concurrency below 1 is treated as 1.
func New(cfg Config) *Queue {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	q := &Queue{pool: pond.NewResultPool[any](concurrency)}
	if cfg.PerIntervalCap > 0 {
		q.limiter = rate.NewLimiter(rate.Limit(cfg.PerIntervalCap), cfg.PerIntervalCap)
	}
	return q
}

// Submit runs fn, queueing it behind the concurrency/rate limits. It blocks
// until fn has a slot and completes, or ctx is done first.
func Submit[T any](ctx context.Context, q *Queue, fn func() (T, error)) (T, error) {
	var zero T

	if q.limiter != nil {
		if err := q.limiter.Wait(ctx); err != nil {
			return zero, fmt.Errorf("queue: rate limit wait: %w", err)
		}
	}

	group := q.pool.NewGroupContext(ctx)
	group.SubmitErr(func() (any, error) {
		return fn()
	})

	results, err := group.Wait()
	if err != nil {
		return zero, err
	}
	if len(results) == 0 {
		return zero, fmt.Errorf("queue: no result produced")
	}
	v, ok := results[0].(T)
	if !ok {
		return zero, fmt.Errorf("queue: unexpected result type")
	}
	return v, nil
}

// StopAndWait drains the pool, waiting for in-flight tasks to finish.
func (q *Queue) StopAndWait() {
	q.pool.StopAndWait()
}
