// Package breaker implements the per-network circuit breaker of §4.2: a
// three-state machine (closed/open/half_open) that short-circuits calls to
// an upstream experiencing sustained failures. Time is supplied through a
// clockwork.Clock so the recovery-timeout transition is deterministically
// testable, the way the pack's own time-dependent components are tested.
package breaker

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// State is one of the three breaker states of §4.2.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the state by name, matching §4.2's vocabulary, for
// the /stats breaker snapshot.
func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Config holds the thresholds of §4.2.
type Config struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	MonitoringPeriod time.Duration
}

// DefaultConfig returns the defaults named in §4.2.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		MonitoringPeriod: 300 * time.Second,
	}
}

// Breaker is a single network's circuit breaker state machine.
type Breaker struct {
	cfg   Config
	clock clockwork.Clock

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	openedAt            time.Time
	probing             bool
}

// New constructs a Breaker. clock defaults to the real clock when nil.
func New(cfg Config, clock clockwork.Clock) *Breaker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.FailureThreshold <= 0 {
		cfg = DefaultConfig()
	}
	return &Breaker{cfg: cfg, clock: clock, state: Closed}
}

// Allow reports whether a request may proceed. When it returns
// (true, true) the caller is the single permitted half-open probe and must
// report the outcome via RecordSuccess/RecordFailure promptly: no other
// request is allowed through until it does (§4.2 half_open = "a single
// probe request is permitted").
func (b *Breaker) Allow() (allowed bool, isProbe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true, false
	case Open:
		if b.clock.Now().Sub(b.openedAt) >= b.cfg.RecoveryTimeout {
			b.state = HalfOpen
			b.probing = true
			return true, true
		}
		return false, false
	case HalfOpen:
		if !b.probing {
			b.probing = true
			return true, true
		}
		return false, false
	default:
		return false, false
	}
}

// RecordSuccess reports a successful call (a transport success; a JSON-RPC
// protocol error is still a breaker success per §4.2/§7).
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	if b.state == HalfOpen {
		b.state = Closed
		b.probing = false
	}
}

// RecordFailure reports a transport error or an HTTP 5xx response.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == HalfOpen {
		b.state = Open
		b.openedAt = b.clock.Now()
		b.probing = false
		return
	}

	b.consecutiveFailures++
	if b.state == Closed && b.consecutiveFailures >= b.cfg.FailureThreshold {
		b.state = Open
		b.openedAt = b.clock.Now()
	}
}

// Snapshot reports the current state for metrics/stats.
type Snapshot struct {
	State               State
	ConsecutiveFailures int
	OpenedAt            time.Time
}

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{State: b.state, ConsecutiveFailures: b.consecutiveFailures, OpenedAt: b.openedAt}
}
