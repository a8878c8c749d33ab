package breaker

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{FailureThreshold: 3, RecoveryTimeout: 10 * time.Second, MonitoringPeriod: time.Minute}
}

func TestBreaker_ClosedAllowsRequests(t *testing.T) {
	b := New(testConfig(), clockwork.NewFakeClock())
	allowed, isProbe := b.Allow()
	assert.True(t, allowed)
	assert.False(t, isProbe)
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b := New(testConfig(), clockwork.NewFakeClock())

	for i := 0; i < 3; i++ {
		allowed, _ := b.Allow()
		require.True(t, allowed)
		b.RecordFailure()
	}

	assert.Equal(t, Open, b.Snapshot().State)

	allowed, _ := b.Allow()
	assert.False(t, allowed)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := New(testConfig(), clockwork.NewFakeClock())

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	assert.Equal(t, 0, b.Snapshot().ConsecutiveFailures)

	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, Closed, b.Snapshot().State)
}

func TestBreaker_OpenToHalfOpenAfterRecoveryTimeout(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := New(testConfig(), clock)

	for i := 0; i < 3; i++ {
		b.Allow()
		b.RecordFailure()
	}
	require.Equal(t, Open, b.Snapshot().State)

	allowed, _ := b.Allow()
	assert.False(t, allowed, "still within recovery timeout")

	clock.Advance(10 * time.Second)

	allowed, isProbe := b.Allow()
	assert.True(t, allowed)
	assert.True(t, isProbe)
	assert.Equal(t, HalfOpen, b.Snapshot().State)
}

func TestBreaker_HalfOpenOnlyAllowsOneProbe(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := New(testConfig(), clock)

	for i := 0; i < 3; i++ {
		b.Allow()
		b.RecordFailure()
	}
	clock.Advance(10 * time.Second)

	allowed, isProbe := b.Allow()
	require.True(t, allowed)
	require.True(t, isProbe)

	allowed, _ = b.Allow()
	assert.False(t, allowed, "a second concurrent probe must be rejected")
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := New(testConfig(), clock)

	for i := 0; i < 3; i++ {
		b.Allow()
		b.RecordFailure()
	}
	clock.Advance(10 * time.Second)
	b.Allow()
	b.RecordSuccess()

	assert.Equal(t, Closed, b.Snapshot().State)
	allowed, _ := b.Allow()
	assert.True(t, allowed)
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := New(testConfig(), clock)

	for i := 0; i < 3; i++ {
		b.Allow()
		b.RecordFailure()
	}
	clock.Advance(10 * time.Second)
	b.Allow()
	b.RecordFailure()

	assert.Equal(t, Open, b.Snapshot().State)
	allowed, _ := b.Allow()
	assert.False(t, allowed)
}
