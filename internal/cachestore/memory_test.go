package cachestore

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_SetAndGet(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewMemory(clock)
	defer m.Close()
	ctx := context.Background()

	err := m.Set(ctx, "key1", Entry{Result: []byte(`"0x1"`), CreatedAt: clock.Now(), TTL: time.Minute})
	require.NoError(t, err)

	entry, ok, err := m.Get(ctx, "key1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte(`"0x1"`), entry.Result)
}

func TestMemory_MissOnUnknownKey(t *testing.T) {
	m := NewMemory(clockwork.NewFakeClock())
	defer m.Close()

	_, ok, err := m.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory_ExpiredEntryIsAMiss(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewMemory(clock)
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "key1", Entry{Result: []byte(`"x"`), CreatedAt: clock.Now(), TTL: time.Second}))

	clock.Advance(2 * time.Second)

	_, ok, err := m.Get(ctx, "key1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory_InfiniteTTLNeverExpires(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewMemory(clock)
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "key1", Entry{Result: []byte(`"x"`), TTL: 0}))
	clock.Advance(24 * time.Hour)

	_, ok, err := m.Get(ctx, "key1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemory_Clear(t *testing.T) {
	m := NewMemory(clockwork.NewFakeClock())
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "key1", Entry{Result: []byte(`"x"`)}))
	require.NoError(t, m.Clear(ctx))

	_, ok, _ := m.Get(ctx, "key1")
	assert.False(t, ok)

	size, err := m.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)
}

func TestMemory_SizeAndItemCount(t *testing.T) {
	m := NewMemory(clockwork.NewFakeClock())
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "key1", Entry{Result: []byte("12345")}))
	require.NoError(t, m.Set(ctx, "key2", Entry{Result: []byte("67")}))

	size, err := m.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), size)

	count, err := m.ItemCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestMemory_PruneEvictsLeastRecentlyAccessedFirst(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewMemory(clock)
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "old", Entry{Result: []byte("12345")}))
	clock.Advance(time.Second)
	require.NoError(t, m.Set(ctx, "new", Entry{Result: []byte("67890")}))

	freed, err := m.Prune(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), freed)

	_, ok, _ := m.Get(ctx, "old")
	assert.False(t, ok, "the least-recently-accessed entry should be evicted first")

	_, ok, _ = m.Get(ctx, "new")
	assert.True(t, ok)
}
