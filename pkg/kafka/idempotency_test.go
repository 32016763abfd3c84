package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryIdempotencyStore_AddAndContains(t *testing.T) {
	store := NewMemoryIdempotencyStore(time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, "evt-1"))

	got, err := store.Contains(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, got)

	got, err = store.Contains(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, got)
}

func TestMemoryIdempotencyStore_Expiry(t *testing.T) {
	store := NewMemoryIdempotencyStore(10 * time.Millisecond)
	ctx := context.Background()
	require.NoError(t, store.Add(ctx, "evt"))

	time.Sleep(20 * time.Millisecond)

	got, err := store.Contains(ctx, "evt")
	require.NoError(t, err)
	assert.False(t, got)
	assert.Equal(t, 0, store.Len())
}

func TestMemoryIdempotencyStore_ConcurrentAccess(t *testing.T) {
	store := NewMemoryIdempotencyStore(time.Minute)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.Add(ctx, "shared")
			_, _ = store.Contains(ctx, "shared")
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, store.Len())
}

func TestRedisIdempotencyStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisIdempotencyStore(client, "stocksync:seen:", time.Minute)
	ctx := context.Background()

	got, err := store.Contains(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, got)

	require.NoError(t, store.Add(ctx, "evt-1"))
	got, err = store.Contains(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, got)
	assert.True(t, mr.Exists("stocksync:seen:evt-1"))

	mr.FastForward(2 * time.Minute)
	got, err = store.Contains(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, got)
}

type failingStore struct{}

func (failingStore) Contains(context.Context, string) (bool, error) { return false, errors.New("down") }
func (failingStore) Add(context.Context, string) error             { return errors.New("down") }

func TestIdempotentHandler(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryIdempotencyStore(time.Minute)

	calls := 0
	inner := func(context.Context, *Event) error {
		calls++
		return nil
	}
	h := IdempotentHandler(store, "t", "g", inner, testLogger())

	event := &Event{EventID: "evt-1"}
	require.NoError(t, h(ctx, event))
	require.NoError(t, h(ctx, event))
	assert.Equal(t, 1, calls)

	require.NoError(t, h(ctx, &Event{}))
	require.NoError(t, h(ctx, &Event{}))
	assert.Equal(t, 3, calls, "events without id always pass through")
}

func TestIdempotentHandler_ErrorNotRecorded(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryIdempotencyStore(time.Minute)

	fail := true
	inner := func(context.Context, *Event) error {
		if fail {
			return errors.New("transient")
		}
		return nil
	}
	h := IdempotentHandler(store, "t", "g", inner, testLogger())

	require.Error(t, h(ctx, &Event{EventID: "evt"}))
	fail = false
	require.NoError(t, h(ctx, &Event{EventID: "evt"}))

	seen, _ := store.Contains(ctx, "evt")
	assert.True(t, seen)
}

func TestIdempotentHandler_StoreFailureProcesses(t *testing.T) {
	calls := 0
	h := IdempotentHandler(failingStore{}, "t", "g", func(context.Context, *Event) error {
		calls++
		return nil
	}, testLogger())

	require.NoError(t, h(context.Background(), &Event{EventID: "x"}))
	assert.Equal(t, 1, calls)
}
