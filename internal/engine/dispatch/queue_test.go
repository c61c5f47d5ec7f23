package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anatolykoptev/go_music/internal/engine"
)

func TestQueueOrdering(t *testing.T) {
	q := NewQueue[string](10)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, q.TryPush(engine.TierNormal, t0, "normal-early"))
	require.NoError(t, q.TryPush(engine.TierNormal, t0.Add(time.Second), "normal-late"))
	require.NoError(t, q.TryPush(engine.TierElevated, t0.Add(2*time.Second), "elevated-late"))
	require.NoError(t, q.TryPush(engine.TierElevated, t0.Add(time.Second), "elevated-early"))

	want := []string{"elevated-early", "elevated-late", "normal-early", "normal-late"}
	ctx := context.Background()
	for _, w := range want {
		got, err := q.Pop(ctx)
		require.NoError(t, err)
		assert.Equal(t, w, got)
	}
}

func TestQueueStableForEqualTimestamps(t *testing.T) {
	q := NewQueue[int](100)
	at := time.Now()
	for i := 0; i < 50; i++ {
		require.NoError(t, q.TryPush(engine.TierNormal, at, i))
	}
	for i := 0; i < 50; i++ {
		got, err := q.Pop(context.Background())
		require.NoError(t, err)
		assert.Equal(t, i, got)
	}
}

func TestQueueFullRejectsImmediately(t *testing.T) {
	q := NewQueue[int](2)
	require.NoError(t, q.TryPush(1, time.Now(), 1))
	require.NoError(t, q.TryPush(1, time.Now(), 2))
	assert.True(t, q.Full())

	done := make(chan error, 1)
	go func() { done <- q.TryPush(0, time.Now(), 3) }()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, engine.ErrQueueFull))
	case <-time.After(time.Second):
		t.Fatal("TryPush blocked on a full queue")
	}
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, 2, q.Cap())
}

func TestQueuePendingTracksDone(t *testing.T) {
	q := NewQueue[int](5)
	require.NoError(t, q.TryPush(1, time.Now(), 1))
	_, err := q.Pop(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 1, q.Pending())
	q.Done()
	assert.Equal(t, 0, q.Pending())
	q.Done()
	assert.Equal(t, 0, q.Pending(), "extra Done must not go negative")
}

func TestQueuePopBlocksUntilPush(t *testing.T) {
	q := NewQueue[string](1)
	got := make(chan string, 1)
	go func() {
		v, err := q.Pop(context.Background())
		if err == nil {
			got <- v
		}
	}()

	select {
	case <-got:
		t.Fatal("Pop returned on an empty queue")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, q.TryPush(1, time.Now(), "x"))
	select {
	case v := <-got:
		assert.Equal(t, "x", v)
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake after push")
	}
}

func TestQueuePopCancelled(t *testing.T) {
	q := NewQueue[int](1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQueueConcurrentConsumers(t *testing.T) {
	const n = 200
	q := NewQueue[int](n)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	seen := make(map[int]int)
	var wg sync.WaitGroup
	var consumed sync.WaitGroup
	consumed.Add(n)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				v, err := q.Pop(ctx)
				if err != nil {
					return
				}
				mu.Lock()
				seen[v]++
				mu.Unlock()
				consumed.Done()
			}
		}()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, q.TryPush(engine.TierNormal, time.Now(), i))
	}
	consumed.Wait()
	cancel()
	wg.Wait()

	assert.Len(t, seen, n)
	for v, c := range seen {
		assert.Equal(t, 1, c, "value %d delivered %d times", v, c)
	}
}
