package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunUntilParkedWaitsForSpawnedWork(t *testing.T) {
	ex := New()
	var mu sync.Mutex
	var done []int
	for i := 0; i < 10; i++ {
		ex.Go(func() {
			time.Sleep(time.Millisecond)
			mu.Lock()
			done = append(done, i)
			mu.Unlock()
		})
	}
	ex.RunUntilParked()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, done, 10)
	require.Equal(t, 0, ex.Pending())
}

func TestQueueCountsItemsUntilDone(t *testing.T) {
	ex := New()
	q := NewQueue[string](ex)
	require.True(t, q.Push("a"))
	require.True(t, q.Push("b"))
	require.Equal(t, 2, ex.Pending())

	v, end, ok := q.TryPop()
	require.True(t, ok)
	require.Equal(t, "a", v)
	end()
	end()
	require.Equal(t, 1, ex.Pending())

	q.Close()
	require.Equal(t, 0, ex.Pending())
	require.False(t, q.Push("c"))
	_, _, ok = q.TryPop()
	require.False(t, ok)
}

func TestLatestQueueKeepsOneItem(t *testing.T) {
	ex := New()
	q := NewLatest[int](ex)
	q.Push(1)
	q.Push(2)
	q.Push(3)
	require.Equal(t, 1, q.Len())
	require.Equal(t, 1, ex.Pending())

	v, end, ok := q.TryPop()
	require.True(t, ok)
	require.Equal(t, 3, v)
	end()
	require.Equal(t, 0, ex.Pending())
}

func TestEmitterDeliversInOrder(t *testing.T) {
	ex := New()
	em := NewEmitter[int](ex)

	var mu sync.Mutex
	var got []int
	cancel := em.Subscribe(func(v int) {
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
	})
	for i := 0; i < 100; i++ {
		em.Emit(i)
	}
	ex.RunUntilParked()
	cancel()
	em.Emit(100)
	ex.RunUntilParked()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 100)
	for i, v := range got {
		require.Equal(t, i, v)
	}
}

func TestWaitParkedHonoursContext(t *testing.T) {
	ex := New()
	end := ex.Begin()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := ex.WaitParked(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Contains(t, err.Error(), "1 tasks still pending")

	end()
	require.NoError(t, ex.WaitParked(context.Background()))
}
