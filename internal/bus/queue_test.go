package bus

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading/pkg/exception"
)

func TestQueue(t *testing.T) {
	q := NewQueue[int](2)
	require.NoError(t, q.TryPublish(1))
	require.NoError(t, q.TryPublish(2))
	assert.ErrorIs(t, q.TryPublish(3), exception.ErrQueueFull)
	assert.Equal(t, 2, q.Len())

	q.Close()
	q.Close()
	assert.ErrorIs(t, q.TryPublish(4), exception.ErrQueueClosed)

	var got []int
	q.Run(context.Background(), func(v int) { got = append(got, v) })
	assert.Equal(t, []int{1, 2}, got)
}

func TestQueueConcurrentPublishers(t *testing.T) {
	q := NewQueue[int](1000)
	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 100 {
				_ = q.TryPublish(i*100 + j)
			}
		}()
	}
	wg.Wait()
	q.Close()

	n := 0
	q.Run(context.Background(), func(int) { n++ })
	assert.Equal(t, 1000, n)
}

func TestQueueRunStopsOnCancel(t *testing.T) {
	q := NewQueue[int](1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	q.Run(ctx, func(int) { t.Fatal("unexpected item") })
}
