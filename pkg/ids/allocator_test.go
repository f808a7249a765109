package ids

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestAllocatorSeedAndNext(t *testing.T) {
	a := NewAllocator(1, quietLogger())
	assert.False(t, a.Ready())

	a.Seed(100)
	assert.True(t, a.Ready())
	assert.Equal(t, int64(100), a.Next())
	assert.Equal(t, int64(101), a.Next())
	assert.False(t, a.Degraded())
}

func TestAllocatorReseedNeverGoesBackwards(t *testing.T) {
	a := NewAllocator(1, quietLogger())
	a.Seed(50)
	a.Next()
	a.Next()

	a.Seed(10)
	assert.Equal(t, int64(52), a.Next())

	a.Seed(200)
	assert.Equal(t, int64(200), a.Next())
}

func TestAllocatorNextNIsContiguous(t *testing.T) {
	a := NewSequence(7, quietLogger())
	assert.Equal(t, []int64{7, 8, 9}, a.NextN(3))
	assert.Equal(t, int64(10), a.Next())
	assert.Nil(t, a.NextN(0))
}

func TestAllocatorFallbackWhenUnseeded(t *testing.T) {
	a := NewAllocator(1000, quietLogger())
	assert.Equal(t, int64(1000), a.Peek())
	assert.Equal(t, int64(1000), a.Next())
	assert.True(t, a.Degraded())
	assert.True(t, a.Ready())

	a.Seed(5000)
	assert.Equal(t, int64(5000), a.Next())
}

func TestAllocatorWaitReady(t *testing.T) {
	a := NewAllocator(1, quietLogger())
	assert.False(t, a.WaitReady(context.Background(), 10*time.Millisecond))

	go func() {
		time.Sleep(5 * time.Millisecond)
		a.Seed(3)
	}()
	assert.True(t, a.WaitReady(context.Background(), time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := NewAllocator(1, quietLogger())
	assert.False(t, b.WaitReady(ctx, time.Second))
}

func TestAllocatorConcurrentUnique(t *testing.T) {
	a := NewSequence(1, quietLogger())

	const workers, per = 16, 500
	results := make(chan int64, workers*per)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < per; i++ {
				results <- a.Next()
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int64]bool, workers*per)
	for id := range results {
		require.False(t, seen[id], "id %d handed out twice", id)
		seen[id] = true
	}
	assert.Len(t, seen, workers*per)
}
