package music

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionLockRunsTurnsInSubmissionOrder(t *testing.T) {
	l := NewSessionLock()

	var mu sync.Mutex
	var got []int
	for i := 0; i < 50; i++ {
		require.NoError(t, l.Go(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}
	require.NoError(t, l.Do(context.Background(), func() error { return nil }))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 50)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestSessionLockSerializesBodies(t *testing.T) {
	l := NewSessionLock()

	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Do(context.Background(), func() error {
				n := atomic.AddInt32(&active, 1)
				for {
					m := atomic.LoadInt32(&maxActive)
					if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxActive))
}

func TestSessionLockClose(t *testing.T) {
	l := NewSessionLock()

	release := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = l.Do(context.Background(), func() error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	var queuedRan atomic.Bool
	require.NoError(t, l.Go(func() { queuedRan.Store(true) }))

	l.Close()
	assert.True(t, l.Closed())
	assert.ErrorIs(t, l.Do(context.Background(), func() error { return nil }), ErrSessionClosed)
	assert.ErrorIs(t, l.Go(func() {}), ErrSessionClosed)

	close(release)
	require.Eventually(t, queuedRan.Load, time.Second, 5*time.Millisecond)
}

func TestSessionLockCancelledWaiterKeepsOrder(t *testing.T) {
	l := NewSessionLock()

	release := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = l.Do(context.Background(), func() error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	var cancelledRan atomic.Bool
	err := l.Do(ctx, func() error {
		cancelledRan.Store(true)
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	var nextRan atomic.Bool
	require.NoError(t, l.Go(func() { nextRan.Store(true) }))
	time.Sleep(10 * time.Millisecond)
	assert.False(t, nextRan.Load(), "turn ran before the holder released")

	close(release)
	require.Eventually(t, nextRan.Load, time.Second, 5*time.Millisecond)
	assert.False(t, cancelledRan.Load())
}

func TestWithLockReturnsValue(t *testing.T) {
	l := NewSessionLock()

	v, err := WithLock(context.Background(), l, func() (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)

	l.Close()
	v, err = WithLock(context.Background(), l, func() (string, error) {
		return "unreachable", nil
	})
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.Empty(t, v)
}
