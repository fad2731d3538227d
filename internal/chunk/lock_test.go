package chunk

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathLocks_SerializesWriters(t *testing.T) {
	locks := newPathLocks(time.Minute, setupTestLogger())
	ctx := context.Background()

	var active, maxActive atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locks.lock(ctx, "c/doc/k")
			if !assert.NoError(t, err) {
				return
			}
			n := active.Add(1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive.Load())
}

func TestPathLocks_DifferentPathsDoNotBlock(t *testing.T) {
	locks := newPathLocks(time.Minute, setupTestLogger())
	ctx := context.Background()

	unlockA, err := locks.lock(ctx, "c/doc/a")
	require.NoError(t, err)
	defer unlockA()

	unlockB, err := locks.lock(ctx, "c/doc/b")
	require.NoError(t, err)
	unlockB()
}

func TestPathLocks_StaleLockForceCleared(t *testing.T) {
	locks := newPathLocks(30*time.Second, setupTestLogger())
	current := time.Now()
	locks.now = func() time.Time { return current }

	unlockOld, err := locks.lock(context.Background(), "c/doc/k")
	require.NoError(t, err)

	// Через 31 секунду блокировка считается зависшей
	current = current.Add(31 * time.Second)
	unlockNew, err := locks.lock(context.Background(), "c/doc/k")
	require.NoError(t, err)

	// Старый владелец не снимает чужую блокировку
	unlockOld()
	locks.mu.Lock()
	_, held := locks.locks["c/doc/k"]
	locks.mu.Unlock()
	assert.True(t, held)

	unlockNew()
	locks.mu.Lock()
	_, held = locks.locks["c/doc/k"]
	locks.mu.Unlock()
	assert.False(t, held)
}

func TestPathLocks_WaitHonoursContext(t *testing.T) {
	locks := newPathLocks(time.Minute, setupTestLogger())

	unlock, err := locks.lock(context.Background(), "c/doc/k")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, locks.wait(ctx, "c/doc/k"), context.DeadlineExceeded)
	_, err = locks.lock(ctx, "c/doc/k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPathLocks_ReaderWaitsForWriter(t *testing.T) {
	locks := newPathLocks(time.Minute, setupTestLogger())

	unlock, err := locks.lock(context.Background(), "c/doc/k")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_ = locks.wait(context.Background(), "c/doc/k")
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("reader must wait for the writer")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reader not released")
	}
}
