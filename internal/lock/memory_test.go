package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_SameKeyIsExclusive(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var active, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := m.Acquire(ctx, "notes")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&active, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			assert.NoError(t, release())
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak)
	assert.Equal(t, 0, m.held())
}

func TestMemory_DifferentKeysDoNotBlock(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ra, err := m.Acquire(ctx, "a")
	require.NoError(t, err)
	rb, err := m.Acquire(ctx, "b")
	require.NoError(t, err)

	assert.Equal(t, 2, m.held())
	require.NoError(t, ra())
	require.NoError(t, rb())
	assert.Equal(t, 0, m.held())
}

func TestMemory_ContextCancelWhileWaiting(t *testing.T) {
	m := NewMemory()
	release, err := m.Acquire(context.Background(), "notes")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Acquire(ctx, "notes")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, release())
	require.NoError(t, release(), "double release is a no-op")
	assert.Equal(t, 0, m.held())
}

func TestMemory_KeyBackedByReusedBuffer(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	buf := []byte("notes")
	key := unsafe.String(&buf[0], len(buf))

	ra, err := m.Acquire(ctx, key)
	require.NoError(t, err)

	acquired := make(chan Release, 1)
	go func() {
		r, err := m.Acquire(ctx, "notes")
		if assert.NoError(t, err) {
			acquired <- r
		}
	}()
	require.Eventually(t, func() bool { return m.refs("notes") == 2 }, time.Second, time.Millisecond)

	require.NoError(t, ra())
	rb := <-acquired

	copy(buf, "xxxxx")

	cctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = m.Acquire(cctx, "notes")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, rb())
	assert.Equal(t, 0, m.held())
}

func (m *Memory) refs(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.keys[key]; ok {
		return e.refs
	}
	return 0
}
