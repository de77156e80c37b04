package lock

import (
	"context"
	"strings"
	"sync"
)

// Memory is a process-local Locker. Entries are reference counted and
// dropped once nobody holds or waits for them.
type Memory struct {
	mu   sync.Mutex
	keys map[string]*memEntry
}

type memEntry struct {
	sem  chan struct{}
	refs int
}

// NewMemory returns an empty in-process Locker.
func NewMemory() *Memory {
	return &Memory{keys: make(map[string]*memEntry)}
}

var _ Locker = (*Memory)(nil)

// Acquire implements Locker. The key is copied before it is stored, so
// callers may pass strings that alias reusable buffers.
func (m *Memory) Acquire(ctx context.Context, key string) (Release, error) {
	key = strings.Clone(key)

	m.mu.Lock()
	e, ok := m.keys[key]
	if !ok {
		e = &memEntry{sem: make(chan struct{}, 1)}
		m.keys[key] = e
	}
	e.refs++
	m.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		m.unref(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() error {
		once.Do(func() {
			<-e.sem
			m.unref(key, e)
		})
		return nil
	}, nil
}

func (m *Memory) unref(key string, e *memEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.keys, key)
	}
}

// held reports how many keys currently have holders or waiters.
func (m *Memory) held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys)
}
