package realtime

import (
	"context"
	"strings"
	"sync"
)

// Event reports the value written at a path.
type Event struct {
	Path  string
	Value Value
}

// Store is the backing key/value store. Watch delivers writes at path or
// below it until ctx is done, then closes the channel.
type Store interface {
	Set(ctx context.Context, path string, v Value) error
	Get(ctx context.Context, path string) (Value, bool, error)
	Watch(ctx context.Context, path string) (<-chan Event, error)
}

func covers(watched, path string) bool {
	return path == watched || strings.HasPrefix(path, strings.TrimSuffix(watched, "/")+"/")
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]Value
	subs   map[int]*memorySub
	nextID int
}

type memorySub struct {
	path    string
	ctx     context.Context
	ch      chan Event
	senders sync.WaitGroup
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: map[string]Value{}, subs: map[int]*memorySub{}}
}

func (m *MemoryStore) Set(ctx context.Context, path string, v Value) error {
	m.mu.Lock()
	m.values[path] = v
	var targets []*memorySub
	for _, s := range m.subs {
		if covers(s.path, path) {
			s.senders.Add(1)
			targets = append(targets, s)
		}
	}
	m.mu.Unlock()

	// sends happen outside the lock; a slow watcher holds up this write
	// only, and its channel stays open until every sender is done
	var err error
	for _, s := range targets {
		if err == nil {
			select {
			case s.ch <- Event{Path: path, Value: v}:
			case <-s.ctx.Done():
			case <-ctx.Done():
				err = ctx.Err()
			}
		}
		s.senders.Done()
	}
	return err
}

func (m *MemoryStore) Get(_ context.Context, path string) (Value, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[path]
	return v, ok, nil
}

func (m *MemoryStore) Watch(ctx context.Context, path string) (<-chan Event, error) {
	ch := make(chan Event, 16)

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	sub := &memorySub{path: path, ctx: ctx, ch: ch}
	m.subs[id] = sub
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
		sub.senders.Wait()
		close(ch)
	}()
	return ch, nil
}
