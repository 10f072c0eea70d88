package client

import (
	"context"
	"sync"
)

// transitions fans state changes out to watchers. A watcher first sees
// the current value, then every later value in order; none are skipped,
// so a quick false/true flap still reaches every watcher.
type transitions[T any] struct {
	mu   sync.Mutex
	val  T
	subs map[int]*queue[T]
	next int
}

type queue[T any] struct {
	mu    sync.Mutex
	items []T
	wake  chan struct{}
}

func (q *queue[T]) push(v T) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *queue[T]) drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

func newTransitions[T any](initial T) *transitions[T] {
	return &transitions[T]{val: initial, subs: map[int]*queue[T]{}}
}

func (t *transitions[T]) get() T {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.val
}

func (t *transitions[T]) set(v T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.val = v
	for _, q := range t.subs {
		q.push(v)
	}
}

// watch delivers values until ctx is done, then closes the channel.
func (t *transitions[T]) watch(ctx context.Context) <-chan T {
	q := &queue[T]{wake: make(chan struct{}, 1)}

	t.mu.Lock()
	id := t.next
	t.next++
	t.subs[id] = q
	q.push(t.val)
	t.mu.Unlock()

	out := make(chan T)
	go func() {
		defer close(out)
		defer func() {
			t.mu.Lock()
			delete(t.subs, id)
			t.mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
			}
			for _, v := range q.drain() {
				select {
				case out <- v:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
