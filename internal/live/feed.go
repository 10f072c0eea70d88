package live

import (
	"context"
	"errors"
	"sync"
)

// Feed holds the latest snapshot of a subscription. Redundant snapshots
// that equal the current one are dropped without notifying.
type Feed[T any] struct {
	mu      sync.Mutex
	items   T
	loading bool
	err     error

	updates chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewFeed starts a subscription. subscribe opens the source and returns a
// function yielding successive snapshots; it is called once, on the feed's
// goroutine, with a context cancelled by Close.
func NewFeed[T any](ctx context.Context, subscribe func(context.Context) (func() (T, error), error)) *Feed[T] {
	ctx, cancel := context.WithCancel(ctx)
	f := &Feed[T]{
		loading: true,
		updates: make(chan struct{}, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go f.run(ctx, subscribe)
	return f
}

func (f *Feed[T]) run(ctx context.Context, subscribe func(context.Context) (func() (T, error), error)) {
	defer close(f.done)

	next, err := subscribe(ctx)
	if err != nil {
		f.fail(ctx, err)
		return
	}
	for {
		v, err := next()
		if err != nil {
			f.fail(ctx, err)
			return
		}
		f.mu.Lock()
		changed := f.loading || !Equal(f.items, v)
		if changed {
			f.items = v
			f.loading = false
		}
		f.mu.Unlock()
		if changed {
			f.notify()
		}
	}
}

func (f *Feed[T]) fail(ctx context.Context, err error) {
	// closing the feed is not a failure
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return
	}
	f.mu.Lock()
	f.err = err
	f.loading = false
	f.mu.Unlock()
	f.notify()
}

func (f *Feed[T]) notify() {
	select {
	case f.updates <- struct{}{}:
	default:
	}
}

// Snapshot returns the current items, whether the first snapshot is still
// pending, and the error that ended the subscription, if any.
func (f *Feed[T]) Snapshot() (items T, loading bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items, f.loading, f.err
}

// Updates fires after the snapshot changes. Notifications coalesce, so a
// reader should call Snapshot after each one.
func (f *Feed[T]) Updates() <-chan struct{} {
	return f.updates
}

// Done is closed once the subscription has ended.
func (f *Feed[T]) Done() <-chan struct{} {
	return f.done
}

// Close tears the subscription down and waits for it to end.
func (f *Feed[T]) Close() {
	f.cancel()
	<-f.done
}
