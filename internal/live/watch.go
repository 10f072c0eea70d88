package live

import (
	"context"
	"errors"
)

// Changes is a change notification source. *mongo.ChangeStream satisfies it.
type Changes interface {
	Next(ctx context.Context) bool
	Err() error
	Close(ctx context.Context) error
}

// Watch runs query and emits its result, then re-runs it after every change
// and emits again only when the result differs from the last one emitted.
// It returns nil when ctx is cancelled and closes changes on return.
func Watch[T any](ctx context.Context, query func(context.Context) (T, error), changes Changes, emit func(T) error) error {
	defer changes.Close(context.WithoutCancel(ctx))

	last, err := query(ctx)
	if err != nil {
		return err
	}
	if err := emit(last); err != nil {
		return err
	}

	for changes.Next(ctx) {
		next, err := query(ctx)
		if err != nil {
			return err
		}
		if Equal(last, next) {
			continue
		}
		last = next
		if err := emit(last); err != nil {
			return err
		}
	}

	if err := changes.Err(); err != nil && !isCancel(ctx, err) {
		return err
	}
	return nil
}

func isCancel(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Signal is a Changes fed by a channel of notifications, for sources that
// are not change streams.
type Signal struct {
	ch  <-chan struct{}
	err error
}

// NewSignal returns a Changes that fires once per value received on ch and
// ends when ch closes.
func NewSignal(ch <-chan struct{}) *Signal {
	return &Signal{ch: ch}
}

func (s *Signal) Next(ctx context.Context) bool {
	select {
	case _, ok := <-s.ch:
		return ok
	case <-ctx.Done():
		s.err = ctx.Err()
		return false
	}
}

func (s *Signal) Err() error { return s.err }

func (s *Signal) Close(context.Context) error { return nil }
