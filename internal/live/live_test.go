package live

import (
	"context"
	"errors"
	"testing"
	"time"
)

type row struct {
	Name string
	At   time.Time
}

func TestEqualComparesTimesByInstant(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	loc := time.FixedZone("X", 3*3600)

	a := []row{{Name: "a", At: at}}
	b := []row{{Name: "a", At: at.In(loc)}}
	if !Equal(a, b) {
		t.Fatal("same instant in another zone compared unequal")
	}
	c := []row{{Name: "a", At: at.Add(time.Second)}}
	if Equal(a, c) {
		t.Fatal("different instants compared equal")
	}
}

func TestWatchEmitsOnlyChanges(t *testing.T) {
	ch := make(chan struct{})
	results := [][]string{{"a"}, {"a"}, {"a", "b"}, {"a", "b"}}
	calls := 0
	query := func(context.Context) ([]string, error) {
		r := results[calls]
		calls++
		return r, nil
	}

	var emitted [][]string
	done := make(chan error)
	go func() {
		done <- Watch(context.Background(), query, NewSignal(ch), func(v []string) error {
			emitted = append(emitted, v)
			return nil
		})
	}()

	ch <- struct{}{}
	ch <- struct{}{}
	ch <- struct{}{}
	close(ch)

	if err := <-done; err != nil {
		t.Fatalf("Watch returned %v", err)
	}
	if len(emitted) != 2 {
		t.Fatalf("expected 2 emissions, got %d: %v", len(emitted), emitted)
	}
	if calls != 4 {
		t.Fatalf("expected 4 queries, got %d", calls)
	}
}

func TestWatchStopsQuietlyOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	emitted := make(chan int, 1)

	done := make(chan error)
	go func() {
		done <- Watch(ctx, func(context.Context) (int, error) { return 1, nil },
			NewSignal(make(chan struct{})),
			func(v int) error { emitted <- v; return nil })
	}()

	<-emitted
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("expected nil on cancel, got %v", err)
	}
}

func TestFeedSnapshots(t *testing.T) {
	src := make(chan []string)
	f := NewFeed(context.Background(), func(ctx context.Context) (func() ([]string, error), error) {
		return func() ([]string, error) {
			select {
			case v := <-src:
				return v, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}, nil
	})
	defer f.Close()

	if _, loading, _ := f.Snapshot(); !loading {
		t.Fatal("new feed should be loading")
	}

	src <- []string{"a"}
	waitUpdate(t, f)
	items, loading, err := f.Snapshot()
	if loading || err != nil || len(items) != 1 {
		t.Fatalf("unexpected snapshot %v %v %v", items, loading, err)
	}

	// an equal snapshot must not notify
	src <- []string{"a"}
	src <- []string{"a", "b"}
	waitUpdate(t, f)
	items, _, _ = f.Snapshot()
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %v", items)
	}
	select {
	case <-f.Updates():
		t.Fatal("redundant snapshot notified")
	default:
	}
}

func TestFeedReportsError(t *testing.T) {
	boom := errors.New("boom")
	f := NewFeed(context.Background(), func(context.Context) (func() (int, error), error) {
		return nil, boom
	})
	<-f.Done()
	if _, loading, err := f.Snapshot(); loading || !errors.Is(err, boom) {
		t.Fatalf("expected boom, got loading=%v err=%v", loading, err)
	}
}

func waitUpdate[T any](t *testing.T, f *Feed[T]) {
	t.Helper()
	select {
	case <-f.Updates():
	case <-time.After(time.Second):
		t.Fatal("no update")
	}
}
