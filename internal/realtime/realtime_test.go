package realtime

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func TestResolveReplacesServerTimestamp(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_123)
	v := Resolve(Value{
		"online":     false,
		"lastOnline": ServerTimestamp(),
		"nested":     map[string]any{"at": ServerTimestamp()},
		"typed":      Value{"at": ServerTimestamp(), "deeper": Value{"at": Value{".sv": "timestamp"}}},
	}, now)

	if v["lastOnline"] != now.UnixMilli() {
		t.Fatalf("lastOnline not resolved: %v", v["lastOnline"])
	}
	if v["nested"].(map[string]any)["at"] != now.UnixMilli() {
		t.Fatalf("nested timestamp not resolved: %v", v["nested"])
	}
	typed := v["typed"].(Value)
	if typed["at"] != now.UnixMilli() || typed["deeper"].(Value)["at"] != now.UnixMilli() {
		t.Fatalf("timestamps inside Value not resolved: %v", typed)
	}
	if v["online"] != false {
		t.Fatalf("plain field changed: %v", v["online"])
	}
}

func TestServerTimestampIsFresh(t *testing.T) {
	ts := ServerTimestamp()
	ts[".sv"] = "changed"
	v := Resolve(StatusValue(true), time.UnixMilli(42))
	if v["lastOnline"] != int64(42) {
		t.Fatalf("placeholder shared between callers: %v", v["lastOnline"])
	}
}

func TestParseStatus(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000).UTC()
	s, err := ParseStatus(Resolve(StatusValue(true), now))
	if err != nil {
		t.Fatalf("ParseStatus: %v", err)
	}
	if !s.Online || !s.LastOnline.Equal(now) {
		t.Fatalf("unexpected status %+v", s)
	}

	// values that went through JSON carry float64 or json.Number
	raw, _ := encodeValue(Resolve(StatusValue(false), now))
	v, err := decodeValue(raw)
	if err != nil {
		t.Fatalf("decodeValue: %v", err)
	}
	s, err = ParseStatus(v)
	if err != nil {
		t.Fatalf("ParseStatus: %v", err)
	}
	if s.Online || !s.LastOnline.Equal(now) {
		t.Fatalf("unexpected status after decode %+v", s)
	}
}

func TestUIDFromStatusPath(t *testing.T) {
	if uid, ok := UIDFromStatusPath("/status/u1"); !ok || uid != "u1" {
		t.Fatalf("got %q %v", uid, ok)
	}
	for _, p := range []string{"/status/", "/status/a/b", "/other/u1"} {
		if _, ok := UIDFromStatusPath(p); ok {
			t.Fatalf("%s accepted", p)
		}
	}
}

func TestConnOnlyWritesOwnStatus(t *testing.T) {
	m := NewManager(NewMemoryStore(), zap.NewNop())
	c := m.Open("alice")
	ctx := context.Background()

	if err := c.Set(ctx, StatusPath("bob"), StatusValue(true)); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if err := c.OnDisconnectSet("/secrets", StatusValue(false)); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if err := c.Set(ctx, StatusPath("alice"), StatusValue(true)); err != nil {
		t.Fatalf("own status write failed: %v", err)
	}
}

func TestConnCloseRunsDeferredWriteOnce(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store, zap.NewNop())
	ctx := context.Background()

	c := m.Open("alice")
	path := StatusPath("alice")
	connectedAt := time.Now().Add(-time.Millisecond)

	if err := c.OnDisconnectSet(path, StatusValue(false)); err != nil {
		t.Fatalf("OnDisconnectSet: %v", err)
	}
	if err := c.Set(ctx, path, StatusValue(true)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if m.Count() != 1 {
		t.Fatalf("expected 1 open connection, got %d", m.Count())
	}

	c.Close(ctx)

	v, ok, _ := store.Get(ctx, path)
	if !ok {
		t.Fatal("no status stored")
	}
	s, _ := ParseStatus(v)
	if s.Online {
		t.Fatal("status still online after close")
	}
	if s.LastOnline.Before(connectedAt.Truncate(time.Millisecond)) {
		t.Fatalf("lastOnline %v before connect %v", s.LastOnline, connectedAt)
	}
	if m.Count() != 0 {
		t.Fatalf("connection not forgotten")
	}

	// a second close must not write again
	_ = store.Set(ctx, path, Value{"online": true})
	c.Close(ctx)
	v, _, _ = store.Get(ctx, path)
	if v["online"] != true {
		t.Fatal("second Close ran the deferred write again")
	}
}

func TestSetNeverLandsAfterClose(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store, zap.NewNop())
	ctx := context.Background()
	path := StatusPath("alice")

	for i := 0; i < 200; i++ {
		c := m.Open("alice")
		if err := c.OnDisconnectSet(path, StatusValue(false)); err != nil {
			t.Fatalf("OnDisconnectSet: %v", err)
		}
		var wg sync.WaitGroup
		wg.Add(2)
		var setErr error
		go func() {
			defer wg.Done()
			setErr = c.Set(ctx, path, StatusValue(true))
		}()
		go func() {
			defer wg.Done()
			c.Close(ctx)
		}()
		wg.Wait()

		if setErr != nil && !errors.Is(setErr, ErrClosed) {
			t.Fatalf("Set: %v", setErr)
		}
		v, _, _ := store.Get(ctx, path)
		if v["online"] != false {
			t.Fatalf("round %d: online write landed after the deferred offline write", i)
		}
	}

	c := m.Open("alice")
	c.Close(ctx)
	if err := c.Set(ctx, path, StatusValue(true)); !errors.Is(err, ErrClosed) {
		t.Fatalf("Set after Close = %v, want ErrClosed", err)
	}
}

func TestCancelOnDisconnect(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store, zap.NewNop())
	ctx := context.Background()

	c := m.Open("alice")
	path := StatusPath("alice")
	_ = c.OnDisconnectSet(path, StatusValue(false))
	_ = c.Set(ctx, path, StatusValue(true))
	if err := c.CancelOnDisconnect(path); err != nil {
		t.Fatalf("CancelOnDisconnect: %v", err)
	}
	c.Close(ctx)

	v, _, _ := store.Get(ctx, path)
	if v["online"] != true {
		t.Fatal("cancelled deferred write still ran")
	}
}

func TestMemoryStoreWatch(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := store.Watch(ctx, "/status")
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	_ = store.Set(context.Background(), "/other/x", Value{"a": 1})
	_ = store.Set(context.Background(), StatusPath("u1"), Value{"online": true})

	select {
	case ev := <-ch:
		if ev.Path != StatusPath("u1") {
			t.Fatalf("unexpected event path %s", ev.Path)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("unexpected extra event")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestMemoryStoreSlowWatcher(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	slowCtx, stopSlow := context.WithCancel(ctx)

	slow, err := store.Watch(slowCtx, "/status")
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	// fill the buffer, then leave one write stuck on it
	for i := 0; i < cap(slow); i++ {
		if err := store.Set(ctx, StatusPath("u1"), Value{"n": i}); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	stuck := make(chan error, 1)
	go func() { stuck <- store.Set(ctx, StatusPath("u1"), Value{"n": "last"}) }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		other, err := store.Watch(ctx, "/other")
		if err != nil {
			t.Errorf("Watch: %v", err)
			return
		}
		if err := store.Set(ctx, "/other/x", Value{"a": 1}); err != nil {
			t.Errorf("Set: %v", err)
			return
		}
		if ev := <-other; ev.Path != "/other/x" {
			t.Errorf("unexpected event %s", ev.Path)
		}
		if _, ok, _ := store.Get(ctx, StatusPath("u1")); !ok {
			t.Error("value missing while a watcher is full")
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("store blocked behind a full watcher")
	}

	stopSlow()
	select {
	case err := <-stuck:
		if err != nil {
			t.Fatalf("stuck Set: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Set still blocked after the watcher went away")
	}
	n := 0
	for range slow {
		n++
	}
	if n < cap(slow) {
		t.Fatalf("drained %d buffered events, want at least %d", n, cap(slow))
	}
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set; skipping integration test")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := NewRedisStore(client)
	path := StatusPath("redis-test-" + time.Now().Format("150405.000"))

	ch, err := store.Watch(ctx, path)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if err := store.Set(ctx, path, Resolve(StatusValue(true), time.Now())); err != nil {
		t.Fatalf("Set: %v", err)
	}

	select {
	case ev := <-ch:
		s, err := ParseStatus(ev.Value)
		if err != nil || !s.Online {
			t.Fatalf("unexpected event %+v err=%v", ev, err)
		}
	case <-ctx.Done():
		t.Fatal("no event delivered")
	}

	v, ok, err := store.Get(ctx, path)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if v["online"] != true {
		t.Fatalf("unexpected value %v", v)
	}
	_ = client.Del(ctx, keyPrefix+path).Err()
}
