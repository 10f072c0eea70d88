package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/BakhodirAbdullayev/orbital/internal/realtime"
)

// localConn adapts a server-side realtime.Conn to Connection, with the
// connection state driven by the test.
type localConn struct {
	conn  *realtime.Conn
	state chan bool
}

func (l *localConn) WatchConnected(ctx context.Context) <-chan bool {
	out := make(chan bool)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case v := <-l.state:
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

func (l *localConn) Set(ctx context.Context, path string, v realtime.Value) error {
	return l.conn.Set(ctx, path, v)
}

func (l *localConn) OnDisconnectSet(_ context.Context, path string, v realtime.Value) error {
	return l.conn.OnDisconnectSet(path, v)
}

func (l *localConn) CancelOnDisconnect(_ context.Context, path string) error {
	return l.conn.CancelOnDisconnect(path)
}

type fakeDocs struct {
	mu     sync.Mutex
	writes []bool
}

func (f *fakeDocs) UpdatePresence(_ context.Context, online bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, online)
	return nil
}

func (f *fakeDocs) last() (bool, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.writes) == 0 {
		return false, 0
	}
	return f.writes[len(f.writes)-1], len(f.writes)
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func status(t *testing.T, store realtime.Store, uid string) (realtime.Status, bool) {
	t.Helper()
	v, ok, err := store.Get(context.Background(), realtime.StatusPath(uid))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	st, err := realtime.ParseStatus(v)
	if err != nil {
		t.Fatalf("ParseStatus: %v", err)
	}
	return st, ok
}

func TestPresenceRoundTripWithoutClientCleanup(t *testing.T) {
	store := realtime.NewMemoryStore()
	mgr := realtime.NewManager(store, zap.NewNop())
	server := mgr.Open("alice")
	conn := &localConn{conn: server, state: make(chan bool)}
	docs := &fakeDocs{}

	r := NewReconciler(conn, docs, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	auth := make(chan string)
	go r.Run(ctx, auth)

	connectedAt := time.Now().Truncate(time.Millisecond)
	auth <- "alice"
	conn.state <- true

	eventually(t, func() bool {
		st, ok := status(t, store, "alice")
		online, n := docs.last()
		return ok && st.Online && n > 0 && online
	})

	// the client vanishes: no client code runs, only the server closes
	server.Close(context.Background())

	st, ok := status(t, store, "alice")
	if !ok || st.Online {
		t.Fatalf("expected offline after drop, got %+v", st)
	}
	if st.LastOnline.Before(connectedAt) {
		t.Fatalf("lastOnline %v before connect %v", st.LastOnline, connectedAt)
	}
}

func TestPresenceDisconnectWritesDocOffline(t *testing.T) {
	store := realtime.NewMemoryStore()
	mgr := realtime.NewManager(store, zap.NewNop())
	conn := &localConn{conn: mgr.Open("bob"), state: make(chan bool)}
	docs := &fakeDocs{}

	r := NewReconciler(conn, docs, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	auth := make(chan string)
	go r.Run(ctx, auth)
	auth <- "bob"
	conn.state <- true
	conn.state <- false

	eventually(t, func() bool {
		online, n := docs.last()
		return n == 2 && !online
	})
}

func TestReleaseWritesOfflineAndCancelsDeferred(t *testing.T) {
	store := realtime.NewMemoryStore()
	mgr := realtime.NewManager(store, zap.NewNop())
	server := mgr.Open("carol")
	conn := &localConn{conn: server, state: make(chan bool)}
	docs := &fakeDocs{}

	r := NewReconciler(conn, docs, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	auth := make(chan string)
	go r.Run(ctx, auth)
	auth <- "carol"
	conn.state <- true
	eventually(t, func() bool {
		st, _ := status(t, store, "carol")
		return st.Online
	})

	r.Release(context.Background())

	st, _ := status(t, store, "carol")
	if st.Online {
		t.Fatal("realtime status still online after release")
	}
	if online, _ := docs.last(); online {
		t.Fatal("document store still online after release")
	}
	if r.UID() != "" {
		t.Fatal("reconciler still following a user")
	}

	// the deferred write is gone: a later online value survives close
	_ = store.Set(context.Background(), realtime.StatusPath("carol"), realtime.Value{"online": true})
	server.Close(context.Background())
	st, _ = status(t, store, "carol")
	if !st.Online {
		t.Fatal("cancelled on-disconnect write still ran")
	}
}

type recordingProfiles struct {
	mu    sync.Mutex
	calls map[string]bool
}

func (p *recordingProfiles) SetPresence(_ context.Context, uid string, online bool, _ time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[uid] = online
	return nil
}

func (p *recordingProfiles) get(uid string) (bool, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.calls[uid]
	return v, ok
}

func TestMirrorCopiesOfflineOnly(t *testing.T) {
	store := realtime.NewMemoryStore()
	profiles := &recordingProfiles{calls: map[string]bool{}}
	m := NewMirror(store, profiles, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	// Run subscribes asynchronously; retry the write until it is seen
	eventually(t, func() bool {
		_ = store.Set(context.Background(), realtime.StatusPath("dan"), realtime.Resolve(realtime.StatusValue(false), time.Now()))
		_, ok := profiles.get("dan")
		return ok
	})
	_ = store.Set(context.Background(), realtime.StatusPath("eve"), realtime.Resolve(realtime.StatusValue(true), time.Now()))

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if online, _ := profiles.get("dan"); online {
		t.Fatal("dan mirrored as online")
	}
	if _, ok := profiles.get("eve"); ok {
		t.Fatal("online transition was mirrored")
	}
}
