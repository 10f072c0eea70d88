// Package presence keeps a user's online state current in both the
// document store and the realtime store while they are signed in.
package presence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BakhodirAbdullayev/orbital/internal/realtime"
)

// Connection is the client side of a realtime connection.
type Connection interface {
	// WatchConnected delivers the current connection state, then every
	// change, until ctx is done.
	WatchConnected(ctx context.Context) <-chan bool
	Set(ctx context.Context, path string, v realtime.Value) error
	OnDisconnectSet(ctx context.Context, path string, v realtime.Value) error
	CancelOnDisconnect(ctx context.Context, path string) error
}

// DocStore writes the signed-in user's presence to the document store.
// The server stamps lastOnline.
type DocStore interface {
	UpdatePresence(ctx context.Context, online bool) error
}

// writeTimeout bounds each fire-and-forget write.
const writeTimeout = 5 * time.Second

// Reconciler follows the signed-in user and mirrors realtime connectivity
// into both stores. Failures are logged and never retried.
type Reconciler struct {
	conn Connection
	docs DocStore
	log  *zap.Logger

	mu     sync.Mutex
	uid    string
	cancel context.CancelFunc
	done   chan struct{}
}

// NewReconciler returns a Reconciler writing through conn and docs.
func NewReconciler(conn Connection, docs DocStore, log *zap.Logger) *Reconciler {
	return &Reconciler{conn: conn, docs: docs, log: log}
}

// Run follows auth, which carries the signed-in uid or "" after sign-out,
// until ctx is done or auth closes.
func (r *Reconciler) Run(ctx context.Context, auth <-chan string) {
	defer r.stop()
	for {
		select {
		case <-ctx.Done():
			return
		case uid, ok := <-auth:
			if !ok {
				return
			}
			r.setUser(ctx, uid)
		}
	}
}

// setUser tears down the watcher for the previous user and starts one for
// uid. A de-authenticated user gets no writes here: the deferred write
// registered with the backend covers them.
func (r *Reconciler) setUser(ctx context.Context, uid string) {
	r.stop()
	if uid == "" {
		return
	}

	path := realtime.StatusPath(uid)
	// a registration left over from an earlier session on this connection
	r.try(ctx, "cancel stale on-disconnect", func(ctx context.Context) error {
		return r.conn.CancelOnDisconnect(ctx, path)
	})

	wctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.mu.Lock()
	r.uid, r.cancel, r.done = uid, cancel, done
	r.mu.Unlock()

	go func() {
		defer close(done)
		for connected := range r.conn.WatchConnected(wctx) {
			if wctx.Err() != nil {
				return
			}
			if connected {
				r.onConnected(wctx, path)
			} else {
				r.try(wctx, "mark offline in document store", func(ctx context.Context) error {
					return r.docs.UpdatePresence(ctx, false)
				})
			}
		}
	}()
}

func (r *Reconciler) onConnected(ctx context.Context, path string) {
	r.try(ctx, "register on-disconnect", func(ctx context.Context) error {
		return r.conn.OnDisconnectSet(ctx, path, realtime.StatusValue(false))
	})
	r.try(ctx, "mark online in document store", func(ctx context.Context) error {
		return r.docs.UpdatePresence(ctx, true)
	})
	r.try(ctx, "mark online in realtime store", func(ctx context.Context) error {
		return r.conn.Set(ctx, path, realtime.StatusValue(true))
	})
}

func (r *Reconciler) stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.uid, r.cancel, r.done = "", nil, nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// UID returns the user currently followed, or "".
func (r *Reconciler) UID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.uid
}

// Release marks the current user offline ahead of sign-out, while the
// session can still write. The offline value is written before the
// deferred write is cancelled, so the user is never left without one of
// the two.
func (r *Reconciler) Release(ctx context.Context) {
	uid := r.UID()
	if uid == "" {
		return
	}
	path := realtime.StatusPath(uid)

	r.try(ctx, "mark offline in document store", func(ctx context.Context) error {
		return r.docs.UpdatePresence(ctx, false)
	})
	r.try(ctx, "mark offline in realtime store", func(ctx context.Context) error {
		return r.conn.Set(ctx, path, realtime.StatusValue(false))
	})
	r.try(ctx, "cancel on-disconnect", func(ctx context.Context) error {
		return r.conn.CancelOnDisconnect(ctx, path)
	})
	r.stop()
}

func (r *Reconciler) try(ctx context.Context, what string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		r.log.Warn("presence write failed", zap.String("op", what), zap.Error(err))
	}
}
