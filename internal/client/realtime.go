package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/BakhodirAbdullayev/orbital/internal/realtime"
	"github.com/BakhodirAbdullayev/orbital/internal/rpc"
)

var (
	// ErrNotConnected is returned for writes made while no realtime
	// session is up.
	ErrNotConnected = errors.New("realtime: not connected")
	// ErrDisconnected fails writes still waiting when the session drops.
	ErrDisconnected = errors.New("realtime: disconnected")
	errRevoked      = errors.New("realtime: session revoked")
)

const (
	defaultMinBackoff = 250 * time.Millisecond
	defaultMaxBackoff = 10 * time.Second
)

type realtimeStream = grpc.BidiStreamingClient[rpc.RealtimeRequest, rpc.RealtimeEvent]

// RealtimeConn is the client side of Connect. While Run is active and a
// user is signed in it keeps one session open, reconnecting with capped
// exponential backoff, and reports connectivity through WatchConnected.
type RealtimeConn struct {
	api  rpc.ChatServiceClient
	sess *Session
	log  *zap.Logger

	minBackoff time.Duration
	maxBackoff time.Duration

	state *transitions[bool]

	mu      sync.Mutex
	stream  realtimeStream
	seq     uint64
	pending map[uint64]chan error

	sendMu sync.Mutex
}

func newRealtimeConn(api rpc.ChatServiceClient, sess *Session, log *zap.Logger) *RealtimeConn {
	return &RealtimeConn{
		api:        api,
		sess:       sess,
		log:        log,
		minBackoff: defaultMinBackoff,
		maxBackoff: defaultMaxBackoff,
		state:      newTransitions(false),
		pending:    map[uint64]chan error{},
	}
}

// Run keeps a session open for the signed-in user until ctx is done. It
// follows the session: nothing is dialled while signed out, and a change
// of user ends the current session before the next one starts. Ending a
// session runs its deferred writes on the server.
func (r *RealtimeConn) Run(ctx context.Context) {
	auth := r.sess.AuthChanges(ctx)
	var uid string
	for {
		for uid == "" {
			select {
			case <-ctx.Done():
				return
			case next, ok := <-auth:
				if !ok {
					return
				}
				uid = next
			}
		}

		sctx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			r.reconnect(sctx)
		}()

		select {
		case <-ctx.Done():
			cancel()
			<-done
			return
		case next, ok := <-auth:
			cancel()
			<-done
			if !ok {
				return
			}
			uid = next
		}
	}
}

// reconnect keeps one user's session open, redialling with capped
// backoff, until ctx is done or the server refuses the token. A refused
// token is final until the user changes.
func (r *RealtimeConn) reconnect(ctx context.Context) {
	delay := r.minBackoff
	for {
		established, err := r.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, errRevoked) || status.Code(err) == codes.Unauthenticated {
			r.log.Debug("realtime session refused; waiting for sign-in", zap.Error(err))
			return
		}
		if established {
			delay = r.minBackoff
		}
		r.log.Debug("realtime session ended", zap.Error(err), zap.Duration("retry_in", delay))

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		delay = min(delay*2, r.maxBackoff)
	}
}

// session runs one Connect stream to its end. established reports whether
// the server accepted it.
func (r *RealtimeConn) session(ctx context.Context) (established bool, err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := r.api.Connect(ctx)
	if err != nil {
		return false, err
	}
	ev, err := stream.Recv()
	if err != nil {
		return false, err
	}
	if ev.Kind != rpc.EventConnected {
		return false, fmt.Errorf("realtime: unexpected first event %q", ev.Kind)
	}

	r.mu.Lock()
	r.stream = stream
	r.mu.Unlock()
	r.state.set(true)
	r.log.Debug("realtime connected", zap.String("conn", ev.ConnID))

	defer func() {
		r.mu.Lock()
		r.stream = nil
		pending := r.pending
		r.pending = map[uint64]chan error{}
		r.mu.Unlock()
		for _, ch := range pending {
			ch <- ErrDisconnected
		}
		r.state.set(false)
	}()

	for {
		ev, err := stream.Recv()
		if err != nil {
			return true, err
		}
		switch ev.Kind {
		case rpc.EventAck, rpc.EventError:
			r.resolve(ev)
		case rpc.EventRevoked:
			return true, errRevoked
		}
	}
}

func (r *RealtimeConn) resolve(ev *rpc.RealtimeEvent) {
	r.mu.Lock()
	ch, ok := r.pending[ev.Seq]
	delete(r.pending, ev.Seq)
	r.mu.Unlock()
	if !ok {
		return
	}
	if ev.Kind == rpc.EventError {
		ch <- errors.New(ev.Error)
		return
	}
	ch <- nil
}

// Connected reports whether a session is up.
func (r *RealtimeConn) Connected() bool {
	return r.state.get()
}

// WatchConnected delivers the current connection state, then every
// change, until ctx is done.
func (r *RealtimeConn) WatchConnected(ctx context.Context) <-chan bool {
	return r.state.watch(ctx)
}

// Set writes v at path.
func (r *RealtimeConn) Set(ctx context.Context, path string, v realtime.Value) error {
	return r.do(ctx, rpc.OpSet, path, v)
}

// OnDisconnectSet asks the server to write v at path when this session
// ends.
func (r *RealtimeConn) OnDisconnectSet(ctx context.Context, path string, v realtime.Value) error {
	return r.do(ctx, rpc.OpOnDisconnectSet, path, v)
}

// CancelOnDisconnect drops the deferred write for path.
func (r *RealtimeConn) CancelOnDisconnect(ctx context.Context, path string) error {
	return r.do(ctx, rpc.OpCancelOnDisconnect, path, nil)
}

func (r *RealtimeConn) do(ctx context.Context, op, path string, v realtime.Value) error {
	r.mu.Lock()
	stream := r.stream
	if stream == nil {
		r.mu.Unlock()
		return ErrNotConnected
	}
	r.seq++
	seq := r.seq
	ch := make(chan error, 1)
	r.pending[seq] = ch
	r.mu.Unlock()

	r.sendMu.Lock()
	err := stream.Send(&rpc.RealtimeRequest{Seq: seq, Op: op, Path: path, Value: v})
	r.sendMu.Unlock()
	if err != nil {
		r.forget(seq)
		return err
	}

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		r.forget(seq)
		return ctx.Err()
	}
}

func (r *RealtimeConn) forget(seq uint64) {
	r.mu.Lock()
	delete(r.pending, seq)
	r.mu.Unlock()
}
