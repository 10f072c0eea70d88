package presence

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/BakhodirAbdullayev/orbital/internal/data"
	"github.com/BakhodirAbdullayev/orbital/internal/realtime"
)

// ProfileWriter writes presence into user profiles.
type ProfileWriter interface {
	SetPresence(ctx context.Context, uid string, online bool, at time.Time) error
}

// Mirror copies offline transitions from the realtime store into the
// users collection, so a client that vanished without signing out does
// not stay online there.
type Mirror struct {
	store    realtime.Store
	profiles ProfileWriter
	log      *zap.Logger
}

// NewMirror returns a Mirror from store to profiles.
func NewMirror(store realtime.Store, profiles ProfileWriter, log *zap.Logger) *Mirror {
	return &Mirror{store: store, profiles: profiles, log: log}
}

// Run mirrors until ctx is done.
func (m *Mirror) Run(ctx context.Context) error {
	events, err := m.store.Watch(ctx, "/status")
	if err != nil {
		return err
	}
	for ev := range events {
		m.apply(ctx, ev)
	}
	return nil
}

func (m *Mirror) apply(ctx context.Context, ev realtime.Event) {
	uid, ok := realtime.UIDFromStatusPath(ev.Path)
	if !ok {
		return
	}
	st, err := realtime.ParseStatus(ev.Value)
	if err != nil {
		m.log.Warn("bad status value", zap.String("path", ev.Path), zap.Error(err))
		return
	}
	// online writes come from the client together with its own doc write
	if st.Online {
		return
	}
	at := st.LastOnline
	if at.IsZero() {
		at = time.Now().UTC()
	}

	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := m.profiles.SetPresence(wctx, uid, false, at); err != nil && !errors.Is(err, data.ErrNotFound) {
		m.log.Warn("mirror offline failed", zap.String("uid", uid), zap.Error(err))
	}
}
