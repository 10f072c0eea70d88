package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrPermissionDenied is returned for a write the connection may not make.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrClosed is returned for operations on a closed connection.
	ErrClosed = errors.New("connection closed")
)

// Manager tracks open realtime connections.
type Manager struct {
	store Store
	log   *zap.Logger
	now   func() time.Time

	mu    sync.Mutex
	conns map[string]*Conn
}

// NewManager returns a Manager writing through store.
func NewManager(store Store, log *zap.Logger) *Manager {
	return &Manager{
		store: store,
		log:   log,
		now:   time.Now,
		conns: map[string]*Conn{},
	}
}

// Store returns the backing store.
func (m *Manager) Store() Store {
	return m.store
}

// Open registers a connection authenticated as uid.
func (m *Manager) Open(uid string) *Conn {
	c := &Conn{
		id:           uuid.NewString(),
		uid:          uid,
		m:            m,
		onDisconnect: map[string]Value{},
	}
	m.mu.Lock()
	m.conns[c.id] = c
	m.mu.Unlock()
	return c
}

// Count returns the number of open connections.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// CloseAll closes every open connection, running their deferred writes.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	conns := make([]*Conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	for _, c := range conns {
		c.Close(ctx)
	}
}

// Conn is one client connection. Deferred writes registered on it run
// exactly once, when it closes.
type Conn struct {
	id  string
	uid string
	m   *Manager

	// writeMu orders immediate writes against the deferred ones; nothing
	// written through Set lands after Close has written.
	writeMu sync.Mutex

	mu           sync.Mutex
	onDisconnect map[string]Value
	closed       bool
}

// ID returns the connection id.
func (c *Conn) ID() string { return c.id }

// UID returns the user the connection is authenticated as.
func (c *Conn) UID() string { return c.uid }

// a connection may only write its own status
func (c *Conn) authorize(path string) error {
	if path != StatusPath(c.uid) {
		return fmt.Errorf("%s: %w", path, ErrPermissionDenied)
	}
	return nil
}

// Set writes v at path now.
func (c *Conn) Set(ctx context.Context, path string, v Value) error {
	if err := c.authorize(path); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return c.m.store.Set(ctx, path, Resolve(v, c.m.now()))
}

// OnDisconnectSet registers v to be written at path when the connection
// closes, replacing an earlier registration for the same path. Server
// timestamps in v resolve at close time.
func (c *Conn) OnDisconnectSet(path string, v Value) error {
	if err := c.authorize(path); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.onDisconnect[path] = v
	return nil
}

// CancelOnDisconnect drops the registration for path, if any.
func (c *Conn) CancelOnDisconnect(path string) error {
	if err := c.authorize(path); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.onDisconnect, path)
	return nil
}

// Close runs the deferred writes and forgets the connection. Later calls
// do nothing. Write failures are logged.
func (c *Conn) Close(ctx context.Context) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.onDisconnect
	c.onDisconnect = nil
	c.mu.Unlock()

	c.m.mu.Lock()
	delete(c.m.conns, c.id)
	c.m.mu.Unlock()

	now := c.m.now()
	for path, v := range pending {
		if err := c.m.store.Set(ctx, path, Resolve(v, now)); err != nil {
			c.m.log.Warn("on-disconnect write failed",
				zap.String("conn", c.id),
				zap.String("path", path),
				zap.Error(err))
		}
	}
}
