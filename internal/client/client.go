// Package client is the Go SDK for the chat service: a signed-in session,
// live snapshot feeds, the realtime connection that keeps presence current,
// and the write paths used by a chat UI.
package client

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/BakhodirAbdullayev/orbital/internal/presence"
	"github.com/BakhodirAbdullayev/orbital/internal/rpc"
)

// Client bundles the connection with the session and realtime connection
// that ride on it.
type Client struct {
	conn *grpc.ClientConn
	api  rpc.ChatServiceClient
	log  *zap.Logger

	Session  *Session
	Realtime *RealtimeConn
}

// bearer attaches the session token to every call made while signed in.
type bearer struct {
	s *Session
}

func (b bearer) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	token := b.s.Token()
	if token == "" {
		return nil, nil
	}
	return map[string]string{"authorization": "Bearer " + token}, nil
}

func (b bearer) RequireTransportSecurity() bool {
	return b.s.secure
}

// Dial connects to addr. A nil creds dials without TLS. Extra options are
// appended after the defaults.
func Dial(addr string, creds credentials.TransportCredentials, log *zap.Logger, opts ...grpc.DialOption) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	secure := creds != nil
	if creds == nil {
		creds = insecure.NewCredentials()
	}

	sess := &Session{log: log.Named("session"), secure: secure, auth: newTransitions("")}
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithPerRPCCredentials(bearer{sess}),
	}, opts...)

	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	api := rpc.NewChatServiceClient(conn)
	sess.api = api

	return &Client{
		conn:     conn,
		api:      api,
		log:      log,
		Session:  sess,
		Realtime: newRealtimeConn(api, sess, log.Named("realtime")),
	}, nil
}

// API exposes the raw service client.
func (c *Client) API() rpc.ChatServiceClient {
	return c.api
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// docStore writes the signed-in user's presence through UpdatePresence.
type docStore struct {
	api rpc.ChatServiceClient
}

func (d docStore) UpdatePresence(ctx context.Context, online bool) error {
	_, err := d.api.UpdatePresence(ctx, &rpc.PresenceRequest{Online: online})
	return err
}

// DocStore returns the presence writer for the signed-in user's profile.
func (c *Client) DocStore() presence.DocStore {
	return docStore{api: c.api}
}

// StartPresence runs the realtime connection and the presence reconciler
// for whoever is signed in, and marks them offline before a sign-out. The
// returned stop releases presence while still authenticated and then tears
// both down.
func (c *Client) StartPresence(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	rec := presence.NewReconciler(c.Realtime, c.DocStore(), c.log.Named("presence"))
	unhook := c.Session.OnBeforeSignOut(rec.Release)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.Realtime.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		rec.Run(ctx, c.Session.AuthChanges(ctx))
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			unhook()
			rec.Release(context.WithoutCancel(ctx))
			cancel()
			wg.Wait()
		})
	}
}
