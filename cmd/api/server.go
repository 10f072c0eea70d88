package main

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/BakhodirAbdullayev/orbital/internal/auth"
	"github.com/BakhodirAbdullayev/orbital/internal/data"
	"github.com/BakhodirAbdullayev/orbital/internal/live"
	"github.com/BakhodirAbdullayev/orbital/internal/messaging"
	"github.com/BakhodirAbdullayev/orbital/internal/realtime"
	"github.com/BakhodirAbdullayev/orbital/internal/rpc"
	"github.com/BakhodirAbdullayev/orbital/internal/storage"
)

// userStore is the subset of data.UsersStore the handlers use.
type userStore interface {
	CreateUser(ctx context.Context, user *data.UserProfile) (*data.UserProfile, error)
	GetUserByEmail(ctx context.Context, email string) (*data.UserProfile, error)
	GetUserByID(ctx context.Context, uid string) (*data.UserProfile, error)
	GetUserByProvider(ctx context.Context, provider, subject string) (*data.UserProfile, error)
	UserExists(ctx context.Context, uid string) (bool, error)
	SetPresence(ctx context.Context, uid string, online bool, at time.Time) error
	ListExcept(ctx context.Context, uid string) ([]*data.UserProfile, error)
}

type chatStore interface {
	messaging.ChatStore
	ListForMember(ctx context.Context, uid string, limit int64) ([]*data.Chat, error)
}

type messageStore interface {
	messaging.MessageStore
	ListForChat(ctx context.Context, chatID bson.ObjectID, limit int64) ([]*data.Message, error)
}

// changeSource opens the change feeds the Watch methods re-query on.
type changeSource interface {
	UsersChanged(ctx context.Context) (live.Changes, error)
	ChatsChanged(ctx context.Context, uid string) (live.Changes, error)
	MessagesChanged(ctx context.Context, chatID bson.ObjectID) (live.Changes, error)
}

// mongoChanges serves changeSource from MongoDB change streams.
type mongoChanges struct {
	users *data.UsersStore
	chats *data.ChatsStore
	msgs  *data.MessagesStore
}

func (m mongoChanges) UsersChanged(ctx context.Context) (live.Changes, error) {
	return m.users.Watch(ctx)
}

func (m mongoChanges) ChatsChanged(ctx context.Context, uid string) (live.Changes, error) {
	return m.chats.WatchMember(ctx, uid)
}

func (m mongoChanges) MessagesChanged(ctx context.Context, chatID bson.ObjectID) (live.Changes, error) {
	return m.msgs.WatchChat(ctx, chatID)
}

// Server implements the chat service and contains references to stores and auth logic.
type Server struct {
	rpc.UnimplementedChatServiceServer

	users     userStore
	chats     chatStore
	msgs      messageStore
	changes   changeSource
	messaging *messaging.Service

	auth      *auth.JWTManager
	providers *auth.ProviderVerifier
	revoker   auth.Revoker

	realtime *realtime.Manager
	hub      *ConnectionHub
	objects  storage.ObjectStore

	passwordEnabled bool
	maxUploadBytes  int64

	log *zap.Logger
	now func() time.Time

	// closing is cancelled by Shutdown and ends every long-lived stream
	closing  context.Context
	shutdown context.CancelFunc
}

// serverDeps groups what newServer wires together.
type serverDeps struct {
	Users     userStore
	Chats     chatStore
	Messages  messageStore
	Changes   changeSource
	Auth      *auth.JWTManager
	Providers *auth.ProviderVerifier
	Revoker   auth.Revoker
	Realtime  *realtime.Manager
	Objects   storage.ObjectStore

	PasswordEnabled bool
	MaxUploadBytes  int64

	Log *zap.Logger
}

// newServer returns a ready-to-use Server wired with stores and auth manager.
func newServer(d serverDeps) *Server {
	if d.Providers == nil {
		d.Providers = auth.NewProviderVerifier()
	}
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = 10 << 20
	}
	closing, shutdown := context.WithCancel(context.Background())
	return &Server{
		users:           d.Users,
		chats:           d.Chats,
		msgs:            d.Messages,
		changes:         d.Changes,
		messaging:       messaging.NewService(d.Chats, d.Messages, d.Users, d.Log),
		auth:            d.Auth,
		providers:       d.Providers,
		revoker:         d.Revoker,
		realtime:        d.Realtime,
		hub:             NewConnectionHub(),
		objects:         d.Objects,
		passwordEnabled: d.PasswordEnabled,
		maxUploadBytes:  d.MaxUploadBytes,
		log:             d.Log,
		now:             func() time.Time { return time.Now().UTC() },
		closing:         closing,
		shutdown:        shutdown,
	}
}

// Shutdown ends every watch and realtime session, so that GracefulStop
// only waits for unary calls. Realtime sessions run their deferred writes
// on the way out.
func (s *Server) Shutdown() {
	s.shutdown()
}

// streamContext derives the context a long-lived stream runs under. It is
// cancelled when the client goes away or the server shuts down.
func (s *Server) streamContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(s.closing, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// shuttingDown reports whether Shutdown has been called.
func (s *Server) shuttingDown() bool {
	return s.closing.Err() != nil
}

// registerService registers the ChatService on the given gRPC server.
func registerService(s *grpc.Server, srv *Server) {
	rpc.RegisterChatServiceServer(s, srv)
}
