package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/BakhodirAbdullayev/orbital/internal/auth"
	"github.com/BakhodirAbdullayev/orbital/internal/data"
	"github.com/BakhodirAbdullayev/orbital/internal/rpc"
)

// ErrSignedOut is returned by operations that need a signed-in user.
var ErrSignedOut = errors.New("not signed in")

// Session holds the signed-in user and their token. It is passed to the
// parts of an app that need the current user instead of being global.
type Session struct {
	api    rpc.ChatServiceClient
	log    *zap.Logger
	secure bool

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
	user      *data.UserProfile

	auth *transitions[string]

	hooksMu  sync.Mutex
	hooks    map[int]func(context.Context)
	nextHook int
}

// SignUp creates an email/password account and signs in as it. Failures
// are *auth.Error when the server gave an auth code.
func (s *Session) SignUp(ctx context.Context, email, password, displayName string) (*data.UserProfile, error) {
	resp, err := s.api.SignUp(ctx, &rpc.SignUpRequest{Email: email, Password: password, DisplayName: displayName})
	return s.adopt(resp, err)
}

// SignIn signs in with email and password.
func (s *Session) SignIn(ctx context.Context, email, password string) (*data.UserProfile, error) {
	resp, err := s.api.SignIn(ctx, &rpc.SignInRequest{Email: email, Password: password})
	return s.adopt(resp, err)
}

// SignInWithProvider signs in with an ID token from a federated provider.
func (s *Session) SignInWithProvider(ctx context.Context, provider, idToken string) (*data.UserProfile, error) {
	resp, err := s.api.SignInWithProvider(ctx, &rpc.ProviderSignInRequest{Provider: provider, IDToken: idToken})
	return s.adopt(resp, err)
}

func (s *Session) adopt(resp *rpc.AuthResponse, err error) (*data.UserProfile, error) {
	if err != nil {
		if ae := auth.FromError(err); ae != nil {
			return nil, ae
		}
		return nil, err
	}

	s.mu.Lock()
	s.token, s.expiresAt, s.user = resp.Token, resp.ExpiresAt, resp.User
	s.mu.Unlock()

	s.log.Debug("signed in", zap.String("uid", resp.User.UID()), zap.Bool("created", resp.Created))
	s.auth.set(resp.User.UID())
	return resp.User, nil
}

// SignOut runs the before-sign-out hooks while the token is still valid,
// then revokes it. Local state is cleared even when the server call fails.
func (s *Session) SignOut(ctx context.Context) error {
	if s.Token() == "" {
		return nil
	}

	s.hooksMu.Lock()
	hooks := make([]func(context.Context), 0, len(s.hooks))
	for i := 0; i < s.nextHook; i++ {
		if h, ok := s.hooks[i]; ok {
			hooks = append(hooks, h)
		}
	}
	s.hooksMu.Unlock()
	for _, h := range hooks {
		h(ctx)
	}

	_, err := s.api.SignOut(ctx, &emptypb.Empty{})

	s.mu.Lock()
	s.token, s.expiresAt, s.user = "", time.Time{}, nil
	s.mu.Unlock()
	s.auth.set("")
	return err
}

// CurrentUser returns the signed-in profile, or nil.
func (s *Session) CurrentUser() *data.UserProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// UID returns the signed-in user id, or "".
func (s *Session) UID() string {
	if u := s.CurrentUser(); u != nil {
		return u.UID()
	}
	return ""
}

// Token returns the session token, or "" when signed out.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// AuthChanges delivers the current uid ("" when signed out) and then every
// change, until ctx is done.
func (s *Session) AuthChanges(ctx context.Context) <-chan string {
	return s.auth.watch(ctx)
}

// OnBeforeSignOut registers fn to run at the start of SignOut, in
// registration order. The returned func unregisters it.
func (s *Session) OnBeforeSignOut(fn func(context.Context)) (unregister func()) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	if s.hooks == nil {
		s.hooks = map[int]func(context.Context){}
	}
	id := s.nextHook
	s.nextHook++
	s.hooks[id] = fn
	return func() {
		s.hooksMu.Lock()
		delete(s.hooks, id)
		s.hooksMu.Unlock()
	}
}
