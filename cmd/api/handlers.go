package main

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/BakhodirAbdullayev/orbital/internal/auth"
	"github.com/BakhodirAbdullayev/orbital/internal/data"
	"github.com/BakhodirAbdullayev/orbital/internal/messaging"
	"github.com/BakhodirAbdullayev/orbital/internal/middleware"
	"github.com/BakhodirAbdullayev/orbital/internal/normalize"
	"github.com/BakhodirAbdullayev/orbital/internal/rpc"
)

// SignUp creates an email/password account, marks it online and returns a
// session token.
func (s *Server) SignUp(ctx context.Context, req *rpc.SignUpRequest) (*rpc.AuthResponse, error) {
	if !s.passwordEnabled {
		return nil, auth.NewError(auth.CodeOperationNotAllowed, "email sign-in is disabled")
	}
	if err := auth.ValidateSignUp(req.Email, req.Password, req.DisplayName); err != nil {
		return nil, err
	}

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to hash password: %v", err)
	}

	email := normalize.Email(req.Email)
	name := strings.TrimSpace(req.DisplayName)
	now := s.now()
	user, err := s.users.CreateUser(ctx, &data.UserProfile{
		Email:          email,
		DisplayName:    name,
		CreatedAt:      now,
		LastOnline:     now,
		Online:         true,
		SearchableName: normalize.SearchableName(name, email),
		Provider:       auth.ProviderPassword,
		PasswordHash:   hashed,
	})
	if errors.Is(err, data.ErrDuplicate) {
		return nil, auth.NewError(auth.CodeEmailAlreadyInUse, "an account with this email already exists")
	}
	if err != nil {
		s.logger(ctx).Error("create user failed", zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to create user")
	}

	return s.issue(user, true)
}

// SignIn checks email and password and marks the user online.
func (s *Server) SignIn(ctx context.Context, req *rpc.SignInRequest) (*rpc.AuthResponse, error) {
	if !s.passwordEnabled {
		return nil, auth.NewError(auth.CodeOperationNotAllowed, "email sign-in is disabled")
	}
	if err := auth.ValidateEmail(req.Email); err != nil {
		return nil, err
	}

	user, err := s.users.GetUserByEmail(ctx, normalize.Email(req.Email))
	if errors.Is(err, data.ErrNotFound) {
		return nil, auth.NewError(auth.CodeInvalidCredential, "invalid email or password")
	}
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to load user: %v", err)
	}

	if user.PasswordHash == "" || auth.CheckPassword(user.PasswordHash, req.Password) != nil {
		return nil, auth.NewError(auth.CodeInvalidCredential, "invalid email or password")
	}
	if user.Disabled {
		return nil, auth.NewError(auth.CodeUserDisabled, "this account has been disabled")
	}

	s.markOnline(ctx, user)
	return s.issue(user, false)
}

// SignInWithProvider verifies a provider ID token. The first sign-in for
// an identity creates its profile.
func (s *Server) SignInWithProvider(ctx context.Context, req *rpc.ProviderSignInRequest) (*rpc.AuthResponse, error) {
	id, err := s.providers.Verify(req.Provider, req.IDToken)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetUserByProvider(ctx, id.Provider, id.Subject)
	switch {
	case err == nil:
		if user.Disabled {
			return nil, auth.NewError(auth.CodeUserDisabled, "this account has been disabled")
		}
		s.markOnline(ctx, user)
		return s.issue(user, false)
	case !errors.Is(err, data.ErrNotFound):
		return nil, status.Errorf(codes.Internal, "failed to load user: %v", err)
	}

	email := normalize.Email(id.Email)
	name := strings.TrimSpace(id.Name)
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}
	now := s.now()
	user, err = s.users.CreateUser(ctx, &data.UserProfile{
		Email:           email,
		DisplayName:     name,
		PhotoURL:        id.Picture,
		CreatedAt:       now,
		LastOnline:      now,
		Online:          true,
		SearchableName:  normalize.SearchableName(name, email),
		Provider:        id.Provider,
		ProviderSubject: id.Subject,
	})
	if errors.Is(err, data.ErrDuplicate) {
		return nil, auth.NewError(auth.CodeEmailAlreadyInUse, "an account with this email already exists")
	}
	if err != nil {
		s.logger(ctx).Error("create provider user failed", zap.String("provider", id.Provider), zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to create user")
	}
	return s.issue(user, true)
}

// SignOut revokes the caller's token and ends the realtime streams opened
// with it, which runs their deferred writes.
func (s *Server) SignOut(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	claims, ok := getClaimsFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing auth claims")
	}

	expiresAt := s.now().Add(s.auth.TTL())
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	if err := s.revoker.Revoke(ctx, claims.ID, expiresAt); err != nil {
		return nil, status.Errorf(codes.Internal, "failed to revoke token: %v", err)
	}
	n := s.hub.Revoke(claims.ID)
	s.logger(ctx).Info("signed out", zap.String("uid", claims.UserID), zap.Int("streams", n))
	return &emptypb.Empty{}, nil
}

// Me returns the caller's profile.
func (s *Server) Me(ctx context.Context, _ *emptypb.Empty) (*data.UserProfile, error) {
	claims, ok := getClaimsFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing auth claims")
	}
	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if errors.Is(err, data.ErrNotFound) {
		return nil, status.Error(codes.NotFound, "user not found")
	}
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to load user: %v", err)
	}
	return user, nil
}

// UpdatePresence writes the caller's online flag to their profile. The
// server stamps lastOnline.
func (s *Server) UpdatePresence(ctx context.Context, req *rpc.PresenceRequest) (*emptypb.Empty, error) {
	claims, ok := getClaimsFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing auth claims")
	}
	err := s.users.SetPresence(ctx, claims.UserID, req.Online, s.now())
	if errors.Is(err, data.ErrNotFound) {
		return nil, status.Error(codes.NotFound, "user not found")
	}
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to update presence: %v", err)
	}
	return &emptypb.Empty{}, nil
}

// CreateChat returns the chat between the caller and the peer, creating it
// when none exists.
func (s *Server) CreateChat(ctx context.Context, req *rpc.CreateChatRequest) (*rpc.CreateChatResponse, error) {
	claims, ok := getClaimsFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing auth claims")
	}
	chat, created, err := s.messaging.StartChat(ctx, claims.UserID, req.PeerID, "")
	if err != nil {
		return nil, messagingStatus(err)
	}
	return &rpc.CreateChatResponse{Chat: chat, Created: created}, nil
}

// SendMessage appends a message to a chat, creating the chat with the
// receiver on the first message.
func (s *Server) SendMessage(ctx context.Context, req *rpc.SendMessageRequest) (*rpc.SendMessageResponse, error) {
	claims, ok := getClaimsFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing auth claims")
	}
	res, err := s.messaging.Send(ctx, claims.UserID, messaging.SendRequest{
		ChatID:     req.ChatID,
		ReceiverID: req.ReceiverID,
		Content:    req.Content,
	})
	if err != nil {
		return nil, messagingStatus(err)
	}
	return &rpc.SendMessageResponse{Chat: res.Chat, Message: res.Message, CreatedChat: res.CreatedChat}, nil
}

func (s *Server) issue(user *data.UserProfile, created bool) (*rpc.AuthResponse, error) {
	token, expiresAt, err := s.auth.GenerateToken(user.ID, user.Email)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to generate token: %v", err)
	}
	return &rpc.AuthResponse{Token: token, ExpiresAt: expiresAt, User: user, Created: created}, nil
}

// markOnline is fire-and-forget: a failed presence write never fails the
// sign-in.
func (s *Server) markOnline(ctx context.Context, user *data.UserProfile) {
	now := s.now()
	if err := s.users.SetPresence(ctx, user.UID(), true, now); err != nil {
		s.logger(ctx).Warn("presence write failed", zap.String("uid", user.UID()), zap.Error(err))
		return
	}
	user.Online = true
	user.LastOnline = now
}

func (s *Server) logger(ctx context.Context) *zap.Logger {
	return middleware.Logger(ctx, s.log)
}

// messagingStatus maps messaging errors to gRPC status codes.
func messagingStatus(err error) error {
	switch {
	case errors.Is(err, messaging.ErrUnauthenticated):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, messaging.ErrEmptyMessage),
		errors.Is(err, messaging.ErrSelfChat),
		errors.Is(err, messaging.ErrNoTarget):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, messaging.ErrUnknownUser), errors.Is(err, data.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, messaging.ErrNotMember):
		return status.Error(codes.PermissionDenied, err.Error())
	default:
		return status.Errorf(codes.Internal, "%v", err)
	}
}
