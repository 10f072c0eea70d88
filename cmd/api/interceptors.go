package main

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/BakhodirAbdullayev/orbital/internal/auth"
	"github.com/BakhodirAbdullayev/orbital/internal/middleware"
	"github.com/BakhodirAbdullayev/orbital/internal/rpc"
)

// context key type for storing auth claims in context
type authContextKey struct{}

// unauthenticatedMethods can be called without a session token.
var unauthenticatedMethods = map[string]bool{
	rpc.SignUpFullMethod:             true,
	rpc.SignInFullMethod:             true,
	rpc.SignInWithProviderFullMethod: true,
}

// getClaimsFromContext extracts auth claims from the context, if present.
func getClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	c, ok := ctx.Value(authContextKey{}).(*auth.Claims)
	return c, ok && c != nil
}

// authenticate verifies the bearer token in ctx and rejects revoked ones.
func authenticate(ctx context.Context, j *auth.JWTManager, revoker auth.Revoker) (*auth.Claims, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing metadata")
	}
	authHeaders := md.Get("authorization")
	if len(authHeaders) == 0 {
		return nil, status.Error(codes.Unauthenticated, "missing authorization header")
	}

	token := strings.TrimSpace(strings.TrimPrefix(authHeaders[0], "Bearer"))
	if token == "" {
		return nil, status.Error(codes.Unauthenticated, "invalid token")
	}

	claims, err := j.VerifyToken(token)
	if err != nil {
		return nil, status.Errorf(codes.Unauthenticated, "unauthenticated: %v", err)
	}

	revoked, err := revoker.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, status.Errorf(codes.Unavailable, "check token: %v", err)
	}
	if revoked {
		return nil, status.Error(codes.Unauthenticated, "token revoked")
	}
	return claims, nil
}

// authUnaryInterceptor returns a UnaryServerInterceptor that enforces JWT
// authentication for all methods except the sign-in methods.
func authUnaryInterceptor(j *auth.JWTManager, revoker auth.Revoker) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if unauthenticatedMethods[info.FullMethod] {
			return handler(ctx, req)
		}

		claims, err := authenticate(ctx, j, revoker)
		if err != nil {
			return nil, err
		}
		return handler(context.WithValue(ctx, authContextKey{}, claims), req)
	}
}

// authStreamInterceptor is the stream equivalent of authUnaryInterceptor.
func authStreamInterceptor(j *auth.JWTManager, revoker auth.Revoker) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if unauthenticatedMethods[info.FullMethod] {
			return handler(srv, ss)
		}

		claims, err := authenticate(ss.Context(), j, revoker)
		if err != nil {
			return err
		}

		newCtx := context.WithValue(ss.Context(), authContextKey{}, claims)
		return handler(srv, middleware.WrapStream(ss, newCtx))
	}
}
