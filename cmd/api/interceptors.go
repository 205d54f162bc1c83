package main

import (
	"context"
	"errors"

	"github.com/PaulBabatuyi/channelChat/internal/auth"
	"github.com/PaulBabatuyi/channelChat/internal/identity"
	"github.com/PaulBabatuyi/channelChat/internal/middleware"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// tokenFromMetadata reads "authorization: Bearer <jwt>", falling back to the
// access cookie in a "cookie" header.
func tokenFromMetadata(ctx context.Context, cookieName string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if authHeaders := md.Get("authorization"); len(authHeaders) > 0 {
		if token := identity.TokenFromBearer(authHeaders[0]); token != "" {
			return token
		}
	}
	return identity.TokenFromCookieHeader(md.Get("cookie"), cookieName)
}

// resolveIdentity attaches the caller identity to ctx. Only an expired token
// is an error.
func resolveIdentity(ctx context.Context, resolver middleware.IdentityResolver, cookieName string) (context.Context, error) {
	id, err := resolver.Resolve(ctx, tokenFromMetadata(ctx, cookieName))
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			return nil, status.Error(codes.Unauthenticated, middleware.ExpiredTokenMessage)
		}
		return nil, status.Errorf(codes.Unauthenticated, "unauthenticated: %v", err)
	}
	return identity.WithIdentity(ctx, id), nil
}

// authUnaryInterceptor returns a UnaryServerInterceptor that resolves the
// caller identity for every method. Anonymous callers proceed; handlers
// decide what they may do.
func authUnaryInterceptor(resolver middleware.IdentityResolver, cookieName string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		ctx, err := resolveIdentity(ctx, resolver, cookieName)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// authStreamInterceptor is the stream equivalent of authUnaryInterceptor.
// It runs before the first frame is read, so an expired token never reaches
// the session.
func authStreamInterceptor(resolver middleware.IdentityResolver, cookieName string) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := resolveIdentity(ss.Context(), resolver, cookieName)
		if err != nil {
			return err
		}
		return handler(srv, identityServerStream{ServerStream: ss, ctx: ctx})
	}
}

// identityServerStream wraps grpc.ServerStream to override Context()
type identityServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the wrapped context (with identity)
func (s identityServerStream) Context() context.Context { return s.ctx }
