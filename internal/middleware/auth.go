package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/PaulBabatuyi/channelChat/internal/auth"
	"github.com/PaulBabatuyi/channelChat/internal/config"
	"github.com/PaulBabatuyi/channelChat/internal/identity"
)

// ExpiredTokenMessage is returned to clients presenting an expired token.
const ExpiredTokenMessage = "Token has expired. Please log in again."

// IdentityResolver is implemented by *identity.Resolver.
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (identity.Identity, error)
}

// RequestAuth resolves the access cookie on every API request. An expired
// token is rejected with 401; anything else proceeds with the resolved
// identity attached, Anonymous included.
func RequestAuth(resolver IdentityResolver, cookieName string) Stage {
	return Stage{
		Name: "request-auth",
		Run: func(r *http.Request) (*http.Request, *Rejection) {
			return attach(r, resolver, identity.TokenFromCookie(r, cookieName))
		},
	}
}

// HandshakeAuth runs before a WebSocket upgrade. The token is read from the
// carrier selected by cfg.TokenSource; with TokenSourceBoth the cookie wins
// and the query parameter is the fallback.
func HandshakeAuth(resolver IdentityResolver, cfg config.HandshakeConfig, cookieName string) Stage {
	return Stage{
		Name: "handshake-auth",
		Run: func(r *http.Request) (*http.Request, *Rejection) {
			var token string
			switch cfg.TokenSource {
			case config.TokenSourceCookie:
				token = identity.TokenFromCookie(r, cookieName)
			case config.TokenSourceQuery:
				token = identity.TokenFromQuery(r, cfg.QueryParam)
			default:
				token = identity.TokenFromCookie(r, cookieName)
				if token == "" {
					token = identity.TokenFromQuery(r, cfg.QueryParam)
				}
			}
			return attach(r, resolver, token)
		},
	}
}

func attach(r *http.Request, resolver IdentityResolver, token string) (*http.Request, *Rejection) {
	id, err := resolver.Resolve(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			return nil, Reject(http.StatusUnauthorized, ExpiredTokenMessage)
		}
		return nil, Reject(http.StatusUnauthorized, "authentication failed")
	}
	return r.WithContext(identity.WithIdentity(r.Context(), id)), nil
}

// RequireAuthenticated rejects Anonymous callers with 401. It must run after
// RequestAuth.
func RequireAuthenticated() Stage {
	return Stage{
		Name: "require-authenticated",
		Run: func(r *http.Request) (*http.Request, *Rejection) {
			if !identity.FromContext(r.Context()).IsAuthenticated() {
				return nil, Reject(http.StatusUnauthorized, "authentication required")
			}
			return r, nil
		},
	}
}
