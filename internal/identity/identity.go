// Package identity turns presented tokens into the caller identity shared by
// the HTTP, WebSocket and gRPC transports.
package identity

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PaulBabatuyi/channelChat/internal/auth"
	"github.com/PaulBabatuyi/channelChat/internal/data"
)

// Identity is either Anonymous or Authenticated with a profile. The zero
// value is Anonymous.
type Identity struct {
	profile *data.Profile
}

// Anonymous returns the guest identity.
func Anonymous() Identity { return Identity{} }

// Authenticated returns the identity of p.
func Authenticated(p *data.Profile) Identity { return Identity{profile: p} }

// IsAuthenticated reports whether a profile is attached.
func (i Identity) IsAuthenticated() bool { return i.profile != nil }

// Profile returns the attached profile, if any.
func (i Identity) Profile() (*data.Profile, bool) { return i.profile, i.profile != nil }

// LogValue implements slog.LogValuer. Only the profile id is logged.
func (i Identity) LogValue() slog.Value {
	if i.profile == nil {
		return slog.StringValue("anonymous")
	}
	return slog.GroupValue(slog.Int64("profile_id", i.profile.ID))
}

// TokenVerifier is the subset of auth.TokenCodec used by Resolver.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// ProfileLookup is the subset of data.ProfilesStore used by Resolver.
type ProfileLookup interface {
	GetProfileByID(ctx context.Context, id int64) (*data.Profile, error)
}

// Resolver maps a raw token to an Identity.
type Resolver struct {
	tokens   TokenVerifier
	profiles ProfileLookup
	timeout  time.Duration
	logger   *slog.Logger
}

// NewResolver returns a Resolver. timeout bounds the profile lookup so a slow
// store cannot hold a handshake open indefinitely; zero disables it.
func NewResolver(tokens TokenVerifier, profiles ProfileLookup, timeout time.Duration, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{tokens: tokens, profiles: profiles, timeout: timeout, logger: logger}
}

// Resolve returns the identity for token. The only error is
// auth.ErrTokenExpired; an absent or malformed token, an unknown profile and
// a failing store all resolve to Anonymous.
func (r *Resolver) Resolve(ctx context.Context, token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Anonymous(), nil
	}

	claims, err := r.tokens.Verify(token)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			r.logger.InfoContext(ctx, "Expired token received")
			return Anonymous(), auth.ErrTokenExpired
		}
		r.logger.WarnContext(ctx, "Invalid token, treating as anonymous", "error", err)
		return Anonymous(), nil
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	profile, err := r.profiles.GetProfileByID(ctx, int64(claims.UserID))
	if err != nil {
		if errors.Is(err, data.ErrProfileNotFound) {
			r.logger.WarnContext(ctx, "Profile does not exist, treating as anonymous", "user_id", int64(claims.UserID))
		} else {
			r.logger.WarnContext(ctx, "Profile lookup failed, treating as anonymous", "user_id", int64(claims.UserID), "error", err)
		}
		return Anonymous(), nil
	}

	r.logger.DebugContext(ctx, "Authenticated via JWT", "user_id", profile.ID)
	return Authenticated(profile), nil
}

type contextKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity attached to ctx, or Anonymous.
func FromContext(ctx context.Context) Identity {
	if id, ok := ctx.Value(contextKey{}).(Identity); ok {
		return id
	}
	return Anonymous()
}

// TokenFromCookie returns the value of the named cookie, or "".
func TokenFromCookie(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

// TokenFromQuery returns the named query parameter, or "".
func TokenFromQuery(r *http.Request, param string) string {
	return r.URL.Query().Get(param)
}

// TokenFromCookieHeader extracts the named cookie from raw Cookie header
// values, as carried in gRPC metadata.
func TokenFromCookieHeader(headers []string, name string) string {
	for _, h := range headers {
		cookies, err := http.ParseCookie(h)
		if err != nil {
			continue
		}
		for _, c := range cookies {
			if c.Name == name {
				return c.Value
			}
		}
	}
	return ""
}

// TokenFromBearer strips a "Bearer " prefix from an Authorization value.
func TokenFromBearer(header string) string {
	header = strings.TrimSpace(header)
	if len(header) >= 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
