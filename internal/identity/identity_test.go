package identity

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/PaulBabatuyi/channelChat/internal/auth"
	"github.com/PaulBabatuyi/channelChat/internal/data"
)

type fakeProfiles struct {
	profiles map[int64]*data.Profile
	err      error
	delay    time.Duration
}

func (f *fakeProfiles) GetProfileByID(ctx context.Context, id int64) (*data.Profile, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.profiles[id]
	if !ok {
		return nil, data.ErrProfileNotFound
	}
	return p, nil
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestResolver(profiles *fakeProfiles) (*Resolver, *auth.TokenCodec) {
	codec := auth.NewTokenCodec("test-secret")
	return NewResolver(codec, profiles, time.Second, quietLogger()), codec
}

func TestResolve(t *testing.T) {
	alice := &data.Profile{ID: 42, Email: "alice@example.com", FirstName: "Alice"}
	r, codec := newTestResolver(&fakeProfiles{profiles: map[int64]*data.Profile{42: alice}})
	other := auth.NewTokenCodec("other-secret")

	valid, _, _ := codec.Issue(42, time.Hour)
	unknownUser, _, _ := codec.Issue(7, time.Hour)
	foreign, _, _ := other.Issue(42, time.Hour)

	cases := []struct {
		name     string
		token    string
		wantAuth bool
	}{
		{"absent", "", false},
		{"malformed", "garbage", false},
		{"foreign secret", foreign, false},
		{"unknown profile", unknownUser, false},
		{"valid", valid, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id, err := r.Resolve(context.Background(), tc.token)
			if err != nil {
				t.Fatalf("Resolve returned error: %v", err)
			}
			if id.IsAuthenticated() != tc.wantAuth {
				t.Fatalf("IsAuthenticated = %v, want %v", id.IsAuthenticated(), tc.wantAuth)
			}
			if tc.wantAuth {
				p, _ := id.Profile()
				if p != alice {
					t.Fatalf("resolved wrong profile: %+v", p)
				}
			}
		})
	}
}

func TestResolveExpired(t *testing.T) {
	r, codec := newTestResolver(&fakeProfiles{profiles: map[int64]*data.Profile{42: {ID: 42}}})
	expired, _, _ := codec.Issue(42, -time.Minute)

	id, err := r.Resolve(context.Background(), expired)
	if !errors.Is(err, auth.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if id.IsAuthenticated() {
		t.Fatal("expired token must not authenticate")
	}
}

func TestResolveStoreFailureDowngrades(t *testing.T) {
	r, codec := newTestResolver(&fakeProfiles{err: errors.New("connection refused")})
	valid, _, _ := codec.Issue(42, time.Hour)

	id, err := r.Resolve(context.Background(), valid)
	if err != nil || id.IsAuthenticated() {
		t.Fatalf("expected anonymous without error, got %v / %v", id, err)
	}
}

func TestResolveLookupTimeout(t *testing.T) {
	codec := auth.NewTokenCodec("test-secret")
	slow := &fakeProfiles{profiles: map[int64]*data.Profile{42: {ID: 42}}, delay: time.Second}
	r := NewResolver(codec, slow, 20*time.Millisecond, quietLogger())
	valid, _, _ := codec.Issue(42, time.Hour)

	start := time.Now()
	id, err := r.Resolve(context.Background(), valid)
	if err != nil || id.IsAuthenticated() {
		t.Fatalf("expected anonymous on timeout, got %v / %v", id, err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("lookup timeout not applied")
	}
}

func TestContextRoundTrip(t *testing.T) {
	if FromContext(context.Background()).IsAuthenticated() {
		t.Fatal("empty context must be anonymous")
	}
	p := &data.Profile{ID: 1}
	ctx := WithIdentity(context.Background(), Authenticated(p))
	got, ok := FromContext(ctx).Profile()
	if !ok || got != p {
		t.Fatalf("FromContext lost the profile")
	}
}

func TestIdentityLogOmitsEmail(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	logger.Info("session", "identity", Authenticated(&data.Profile{ID: 42, Email: "alice@example.com"}))
	logger.Info("session", "identity", Anonymous())

	out := buf.String()
	if !strings.Contains(out, "identity.profile_id=42") {
		t.Fatalf("profile id missing from log: %s", out)
	}
	if strings.Contains(out, "alice@example.com") {
		t.Fatalf("email leaked into log: %s", out)
	}
	if !strings.Contains(out, "identity=anonymous") {
		t.Fatalf("anonymous identity not logged: %s", out)
	}
}

func TestTokenCarriers(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws/s/c/?token=from-query", nil)
	r.Header.Add("Cookie", "theme=dark; access_token=from-cookie")

	if got := TokenFromCookie(r, "access_token"); got != "from-cookie" {
		t.Fatalf("TokenFromCookie = %q", got)
	}
	if got := TokenFromQuery(r, "token"); got != "from-query" {
		t.Fatalf("TokenFromQuery = %q", got)
	}
	if got := TokenFromCookieHeader([]string{"a=b; access_token=xyz"}, "access_token"); got != "xyz" {
		t.Fatalf("TokenFromCookieHeader = %q", got)
	}
	if got := TokenFromBearer("Bearer abc"); got != "abc" {
		t.Fatalf("TokenFromBearer = %q", got)
	}
	if got := TokenFromBearer("Basic abc"); got != "" {
		t.Fatalf("TokenFromBearer accepted non-bearer scheme: %q", got)
	}
}
