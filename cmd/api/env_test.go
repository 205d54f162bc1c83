package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/PaulBabatuyi/channelChat/internal/auth"
	"github.com/PaulBabatuyi/channelChat/internal/chat"
	"github.com/PaulBabatuyi/channelChat/internal/config"
	"github.com/PaulBabatuyi/channelChat/internal/data"
	"github.com/PaulBabatuyi/channelChat/internal/identity"
	"github.com/PaulBabatuyi/channelChat/internal/middleware"
)

var (
	alice = &data.Profile{ID: 1, Email: "alice@example.com", FirstName: "Alice"}
	bob   = &data.Profile{ID: 2, Email: "bob@example.com", FirstName: "Bob"}
)

type fakeProfiles map[int64]*data.Profile

func (f fakeProfiles) GetProfileByID(ctx context.Context, id int64) (*data.Profile, error) {
	if p, ok := f[id]; ok {
		return p, nil
	}
	return nil, data.ErrProfileNotFound
}

// fakeStore is an in-memory chat log and server store.
type fakeStore struct {
	mu      sync.Mutex
	nextID  int64
	convs   map[string][]data.MessageView
	servers map[int64]*data.Server
	deleted []int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{convs: map[string][]data.MessageView{}, servers: map[int64]*data.Server{}}
}

func (s *fakeStore) Append(ctx context.Context, channelID string, sender *data.Profile, content string) (*data.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := sender.ID
	m := &data.Message{ID: s.nextID, SenderID: &id, Content: content, Timestamp: time.Now().UTC()}
	name := sender.DisplayName()
	s.convs[channelID] = append(s.convs[channelID], data.MessageView{ID: m.ID, Sender: &name, Content: content, Timestamp: m.Timestamp})
	return m, nil
}

func (s *fakeStore) History(ctx context.Context, channelID string) ([]data.MessageView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs, ok := s.convs[channelID]
	if !ok {
		return nil, data.ErrConversationNotFound
	}
	return append([]data.MessageView{}, msgs...), nil
}

func (s *fakeStore) GetServer(ctx context.Context, id int64) (*data.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	srv, ok := s.servers[id]
	if !ok {
		return nil, data.ErrServerNotFound
	}
	return srv, nil
}

func (s *fakeStore) ListServers(ctx context.Context, f data.ServerFilter) ([]*data.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.ServerID != 0 {
		if _, ok := s.servers[f.ServerID]; !ok {
			return nil, data.ErrServerNotFound
		}
	}
	var out []*data.Server
	for _, srv := range s.servers {
		if f.ServerID != 0 && srv.ID != f.ServerID {
			continue
		}
		if f.Category != "" && srv.Category != f.Category {
			continue
		}
		if f.MemberID != 0 && !containsID(srv.MemberIDs, f.MemberID) {
			continue
		}
		out = append(out, srv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if f.Limit > 0 && int64(len(out)) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *fakeStore) DeleteServer(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.servers, id)
	s.deleted = append(s.deleted, id)
	return nil
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// testEnv wires the real resolver, pipeline and session service over fakes.
type testEnv struct {
	codec    *auth.TokenCodec
	store    *fakeStore
	hub      *chat.Hub
	resolver *identity.Resolver
	sessions *chat.Service
	cfg      *config.Config
	limiter  *middleware.LimiterStore
	api      *api
	logger   *slog.Logger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	codec := auth.NewTokenCodec("test-secret")
	store := newFakeStore()
	hub := chat.NewHub()
	resolver := identity.NewResolver(codec, fakeProfiles{1: alice, 2: bob}, time.Second, logger)
	sessions := chat.NewService(hub, store, time.Second, logger)
	limiter := middleware.NewLimiterStore(6000, 1000, time.Hour)
	t.Cleanup(limiter.Stop)

	cfg := &config.Config{
		JWT:            config.JWTConfig{Secret: "test-secret", CookieName: "access_token"},
		Handshake:      config.HandshakeConfig{TokenSource: config.TokenSourceBoth, QueryParam: "token"},
		AllowedOrigins: []string{"*"},
	}

	return &testEnv{
		codec:    codec,
		store:    store,
		hub:      hub,
		resolver: resolver,
		sessions: sessions,
		cfg:      cfg,
		limiter:  limiter,
		logger:   logger,
		api: &api{
			history:   store,
			servers:   store,
			sessions:  sessions,
			wsOrigins: originPatterns(cfg.AllowedOrigins),
			logger:    logger,
		},
	}
}

func (e *testEnv) router() http.Handler {
	return newRouter(e.api, e.resolver, e.cfg, e.limiter)
}

func (e *testEnv) token(t *testing.T, userID int64, ttl time.Duration) string {
	t.Helper()
	tok, _, err := e.codec.Issue(userID, ttl)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return tok
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
