package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/PaulBabatuyi/channelChat/internal/chat"
	"github.com/PaulBabatuyi/channelChat/internal/config"
	"github.com/PaulBabatuyi/channelChat/internal/data"
	"github.com/PaulBabatuyi/channelChat/internal/identity"
	"github.com/PaulBabatuyi/channelChat/internal/middleware"
	"github.com/PaulBabatuyi/channelChat/internal/normalize"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// serverStore is the subset of *data.ServersStore the HTTP API uses.
type serverStore interface {
	GetServer(ctx context.Context, id int64) (*data.Server, error)
	ListServers(ctx context.Context, f data.ServerFilter) ([]*data.Server, error)
	DeleteServer(ctx context.Context, id int64) error
}

// api holds the HTTP and WebSocket handlers.
type api struct {
	history   historyReader
	servers   serverStore
	sessions  *chat.Service
	wsOrigins []string
	logger    *slog.Logger
}

// newRouter assembles the HTTP surface. Each route group runs an explicit
// pipeline of named stages in front of its handlers.
func newRouter(a *api, resolver middleware.IdentityResolver, cfg *config.Config, limiter *middleware.LimiterStore) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.RequestLogger(&chiMiddleware.DefaultLogFormatter{
		Logger:  slog.NewLogLogger(a.logger.Handler(), slog.LevelInfo),
		NoColor: true,
	}))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Pipeline(a.logger,
			middleware.RequestAuth(resolver, cfg.JWT.CookieName),
			middleware.RateLimit(limiter),
		))
		r.Get("/messages/", a.listMessages)
		r.Get("/servers/", a.listServers)
		r.With(middleware.Pipeline(a.logger, middleware.RequireAuthenticated())).
			Delete("/servers/{serverID}/", a.deleteServer)
	})

	r.With(middleware.Pipeline(a.logger,
		middleware.HandshakeAuth(resolver, cfg.Handshake, cfg.JWT.CookieName),
		middleware.RateLimit(limiter),
	)).Get("/ws/{serverID}/{channelID}/", a.serveChat)

	return r
}

func detail(w http.ResponseWriter, status int, msg string) {
	middleware.WriteJSON(w, status, map[string]string{"detail": msg})
}

// listMessages serves GET /api/messages/?channel_id=<id>.
func (a *api) listMessages(w http.ResponseWriter, r *http.Request) {
	channelID := normalize.ChannelID(r.URL.Query().Get("channel_id"))
	if channelID == "" {
		detail(w, http.StatusBadRequest, "channel_id is required")
		return
	}

	msgs, err := a.history.History(r.Context(), channelID)
	if err != nil {
		if errors.Is(err, data.ErrConversationNotFound) {
			detail(w, http.StatusNotFound, "conversation not found")
			return
		}
		a.logger.ErrorContext(r.Context(), "List messages failed", "channel_id", channelID, "error", err)
		detail(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, msgs)
}

// listServers serves GET /api/servers/ with the category, num_results,
// by_user, by_serverid and with_num_members filters.
func (a *api) listServers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := data.ServerFilter{
		Category:       q.Get("category"),
		WithNumMembers: q.Get("with_num_members") == "true",
	}

	if v := q.Get("num_results"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			detail(w, http.StatusBadRequest, "num_results must be a non-negative integer")
			return
		}
		f.Limit = n
	}

	if q.Get("by_user") == "true" {
		p, ok := identity.FromContext(r.Context()).Profile()
		if !ok {
			detail(w, http.StatusUnauthorized, "Authentication credentials were not provided.")
			return
		}
		f.MemberID = p.ID
	}

	if v := q.Get("by_serverid"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			detail(w, http.StatusBadRequest, fmt.Sprintf("Server with id %s not found", v))
			return
		}
		f.ServerID = id
	}

	servers, err := a.servers.ListServers(r.Context(), f)
	if err != nil {
		if errors.Is(err, data.ErrServerNotFound) {
			detail(w, http.StatusBadRequest, fmt.Sprintf("Server with id %d not found", f.ServerID))
			return
		}
		a.logger.ErrorContext(r.Context(), "List servers failed", "error", err)
		detail(w, http.StatusInternalServerError, "failed to list servers")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, servers)
}

// deleteServer serves DELETE /api/servers/{serverID}/. Only the owner may
// delete; media is removed before the record.
func (a *api) deleteServer(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "serverID"), 10, 64)
	if err != nil || id <= 0 {
		detail(w, http.StatusNotFound, "Not found.")
		return
	}

	p, _ := identity.FromContext(r.Context()).Profile()

	srv, err := a.servers.GetServer(r.Context(), id)
	if err != nil {
		if errors.Is(err, data.ErrServerNotFound) {
			detail(w, http.StatusNotFound, "Not found.")
			return
		}
		a.logger.ErrorContext(r.Context(), "Get server failed", "server_id", id, "error", err)
		detail(w, http.StatusInternalServerError, "failed to load server")
		return
	}
	if p == nil || srv.OwnerID != p.ID {
		detail(w, http.StatusForbidden, "You do not have permission to perform this action.")
		return
	}

	if err := a.servers.DeleteServer(r.Context(), id); err != nil {
		a.logger.ErrorContext(r.Context(), "Delete server failed", "server_id", id, "error", err)
		detail(w, http.StatusInternalServerError, "failed to delete server")
		return
	}
	a.logger.InfoContext(r.Context(), "Server deleted", "server_id", id, "owner_id", p.ID)
	w.WriteHeader(http.StatusNoContent)
}
