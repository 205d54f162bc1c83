package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/PaulBabatuyi/channelChat/internal/chat"
	"github.com/PaulBabatuyi/channelChat/internal/identity"
	"github.com/PaulBabatuyi/channelChat/internal/normalize"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
)

// serveChat serves /ws/{serverID}/{channelID}/. The handshake pipeline has
// already attached the caller identity; the session decides whether to keep
// the connection.
func (a *api) serveChat(w http.ResponseWriter, r *http.Request) {
	channelID := normalize.ChannelID(chi.URLParam(r, "channelID"))
	id := identity.FromContext(r.Context())
	a.logger.InfoContext(r.Context(), "WebSocket connection request",
		"server_id", chi.URLParam(r, "serverID"), "channel_id", channelID, "ip", r.RemoteAddr)

	if channelID == "" {
		http.Error(w, "channel id is required", http.StatusBadRequest)
		return
	}

	t := &wsTransport{w: w, r: r, opts: &websocket.AcceptOptions{OriginPatterns: a.wsOrigins}}
	err := a.sessions.Serve(r.Context(), t, id, channelID)
	if err != nil && !errors.Is(err, chat.ErrUnauthenticated) {
		a.logger.WarnContext(r.Context(), "Chat session ended with error", "channel_id", channelID, "error", err)
	}
}

// originPatterns turns ALLOWED_ORIGINS entries into host patterns for the
// WebSocket origin check.
func originPatterns(origins []string) []string {
	var out []string
	for _, o := range origins {
		if o == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
			continue
		}
		out = append(out, o)
	}
	return out
}

// wsTransport adapts a coder/websocket connection to chat.Transport.
type wsTransport struct {
	w    http.ResponseWriter
	r    *http.Request
	opts *websocket.AcceptOptions

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func (t *wsTransport) Accept(ctx context.Context) error {
	conn, err := websocket.Accept(t.w, t.r, t.opts)
	if err != nil {
		return fmt.Errorf("accept websocket: %w", err)
	}
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	return nil
}

// Reject completes the upgrade and immediately closes with code so the
// client can read the reason.
func (t *wsTransport) Reject(ctx context.Context, code int, reason string) error {
	if err := t.Accept(ctx); err != nil {
		return err
	}
	return t.Close(code, reason)
}

func (t *wsTransport) Receive(ctx context.Context) (chat.InboundMessage, error) {
	_, payload, err := t.conn.Read(ctx)
	if err != nil {
		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			return chat.InboundMessage{}, io.EOF
		}
		return chat.InboundMessage{}, err
	}

	var in chat.InboundMessage
	if err := json.Unmarshal(payload, &in); err != nil {
		return chat.InboundMessage{}, fmt.Errorf("%w: %v", chat.ErrBadFrame, err)
	}
	return in, nil
}

func (t *wsTransport) Send(ctx context.Context, msg chat.OutboundMessage) error {
	t.mu.Lock()
	conn, closed := t.conn, t.closed
	t.mu.Unlock()
	if closed || conn == nil {
		return errTransportClosed
	}
	return wsjson.Write(ctx, conn, msg)
}

func (t *wsTransport) Close(code int, reason string) error {
	t.mu.Lock()
	if t.closed || t.conn == nil {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	t.mu.Unlock()
	return conn.Close(websocket.StatusCode(code), reason)
}
