// Package chat implements the per-connection conversation session, the
// groups it broadcasts through, and the wire events exchanged with clients.
package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/PaulBabatuyi/channelChat/internal/data"
	"github.com/PaulBabatuyi/channelChat/internal/identity"
)

// Close codes sent to clients.
const (
	CloseNormal          = 1000
	CloseUnauthenticated = 4001
)

var (
	// ErrUnauthenticated is returned by Serve when an anonymous connection
	// was rejected.
	ErrUnauthenticated = errors.New("chat: unauthenticated")
	// ErrBadFrame is wrapped by transports when a client frame cannot be
	// decoded. The session drops such frames.
	ErrBadFrame = errors.New("chat: malformed frame")
)

// State is the lifecycle position of a session.
type State int

const (
	StateConnecting State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Transport is one client connection. Receive returns io.EOF when the client
// closes normally.
type Transport interface {
	Sender
	Accept(ctx context.Context) error
	Reject(ctx context.Context, code int, reason string) error
	Receive(ctx context.Context) (InboundMessage, error)
	Close(code int, reason string) error
}

// MessageLog persists chat messages. *data.ChatLog implements it.
type MessageLog interface {
	Append(ctx context.Context, channelID string, sender *data.Profile, content string) (*data.Message, error)
}

// Service runs conversation sessions over any Transport.
type Service struct {
	groups    Groups
	log       MessageLog
	opTimeout time.Duration
	logger    *slog.Logger
}

// NewService returns a Service. opTimeout bounds each store call made while
// handling an inbound message.
func NewService(groups Groups, log MessageLog, opTimeout time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{groups: groups, log: log, opTimeout: opTimeout, logger: logger}
}

// Serve drives one connection from Connecting to Closed and blocks until the
// connection ends. Anonymous callers are rejected with CloseUnauthenticated
// and ErrUnauthenticated is returned. A normal client close returns nil.
func (svc *Service) Serve(ctx context.Context, t Transport, id identity.Identity, channelID string) error {
	s := &session{
		svc:       svc,
		transport: t,
		channelID: channelID,
		group:     GroupKey(channelID),
		logger:    svc.logger.With("channel_id", channelID, "identity", id),
	}

	if err := s.connect(ctx, id); err != nil {
		return err
	}
	defer s.close(CloseNormal, "session ended")

	for {
		in, err := t.Receive(ctx)
		if err != nil {
			switch {
			case errors.Is(err, ErrBadFrame):
				s.logger.Warn("Dropping malformed frame", "error", err)
				continue
			case errors.Is(err, io.EOF), ctx.Err() != nil:
				s.logger.Debug("Connection closed by client")
				return nil
			default:
				s.logger.Warn("Receive failed", "error", err)
				return err
			}
		}
		s.handle(ctx, in)
	}
}

type session struct {
	svc       *Service
	transport Transport
	channelID string
	group     string
	profile   *data.Profile
	logger    *slog.Logger

	mu       sync.Mutex
	state    State
	joined   bool
	memberID int64
}

func (s *session) connect(ctx context.Context, id identity.Identity) error {
	profile, ok := id.Profile()
	if !ok {
		s.logger.Info("Rejecting anonymous connection")
		if err := s.transport.Reject(ctx, CloseUnauthenticated, "unauthenticated"); err != nil {
			s.logger.Debug("Reject failed", "error", err)
		}
		s.setState(StateClosed)
		return ErrUnauthenticated
	}
	s.profile = profile

	if err := s.transport.Accept(ctx); err != nil {
		s.setState(StateClosed)
		return err
	}

	s.mu.Lock()
	s.memberID = s.svc.groups.Join(s.group, s.transport)
	s.joined = true
	s.state = StateActive
	s.mu.Unlock()

	s.logger.Info("Session active", "group", s.group)
	return nil
}

func (s *session) handle(ctx context.Context, in InboundMessage) {
	if s.currentState() != StateActive {
		return
	}
	if strings.TrimSpace(in.Message) == "" {
		s.logger.Info("Dropping empty message")
		return
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	msg, err := s.svc.log.Append(opCtx, s.channelID, s.profile, in.Message)
	if err != nil {
		s.logger.Error("Failed to store message", "error", err)
		return
	}

	out := NewOutboundMessage(msg, s.profile)
	if err := s.svc.groups.Broadcast(opCtx, s.group, out); err != nil {
		s.logger.Warn("Broadcast incomplete", "message_id", msg.ID, "error", err)
	}
}

func (s *session) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.svc.opTimeout > 0 {
		return context.WithTimeout(ctx, s.svc.opTimeout)
	}
	return context.WithCancel(ctx)
}

// close leaves the group and closes the transport. Safe to call repeatedly.
func (s *session) close(code int, reason string) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	joined, memberID := s.joined, s.memberID
	s.joined = false
	s.mu.Unlock()

	if joined {
		s.svc.groups.Leave(s.group, memberID)
	}
	if err := s.transport.Close(code, reason); err != nil {
		s.logger.Debug("Transport close failed", "error", err)
	}
	s.logger.Info("Session closed")
}

func (s *session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *session) currentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
