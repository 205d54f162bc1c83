package main

import (
	"context"
	"errors"
	"io"
	"strconv"
	"sync"

	"github.com/PaulBabatuyi/channelChat/internal/chat"
	"github.com/PaulBabatuyi/channelChat/internal/data"
	"github.com/PaulBabatuyi/channelChat/internal/identity"
	"github.com/PaulBabatuyi/channelChat/internal/normalize"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// ListMessages returns a conversation's history. A channel that has never
// been used is NotFound; a used channel with no messages is an empty list.
func (s *Server) ListMessages(ctx context.Context, req *ListMessagesRequest) (*ListMessagesResponse, error) {
	channelID := normalize.ChannelID(req.ChannelID)
	if channelID == "" {
		return nil, status.Errorf(codes.InvalidArgument, "channel_id is required")
	}

	msgs, err := s.history.History(ctx, channelID)
	if err != nil {
		if errors.Is(err, data.ErrConversationNotFound) {
			return nil, status.Errorf(codes.NotFound, "conversation not found")
		}
		s.logger.ErrorContext(ctx, "List messages failed", "channel_id", channelID, "error", err)
		return nil, status.Errorf(codes.Internal, "failed to list messages")
	}
	return &ListMessagesResponse{Messages: msgs}, nil
}

// Chat runs a conversation session over a bidirectional stream. The first
// frame names the channel and may also carry the first message.
func (s *Server) Chat(stream ChatStream) error {
	ctx := stream.Context()
	id := identity.FromContext(ctx)

	first, err := stream.Recv()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return status.Errorf(codes.Internal, "receive error: %v", err)
	}

	channelID := normalize.ChannelID(first.ChannelID)
	if channelID == "" {
		return status.Errorf(codes.InvalidArgument, "first frame must carry channel_id")
	}

	t := &grpcTransport{stream: stream}
	if first.Message != "" {
		t.pending = &chat.InboundMessage{Message: first.Message}
	}

	err = s.sessions.Serve(ctx, t, id, channelID)
	if errors.Is(err, chat.ErrUnauthenticated) {
		return status.Errorf(codes.Unauthenticated, "rejected: unauthenticated")
	}
	if err != nil {
		return status.Errorf(codes.Internal, "session error: %v", err)
	}
	return nil
}

// grpcTransport adapts a Chat stream to chat.Transport. Close codes travel in
// the "close-code" trailer.
type grpcTransport struct {
	stream  ChatStream
	pending *chat.InboundMessage

	mu     sync.Mutex
	closed bool
}

var errTransportClosed = errors.New("transport closed")

func (t *grpcTransport) Accept(ctx context.Context) error {
	return t.stream.SendHeader(metadata.Pairs("session-state", "active"))
}

func (t *grpcTransport) Reject(ctx context.Context, code int, reason string) error {
	return t.Close(code, reason)
}

func (t *grpcTransport) Receive(ctx context.Context) (chat.InboundMessage, error) {
	if p := t.pending; p != nil {
		t.pending = nil
		return *p, nil
	}
	frame, err := t.stream.Recv()
	if err != nil {
		return chat.InboundMessage{}, err
	}
	return chat.InboundMessage{Message: frame.Message}, nil
}

func (t *grpcTransport) Send(ctx context.Context, msg chat.OutboundMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errTransportClosed
	}
	return t.stream.Send(&msg)
}

func (t *grpcTransport) Close(code int, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.stream.SetTrailer(metadata.Pairs("close-code", strconv.Itoa(code), "close-reason", reason))
	return nil
}
