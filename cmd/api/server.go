package main

import (
	"context"
	"log/slog"

	"github.com/PaulBabatuyi/channelChat/internal/chat"
	"github.com/PaulBabatuyi/channelChat/internal/data"
	"google.golang.org/grpc"
)

// historyReader is the read side of *data.ChatLog.
type historyReader interface {
	History(ctx context.Context, channelID string) ([]data.MessageView, error)
}

// Server implements the chat service and contains references to the chat log
// and the session service shared with the WebSocket transport.
type Server struct {
	history  historyReader
	sessions *chat.Service
	logger   *slog.Logger
}

// newServer returns a ready-to-use Server.
func newServer(history historyReader, sessions *chat.Service, logger *slog.Logger) *Server {
	return &Server{history: history, sessions: sessions, logger: logger}
}

// registerService registers the ChatService on the given gRPC server.
func registerService(s *grpc.Server, srv *Server) {
	s.RegisterService(&chatServiceDesc, srv)
}
