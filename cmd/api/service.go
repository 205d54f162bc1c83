package main

import (
	"context"
	"encoding/json"

	"github.com/PaulBabatuyi/channelChat/internal/chat"
	"github.com/PaulBabatuyi/channelChat/internal/data"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// The chat service is served with a JSON codec; clients select it with the
// "json" content-subtype (application/grpc+json).
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return "json" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

const (
	chatServiceName    = "chat.v1.ChatService"
	listMessagesMethod = "/" + chatServiceName + "/ListMessages"
	chatMethod         = "/" + chatServiceName + "/Chat"
)

// ListMessagesRequest selects a conversation by channel id.
type ListMessagesRequest struct {
	ChannelID string `json:"channel_id"`
}

// ListMessagesResponse holds a conversation's messages in id order.
type ListMessagesResponse struct {
	Messages []data.MessageView `json:"messages"`
}

// ChatFrame is a client frame on the Chat stream. The first frame must carry
// ChannelID; Message is read from every frame.
type ChatFrame struct {
	ChannelID string `json:"channel_id,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ChatServiceServer is implemented by *Server.
type ChatServiceServer interface {
	ListMessages(context.Context, *ListMessagesRequest) (*ListMessagesResponse, error)
	Chat(ChatStream) error
}

// ChatStream is the server side of the bidirectional Chat stream.
type ChatStream interface {
	Send(*chat.OutboundMessage) error
	Recv() (*ChatFrame, error)
	grpc.ServerStream
}

type chatStream struct {
	grpc.ServerStream
}

func (s *chatStream) Send(m *chat.OutboundMessage) error { return s.ServerStream.SendMsg(m) }

func (s *chatStream) Recv() (*ChatFrame, error) {
	m := new(ChatFrame)
	if err := s.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func listMessagesHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ListMessagesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ChatServiceServer).ListMessages(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: listMessagesMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ChatServiceServer).ListMessages(ctx, req.(*ListMessagesRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func chatHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(ChatServiceServer).Chat(&chatStream{stream})
}

var chatServiceDesc = grpc.ServiceDesc{
	ServiceName: chatServiceName,
	HandlerType: (*ChatServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListMessages", Handler: listMessagesHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Chat", Handler: chatHandler, ServerStreams: true, ClientStreams: true},
	},
	Metadata: "chat/v1/chat.proto",
}
