package chat

import (
	"time"

	"github.com/PaulBabatuyi/channelChat/internal/data"
)

// InboundMessage is a client frame. Only non-empty Message values are stored.
type InboundMessage struct {
	Message string `json:"message"`
}

// OutboundMessage is broadcast to every member of a conversation group.
type OutboundMessage struct {
	ID        int64  `json:"id"`
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// NewOutboundMessage projects a stored message for the wire.
func NewOutboundMessage(m *data.Message, sender *data.Profile) OutboundMessage {
	return OutboundMessage{
		ID:        m.ID,
		Sender:    sender.DisplayName(),
		Content:   m.Content,
		Timestamp: m.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

// GroupKey returns the broadcast group for a channel. The channel id is used
// verbatim so distinct channels never share a group.
func GroupKey(channelID string) string {
	return "conversation." + channelID
}
