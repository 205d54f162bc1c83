package data

import (
	"context"
	"fmt"
)

// ChatLog combines the conversation, message and profile stores into the two
// operations the chat transports need: append a message to a channel and
// read a channel's history.
type ChatLog struct {
	conversations *ConversationsStore
	messages      *MessagesStore
	profiles      *ProfilesStore
}

// NewChatLog returns a ChatLog over the given stores.
func NewChatLog(conversations *ConversationsStore, messages *MessagesStore, profiles *ProfilesStore) *ChatLog {
	return &ChatLog{conversations: conversations, messages: messages, profiles: profiles}
}

// Append stores content as a message from sender in channelID, creating the
// conversation if this is the channel's first message.
func (l *ChatLog) Append(ctx context.Context, channelID string, sender *Profile, content string) (*Message, error) {
	conv, err := l.conversations.GetOrCreate(ctx, channelID)
	if err != nil {
		return nil, err
	}

	var senderID *int64
	if sender != nil {
		id := sender.ID
		senderID = &id
	}

	msg, err := l.messages.SaveMessage(ctx, conv.ID, senderID, content)
	if err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}
	return msg, nil
}

// History returns the messages of channelID with sender names resolved. It
// fails with ErrConversationNotFound when the channel has never been used,
// and returns an empty slice for a conversation with no messages.
func (l *ChatLog) History(ctx context.Context, channelID string) ([]MessageView, error) {
	conv, err := l.conversations.GetByChannelID(ctx, channelID)
	if err != nil {
		return nil, err
	}

	msgs, err := l.messages.ListByConversation(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	seen := map[int64]bool{}
	var senderIDs []int64
	for _, m := range msgs {
		if m.SenderID != nil && !seen[*m.SenderID] {
			seen[*m.SenderID] = true
			senderIDs = append(senderIDs, *m.SenderID)
		}
	}

	names, err := l.profiles.DisplayNames(ctx, senderIDs)
	if err != nil {
		return nil, fmt.Errorf("resolve senders: %w", err)
	}

	views := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		v := MessageView{ID: m.ID, Content: m.Content, Timestamp: m.Timestamp}
		if m.SenderID != nil {
			if name, ok := names[*m.SenderID]; ok {
				v.Sender = &name
			}
		}
		views = append(views, v)
	}
	return views, nil
}
