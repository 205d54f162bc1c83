package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PaulBabatuyi/channelChat/internal/normalize"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ConversationsStore provides conversation DB operations.
type ConversationsStore struct {
	coll     *mongo.Collection // "conversations"
	messages *mongo.Collection // "messages", owned by conversations
}

// NewConversationsStore returns a ConversationsStore.
func NewConversationsStore(conversations, messages *mongo.Collection) *ConversationsStore {
	return &ConversationsStore{coll: conversations, messages: messages}
}

// GetOrCreate returns the conversation for channelID, creating it on first use.
func (s *ConversationsStore) GetOrCreate(ctx context.Context, channelID string) (*Conversation, error) {
	channelID = normalize.ChannelID(channelID)
	if channelID == "" {
		return nil, errors.New("channel id is required")
	}

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var conv Conversation
	err := s.coll.FindOneAndUpdate(ctx,
		bson.M{"channel_id": channelID},
		bson.M{"$setOnInsert": bson.M{"channel_id": channelID, "created_at": time.Now().UTC()}},
		opts,
	).Decode(&conv)
	if err == nil {
		return &conv, nil
	}

	// Two concurrent upserts for a new channel: one wins the unique index,
	// the loser reads the winner's document.
	if mongo.IsDuplicateKeyError(err) {
		return s.GetByChannelID(ctx, channelID)
	}
	return nil, fmt.Errorf("get or create conversation %q: %w", channelID, err)
}

// GetByChannelID finds an existing conversation.
func (s *ConversationsStore) GetByChannelID(ctx context.Context, channelID string) (*Conversation, error) {
	var conv Conversation
	err := s.coll.FindOne(ctx, bson.M{"channel_id": normalize.ChannelID(channelID)}).Decode(&conv)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return &conv, nil
}

// DeleteConversation removes a conversation and every message in it.
// Messages go first so a partial failure never leaves orphans.
func (s *ConversationsStore) DeleteConversation(ctx context.Context, channelID string) error {
	conv, err := s.GetByChannelID(ctx, channelID)
	if err != nil {
		return err
	}

	if _, err := s.messages.DeleteMany(ctx, bson.M{"conversation_id": conv.ID}); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := s.coll.DeleteOne(ctx, bson.M{"_id": conv.ID}); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}
