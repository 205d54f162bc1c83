package data

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MessagesStore provides message database operations.
type MessagesStore struct {
	coll *mongo.Collection // "messages"
	ids  sequence
}

// NewMessagesStore returns a MessagesStore using given collections.
func NewMessagesStore(messages, counters *mongo.Collection) *MessagesStore {
	return &MessagesStore{
		coll: messages,
		ids:  sequence{coll: counters, name: "messages"},
	}
}

// SaveMessage inserts a message and returns the saved record. The timestamp
// is assigned here, once.
func (m *MessagesStore) SaveMessage(ctx context.Context, conversationID bson.ObjectID, senderID *int64, content string) (*Message, error) {
	id, err := m.ids.next(ctx)
	if err != nil {
		return nil, err
	}

	msg := &Message{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		// Mongo stores milliseconds; truncate so the broadcast value matches
		// what a later read returns.
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
	}

	if _, err := m.coll.InsertOne(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// ListByConversation returns every message of a conversation, oldest first.
func (m *MessagesStore) ListByConversation(ctx context.Context, conversationID bson.ObjectID) ([]*Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})

	cursor, err := m.coll.Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	messages := []*Message{}
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}
