// Package db manages MongoDB connections and collections.
package db

import (
	"context" // For connection timeout/cancellation
	"fmt"     // Error formatting
	"time"    // Duration for timeouts

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"          // MongoDB driver
	"go.mongodb.org/mongo-driver/v2/mongo/options"  // MongoDB options
	"go.mongodb.org/mongo-driver/v2/mongo/readpref" // MongoDB read preference
)

// Client wraps mongo.Client and exposes collections.
type Client struct {
	// client is the underlying MongoDB connection (thread-safe, can be reused)
	client *mongo.Client

	// db is the application database; collections are accessed through it
	db *mongo.Database
}

// New connects to MongoDB, verifies the connection and returns a Client bound
// to the named database.
func New(ctx context.Context, mongoURI, database string) (*Client, error) {
	opts := options.Client().
		ApplyURI(mongoURI).                 // Parse connection string
		SetConnectTimeout(10 * time.Second) // Max time to connect

	// Establish connection to MongoDB server
	// This doesn't actually connect yet, just creates the client
	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping with its own deadline so a dead server fails startup quickly.
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	// Fall back to the historical database name
	// Lazy-loaded: actual DB not created until first write
	if database == "" {
		database = "chat_db"
	}

	return &Client{
		client: client,                    // Keep reference to close connection later
		db:     client.Database(database), // Use this to access collections
	}, nil
}

// ProfilesCollection returns the profiles collection.
func (c *Client) ProfilesCollection() *mongo.Collection {
	return c.db.Collection("profiles")
}

// ConversationsCollection returns the conversations collection.
func (c *Client) ConversationsCollection() *mongo.Collection {
	return c.db.Collection("conversations")
}

// MessagesCollection returns the messages collection.
func (c *Client) MessagesCollection() *mongo.Collection {
	return c.db.Collection("messages")
}

// ServersCollection returns the servers collection.
func (c *Client) ServersCollection() *mongo.Collection {
	return c.db.Collection("servers")
}

// CountersCollection returns the collection holding sequence counters used
// to allocate integer ids.
func (c *Client) CountersCollection() *mongo.Collection {
	return c.db.Collection("counters")
}

// Ping reports whether the primary is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx, readpref.Primary())
}

// Close disconnects from MongoDB.
func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// CreateIndexes creates the indexes the stores rely on. The unique indexes on
// profiles.email and conversations.channel_id are what enforce those
// invariants under concurrent writers.
func (c *Client) CreateIndexes(ctx context.Context) error {
	// ===== PROFILES =====
	// Unique email: the consumer and direct provisioning both insert here.
	_, err := c.ProfilesCollection().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create profiles index: %w", err)
	}

	// ===== CONVERSATIONS =====
	_, err = c.ConversationsCollection().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "channel_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create conversations index: %w", err)
	}

	// ===== MESSAGES =====
	messageIndexes := []mongo.IndexModel{
		{
			// Listing a conversation in id order.
			Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "_id", Value: 1}},
		},
		{
			// Nulling the sender when a profile is deleted.
			Keys: bson.D{{Key: "sender_id", Value: 1}},
		},
	}
	_, err = c.MessagesCollection().Indexes().CreateMany(ctx, messageIndexes)
	if err != nil {
		return fmt.Errorf("failed to create message indexes: %w", err)
	}

	// ===== SERVERS =====
	_, err = c.ServersCollection().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "category", Value: 1}}},
		{Keys: bson.D{{Key: "member_ids", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create server indexes: %w", err)
	}

	return nil
}
