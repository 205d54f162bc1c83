package data

import (
	"context"
	"os"
	"testing"

	"github.com/PaulBabatuyi/channelChat/internal/db"
)

func setupDB(t *testing.T) *db.Client {
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("MONGODB_URI not set; skipping integration test")
	}

	ctx := context.Background()
	c, err := db.New(ctx, uri, "chat_db_test")
	if err != nil {
		t.Fatalf("db.New failed: %v", err)
	}

	// ensure clean collections in case previous runs left data
	_ = c.ProfilesCollection().Drop(ctx)
	_ = c.ConversationsCollection().Drop(ctx)
	_ = c.MessagesCollection().Drop(ctx)
	_ = c.ServersCollection().Drop(ctx)
	_ = c.CountersCollection().Drop(ctx)

	if err := c.CreateIndexes(ctx); err != nil {
		t.Fatalf("CreateIndexes failed: %v", err)
	}

	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}
