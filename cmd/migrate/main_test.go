package main

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"

	"github.com/BakhodirAbdullayev/orbital/internal/config"
	"github.com/BakhodirAbdullayev/orbital/internal/data"
	"github.com/BakhodirAbdullayev/orbital/internal/db"
)

func TestRunRequiresMongoURI(t *testing.T) {
	cfg := &config.Config{}
	cfg.Mongo.Database = "chat_db"

	err := run(cfg, zap.NewNop())
	if err == nil || !strings.Contains(err.Error(), "mongo.uri") {
		t.Fatalf("run without a URI = %v, want a mongo.uri error", err)
	}
}

func TestRunBackfillsMessageType(t *testing.T) {
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("MONGODB_URI not set; skipping integration test")
	}
	const database = "chat_db_migrate_test"
	ctx := context.Background()

	c, err := db.New(ctx, uri, database)
	if err != nil {
		t.Fatalf("db.New failed: %v", err)
	}
	defer func() { _ = c.Close(context.Background()) }()
	_ = c.ChatsCollection().Drop(ctx)
	_ = c.MessagesCollection().Drop(ctx)

	chats := data.NewChatsStore(c.ChatsCollection())
	msgs := data.NewMessagesStore(c.MessagesCollection())
	chat, err := chats.CreateChat(ctx, &data.Chat{Members: []string{"u1", "u2"}})
	if err != nil {
		t.Fatalf("CreateChat failed: %v", err)
	}
	for i, typ := range []string{"", "", "image"} {
		_, err := msgs.SaveMessage(ctx, &data.Message{
			ChatID:     chat.ID,
			SenderID:   "u1",
			ReceiverID: "u2",
			Content:    "m",
			Type:       typ,
			SentAt:     time.Now().UTC().Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("SaveMessage failed: %v", err)
		}
	}

	cfg := &config.Config{}
	cfg.Mongo.URI = uri
	cfg.Mongo.Database = database
	for i := 0; i < 2; i++ {
		if err := run(cfg, zap.NewNop()); err != nil {
			t.Fatalf("run #%d: %v", i+1, err)
		}
	}

	left, err := msgs.UntypedIDs(ctx, chat.ID)
	if err != nil {
		t.Fatalf("UntypedIDs failed: %v", err)
	}
	if len(left) != 0 {
		t.Fatalf("%d messages still untyped", len(left))
	}
	n, err := c.MessagesCollection().CountDocuments(ctx, bson.M{"type": "image"})
	if err != nil {
		t.Fatalf("CountDocuments failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("image messages = %d, want 1 untouched", n)
	}
}
