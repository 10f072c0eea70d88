// Package db manages MongoDB connections and collections.
package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// Client wraps mongo.Client and exposes collections.
type Client struct {
	// client is the underlying MongoDB connection (safe for concurrent use)
	client *mongo.Client

	// db holds the "users", "chats" and "messages" collections
	db *mongo.Database
}

// New connects to MongoDB and returns a Client for the named database.
// Live queries use change streams, so the server must be a replica set.
func New(ctx context.Context, mongoURI, database string) (*Client, error) {
	opts := options.Client().
		ApplyURI(mongoURI).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	if database == "" {
		database = "chat_db"
	}

	return &Client{
		client: client,
		db:     client.Database(database),
	}, nil
}

// UsersCollection returns the users collection.
func (c *Client) UsersCollection() *mongo.Collection {
	return c.db.Collection("users")
}

// ChatsCollection returns the chats collection.
func (c *Client) ChatsCollection() *mongo.Collection {
	return c.db.Collection("chats")
}

// MessagesCollection returns the messages collection. Every message carries
// the id of the chat it belongs to.
func (c *Client) MessagesCollection() *mongo.Collection {
	return c.db.Collection("messages")
}

// Close disconnects from MongoDB.
func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// CreateIndexes creates the indexes the stores and live queries rely on.
func (c *Client) CreateIndexes(ctx context.Context) error {
	usersIndexes := []mongo.IndexModel{
		{
			// one account per email; provider accounts may have none
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true),
		},
		{
			Keys: bson.D{{Key: "provider", Value: 1}, {Key: "provider_subject", Value: 1}},
			Options: options.Index().SetUnique(true).SetPartialFilterExpression(
				bson.D{{Key: "provider_subject", Value: bson.D{{Key: "$exists", Value: true}}}},
			),
		},
		{
			// directory ordering
			Keys: bson.D{{Key: "display_name", Value: 1}},
		},
	}
	if _, err := c.UsersCollection().Indexes().CreateMany(ctx, usersIndexes); err != nil {
		return fmt.Errorf("failed to create users indexes: %w", err)
	}

	chatIndexes := []mongo.IndexModel{
		{
			// at most one chat per member pair
			Keys:    bson.D{{Key: "member_key", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "members", Value: 1}, {Key: "last_message_at", Value: -1}},
		},
	}
	if _, err := c.ChatsCollection().Indexes().CreateMany(ctx, chatIndexes); err != nil {
		return fmt.Errorf("failed to create chat indexes: %w", err)
	}

	messageIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "chat_id", Value: 1}, {Key: "sent_at", Value: 1}},
		},
		{
			// backfill scans for messages without a type
			Keys: bson.D{{Key: "chat_id", Value: 1}, {Key: "type", Value: 1}},
		},
	}
	if _, err := c.MessagesCollection().Indexes().CreateMany(ctx, messageIndexes); err != nil {
		return fmt.Errorf("failed to create message indexes: %w", err)
	}

	return nil
}
