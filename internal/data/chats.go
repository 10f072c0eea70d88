package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ChatsStore provides chat database operations.
type ChatsStore struct {
	coll *mongo.Collection
}

// NewChatsStore returns a ChatsStore using given collection.
func NewChatsStore(coll *mongo.Collection) *ChatsStore {
	return &ChatsStore{coll: coll}
}

// CreateChat inserts a chat for the two members. Members are stored sorted
// and the member key is derived here; a second chat for the same pair is
// rejected with ErrDuplicate.
func (s *ChatsStore) CreateChat(ctx context.Context, chat *Chat) (*Chat, error) {
	if len(chat.Members) != 2 || chat.Members[0] == chat.Members[1] {
		return nil, fmt.Errorf("chat needs two distinct members, got %v", chat.Members)
	}
	chat.Members = SortedMembers(chat.Members[0], chat.Members[1])
	chat.MemberKey = MemberKey(chat.Members[0], chat.Members[1])
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = time.Now().UTC()
	}

	result, err := s.coll.InsertOne(ctx, chat)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("chat %s: %w", chat.MemberKey, ErrDuplicate)
		}
		return nil, err
	}
	chat.ID = result.InsertedID.(bson.ObjectID)
	return chat, nil
}

func (s *ChatsStore) findOne(ctx context.Context, filter bson.M) (*Chat, error) {
	var chat Chat
	if err := s.coll.FindOne(ctx, filter).Decode(&chat); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("chat: %w", ErrNotFound)
		}
		return nil, err
	}
	return &chat, nil
}

// GetChat finds a chat by the hex form of its id.
func (s *ChatsStore) GetChat(ctx context.Context, chatID string) (*Chat, error) {
	id, err := bson.ObjectIDFromHex(chatID)
	if err != nil {
		return nil, fmt.Errorf("chat %q: %w", chatID, ErrNotFound)
	}
	return s.findOne(ctx, bson.M{"_id": id})
}

// FindByMembers returns the chat between a and b, in either order.
func (s *ChatsStore) FindByMembers(ctx context.Context, a, b string) (*Chat, error) {
	return s.findOne(ctx, bson.M{"member_key": MemberKey(a, b)})
}

// ListForMember returns up to limit chats uid belongs to, most recent
// activity first.
func (s *ChatsStore) ListForMember(ctx context.Context, uid string, limit int64) ([]*Chat, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "last_message_at", Value: -1}, {Key: "_id", Value: 1}}).
		SetLimit(limit)

	cursor, err := s.coll.Find(ctx, bson.M{"members": uid}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	chats := []*Chat{}
	if err := cursor.All(ctx, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

// UpdateSummary sets the denormalized last message text and time.
func (s *ChatsStore) UpdateSummary(ctx context.Context, chatID bson.ObjectID, text string, at time.Time) error {
	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": chatID}, bson.M{
		"$set": bson.M{"last_message": text, "last_message_at": at},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("chat %s: %w", chatID.Hex(), ErrNotFound)
	}
	return nil
}

// AllIDs returns the id of every chat.
func (s *ChatsStore) AllIDs(ctx context.Context) ([]bson.ObjectID, error) {
	opts := options.Find().SetProjection(bson.M{"_id": 1}).SetSort(bson.M{"_id": 1})
	cursor, err := s.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var ids []bson.ObjectID
	for cursor.Next(ctx) {
		var row struct {
			ID bson.ObjectID `bson:"_id"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, err
		}
		ids = append(ids, row.ID)
	}
	return ids, cursor.Err()
}

// WatchMember opens a change stream that fires for changes to chats uid
// belongs to. Deletes carry no document, so every delete fires.
func (s *ChatsStore) WatchMember(ctx context.Context, uid string) (*mongo.ChangeStream, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{
			{Key: "$or", Value: bson.A{
				bson.D{{Key: "fullDocument.members", Value: uid}},
				bson.D{{Key: "operationType", Value: "delete"}},
			}},
		}}},
	}
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	return s.coll.Watch(ctx, pipeline, opts)
}
