package data

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MessagesStore provides message database operations.
type MessagesStore struct {
	coll *mongo.Collection
}

// NewMessagesStore returns a MessagesStore using given collection.
func NewMessagesStore(coll *mongo.Collection) *MessagesStore {
	return &MessagesStore{coll: coll}
}

// SaveMessage inserts a message document and returns the saved record.
func (m *MessagesStore) SaveMessage(ctx context.Context, msg *Message) (*Message, error) {
	result, err := m.coll.InsertOne(ctx, msg)
	if err != nil {
		return nil, err
	}
	msg.ID = result.InsertedID.(bson.ObjectID)
	return msg, nil
}

// ListForChat returns the most recent limit messages of a chat, ordered
// oldest to newest.
func (m *MessagesStore) ListForChat(ctx context.Context, chatID bson.ObjectID, limit int64) ([]*Message, error) {
	// newest first so the limit keeps the tail of the conversation
	opts := options.Find().
		SetSort(bson.D{{Key: "sent_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(limit)

	cursor, err := m.coll.Find(ctx, bson.M{"chat_id": chatID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	messages := []*Message{}
	if err = cursor.All(ctx, &messages); err != nil {
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// WatchChat opens a change stream over the messages of one chat.
func (m *MessagesStore) WatchChat(ctx context.Context, chatID bson.ObjectID) (*mongo.ChangeStream, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{{Key: "fullDocument.chat_id", Value: chatID}}}},
	}
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	return m.coll.Watch(ctx, pipeline, opts)
}

// UntypedIDs returns the ids of the messages of a chat whose type is
// missing or null.
func (m *MessagesStore) UntypedIDs(ctx context.Context, chatID bson.ObjectID) ([]bson.ObjectID, error) {
	opts := options.Find().SetProjection(bson.M{"_id": 1}).SetSort(bson.M{"_id": 1})
	// {type: null} matches both a null and an absent field
	cursor, err := m.coll.Find(ctx, bson.M{"chat_id": chatID, "type": nil}, opts)
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

// SetType sets typ on the given messages in one unordered bulk write and
// returns how many were modified. Messages that already carry a type are
// left alone.
func (m *MessagesStore) SetType(ctx context.Context, ids []bson.ObjectID, typ string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	models := make([]mongo.WriteModel, 0, len(ids))
	for _, id := range ids {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": id, "type": nil}).
			SetUpdate(bson.M{"$set": bson.M{"type": typ}}))
	}
	res, err := m.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}
