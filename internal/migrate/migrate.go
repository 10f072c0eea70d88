// Package migrate holds one-off data migrations.
package migrate

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"

	"github.com/BakhodirAbdullayev/orbital/internal/data"
)

// BatchSize is the most writes sent in one bulk request.
const BatchSize = 499

// ChatLister lists every chat id.
type ChatLister interface {
	AllIDs(ctx context.Context) ([]bson.ObjectID, error)
}

// MessageTyper finds and types untyped messages.
type MessageTyper interface {
	UntypedIDs(ctx context.Context, chatID bson.ObjectID) ([]bson.ObjectID, error)
	SetType(ctx context.Context, ids []bson.ObjectID, typ string) (int64, error)
}

// Stats counts what a backfill changed.
type Stats struct {
	Chats    int
	Messages int64
	Batches  int
}

// BackfillMessageType sets type "text" on every message that has none,
// chat by chat. Running it again changes nothing.
func BackfillMessageType(ctx context.Context, chats ChatLister, msgs MessageTyper, log *zap.Logger) (Stats, error) {
	var st Stats

	ids, err := chats.AllIDs(ctx)
	if err != nil {
		return st, fmt.Errorf("list chats: %w", err)
	}
	if len(ids) == 0 {
		log.Info("no chats found to migrate")
		return st, nil
	}

	for _, chatID := range ids {
		untyped, err := msgs.UntypedIDs(ctx, chatID)
		if err != nil {
			return st, fmt.Errorf("chat %s: scan messages: %w", chatID.Hex(), err)
		}

		var updated int64
		for start := 0; start < len(untyped); start += BatchSize {
			end := min(start+BatchSize, len(untyped))
			n, err := msgs.SetType(ctx, untyped[start:end], data.MessageTypeText)
			if err != nil {
				return st, fmt.Errorf("chat %s: commit batch: %w", chatID.Hex(), err)
			}
			st.Batches++
			updated += n
			log.Debug("committed batch",
				zap.String("chat_id", chatID.Hex()),
				zap.Int("size", end-start),
				zap.Int64("updated", n))
		}

		if updated > 0 {
			st.Chats++
			st.Messages += updated
			log.Info("chat migrated", zap.String("chat_id", chatID.Hex()), zap.Int64("messages", updated))
		}
	}

	log.Info("migration complete", zap.Int("chats", st.Chats), zap.Int64("messages", st.Messages))
	return st, nil
}
