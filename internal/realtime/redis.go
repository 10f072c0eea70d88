package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis layout:
// rt:{path}     STRING<json value>   - current value at path
// rt:changes    PUBSUB<changeMsg>    - every write, for watchers
const (
	keyPrefix     = "rt:"
	changeChannel = "rt:changes"
)

type changeMsg struct {
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value"`
}

// RedisStore is a Store backed by Redis strings and pub/sub.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore returns a Store using client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Set(ctx context.Context, path string, v Value) error {
	raw, err := encodeValue(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	msg, err := json.Marshal(changeMsg{Path: path, Value: raw})
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, keyPrefix+path, raw, 0)
	pipe.Publish(ctx, changeChannel, msg)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, path string) (Value, bool, error) {
	raw, err := s.client.Get(ctx, keyPrefix+path).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	v, err := decodeValue(raw)
	if err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", path, err)
	}
	return v, true, nil
}

// Watch subscribes before returning, so writes made after Watch returns
// are not missed.
func (s *RedisStore) Watch(ctx context.Context, path string) (<-chan Event, error) {
	pubsub := s.client.Subscribe(ctx, changeChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				var cm changeMsg
				if err := json.Unmarshal([]byte(m.Payload), &cm); err != nil || !covers(path, cm.Path) {
					continue
				}
				v, err := decodeValue(cm.Value)
				if err != nil {
					continue
				}
				select {
				case out <- Event{Path: cm.Path, Value: v}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
