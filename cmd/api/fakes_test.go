package main

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/BakhodirAbdullayev/orbital/internal/data"
	"github.com/BakhodirAbdullayev/orbital/internal/live"
)

// fakeDB is an in-memory stand-in for the three Mongo stores and their
// change streams. Every write signals every open watcher.
type fakeDB struct {
	mu    sync.Mutex
	users map[bson.ObjectID]*data.UserProfile
	chats map[bson.ObjectID]*data.Chat
	msgs  []*data.Message
	subs  []chan struct{}
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		users: map[bson.ObjectID]*data.UserProfile{},
		chats: map[bson.ObjectID]*data.Chat{},
	}
}

// notify must be called with mu held.
func (f *fakeDB) notify() {
	for _, ch := range f.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (f *fakeDB) watch() (live.Changes, error) {
	ch := make(chan struct{}, 1)
	f.mu.Lock()
	f.subs = append(f.subs, ch)
	f.mu.Unlock()
	return live.NewSignal(ch), nil
}

func (f *fakeDB) UsersChanged(context.Context) (live.Changes, error) { return f.watch() }

func (f *fakeDB) ChatsChanged(context.Context, string) (live.Changes, error) { return f.watch() }

func (f *fakeDB) MessagesChanged(context.Context, bson.ObjectID) (live.Changes, error) {
	return f.watch()
}

func (f *fakeDB) CreateUser(_ context.Context, u *data.UserProfile) (*data.UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.users {
		if u.Email != "" && existing.Email == u.Email {
			return nil, fmt.Errorf("user: %w", data.ErrDuplicate)
		}
	}
	u.ID = bson.NewObjectID()
	cp := *u
	f.users[u.ID] = &cp
	f.notify()
	return u, nil
}

func (f *fakeDB) findUser(match func(*data.UserProfile) bool) (*data.UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("user: %w", data.ErrNotFound)
}

func (f *fakeDB) GetUserByEmail(_ context.Context, email string) (*data.UserProfile, error) {
	return f.findUser(func(u *data.UserProfile) bool { return u.Email == email })
}

func (f *fakeDB) GetUserByID(_ context.Context, uid string) (*data.UserProfile, error) {
	return f.findUser(func(u *data.UserProfile) bool { return u.UID() == uid })
}

func (f *fakeDB) GetUserByProvider(_ context.Context, provider, subject string) (*data.UserProfile, error) {
	return f.findUser(func(u *data.UserProfile) bool {
		return u.Provider == provider && u.ProviderSubject == subject
	})
}

func (f *fakeDB) UserExists(ctx context.Context, uid string) (bool, error) {
	_, err := f.GetUserByID(ctx, uid)
	return err == nil, nil
}

func (f *fakeDB) SetPresence(_ context.Context, uid string, online bool, at time.Time) error {
	id, err := bson.ObjectIDFromHex(uid)
	if err != nil {
		return data.ErrNotFound
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return data.ErrNotFound
	}
	u.Online, u.LastOnline = online, at
	f.notify()
	return nil
}

func (f *fakeDB) ListExcept(_ context.Context, uid string) ([]*data.UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*data.UserProfile{}
	for _, u := range f.users {
		if u.UID() != uid {
			cp := *u
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *data.UserProfile) int {
		return strings.Compare(a.DisplayName, b.DisplayName)
	})
	return out, nil
}

func (f *fakeDB) setDisabled(uid string) {
	id, _ := bson.ObjectIDFromHex(uid)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[id].Disabled = true
}

func (f *fakeDB) FindByMembers(_ context.Context, a, b string) (*data.Chat, error) {
	key := data.MemberKey(a, b)
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.chats {
		if c.MemberKey == key {
			cp := *c
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("chat: %w", data.ErrNotFound)
}

func (f *fakeDB) CreateChat(_ context.Context, chat *data.Chat) (*data.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	chat.Members = data.SortedMembers(chat.Members[0], chat.Members[1])
	chat.MemberKey = data.MemberKey(chat.Members[0], chat.Members[1])
	for _, c := range f.chats {
		if c.MemberKey == chat.MemberKey {
			return nil, fmt.Errorf("chat %s: %w", chat.MemberKey, data.ErrDuplicate)
		}
	}
	chat.ID = bson.NewObjectID()
	cp := *chat
	f.chats[chat.ID] = &cp
	f.notify()
	return chat, nil
}

func (f *fakeDB) GetChat(_ context.Context, chatID string) (*data.Chat, error) {
	id, err := bson.ObjectIDFromHex(chatID)
	if err != nil {
		return nil, fmt.Errorf("chat: %w", data.ErrNotFound)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.chats[id]
	if !ok {
		return nil, fmt.Errorf("chat: %w", data.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (f *fakeDB) UpdateSummary(_ context.Context, chatID bson.ObjectID, text string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.chats[chatID]
	if !ok {
		return fmt.Errorf("chat: %w", data.ErrNotFound)
	}
	c.LastMessage, c.LastMessageAt = text, &at
	f.notify()
	return nil
}

func (f *fakeDB) ListForMember(_ context.Context, uid string, limit int64) ([]*data.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*data.Chat{}
	for _, c := range f.chats {
		if c.HasMember(uid) {
			cp := *c
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *data.Chat) int {
		var ta, tb time.Time
		if a.LastMessageAt != nil {
			ta = *a.LastMessageAt
		}
		if b.LastMessageAt != nil {
			tb = *b.LastMessageAt
		}
		return tb.Compare(ta)
	})
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeDB) SaveMessage(_ context.Context, m *data.Message) (*data.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m.ID = bson.NewObjectID()
	cp := *m
	f.msgs = append(f.msgs, &cp)
	f.notify()
	return m, nil
}

func (f *fakeDB) ListForChat(_ context.Context, chatID bson.ObjectID, limit int64) ([]*data.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*data.Message{}
	for _, m := range f.msgs {
		if m.ChatID == chatID {
			cp := *m
			out = append(out, &cp)
		}
	}
	if limit > 0 && int64(len(out)) > limit {
		out = out[int64(len(out))-limit:]
	}
	return out, nil
}
