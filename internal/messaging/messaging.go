// Package messaging sends messages and opens one-to-one chats.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"

	"github.com/BakhodirAbdullayev/orbital/internal/chatlist"
	"github.com/BakhodirAbdullayev/orbital/internal/data"
)

var (
	ErrUnauthenticated = errors.New("sender is not signed in")
	ErrEmptyMessage    = errors.New("message content is empty")
	ErrSelfChat        = errors.New("cannot chat with yourself")
	ErrUnknownUser     = errors.New("receiver does not exist")
	ErrNotMember       = errors.New("sender is not a member of the chat")
	ErrNoTarget        = errors.New("either a chat id or a receiver id is required")
)

// ChatStore is the subset of data.ChatsStore the service uses.
type ChatStore interface {
	FindByMembers(ctx context.Context, a, b string) (*data.Chat, error)
	CreateChat(ctx context.Context, chat *data.Chat) (*data.Chat, error)
	GetChat(ctx context.Context, chatID string) (*data.Chat, error)
	UpdateSummary(ctx context.Context, chatID bson.ObjectID, text string, at time.Time) error
}

// MessageStore is the subset of data.MessagesStore the service uses.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg *data.Message) (*data.Message, error)
}

// UserStore is the subset of data.UsersStore the service uses.
type UserStore interface {
	UserExists(ctx context.Context, uid string) (bool, error)
}

// Service creates chats and appends messages to them.
type Service struct {
	chats ChatStore
	msgs  MessageStore
	users UserStore
	log   *zap.Logger
	now   func() time.Time
}

// NewService returns a Service over the given stores.
func NewService(chats ChatStore, msgs MessageStore, users UserStore, log *zap.Logger) *Service {
	return &Service{chats: chats, msgs: msgs, users: users, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// StartChat returns the chat between me and peer, creating it if needed.
// created reports whether this call made it. summary, when non-empty,
// becomes the last message of a newly created chat.
func (s *Service) StartChat(ctx context.Context, me, peer, summary string) (chat *data.Chat, created bool, err error) {
	if me == "" {
		return nil, false, ErrUnauthenticated
	}
	if me == peer {
		return nil, false, ErrSelfChat
	}

	chat, err = s.chats.FindByMembers(ctx, me, peer)
	if err == nil {
		return chat, false, nil
	}
	if !errors.Is(err, data.ErrNotFound) {
		return nil, false, fmt.Errorf("find chat: %w", err)
	}

	exists, err := s.users.UserExists(ctx, peer)
	if err != nil {
		return nil, false, fmt.Errorf("check receiver: %w", err)
	}
	if !exists {
		return nil, false, ErrUnknownUser
	}

	now := s.now()
	newChat := &data.Chat{
		Members:   data.SortedMembers(me, peer),
		CreatedAt: now,
	}
	if summary != "" {
		newChat.LastMessage = summary
		newChat.LastMessageAt = &now
	}

	chat, err = s.chats.CreateChat(ctx, newChat)
	if errors.Is(err, data.ErrDuplicate) {
		// lost a concurrent create for the same pair; use the winner
		chat, err = s.chats.FindByMembers(ctx, me, peer)
		if err != nil {
			return nil, false, fmt.Errorf("re-read chat: %w", err)
		}
		return chat, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("create chat: %w", err)
	}
	s.log.Info("chat created", zap.String("chat_id", chat.ID.Hex()), zap.Strings("members", chat.Members))
	return chat, true, nil
}

// SendRequest addresses a message either to an existing chat or to a user.
type SendRequest struct {
	ChatID     string
	ReceiverID string
	Content    string
}

// SendResult is the outcome of Send.
type SendResult struct {
	Chat        *data.Chat
	Message     *data.Message
	CreatedChat bool
}

// Send appends a message from me, creating the chat with the receiver
// first when none exists, then updates the chat summary. The message write
// and the summary update are separate; a failure between them leaves the
// message without a matching summary.
func (s *Service) Send(ctx context.Context, me string, req SendRequest) (*SendResult, error) {
	if me == "" {
		return nil, ErrUnauthenticated
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, ErrEmptyMessage
	}

	var (
		chat     *data.Chat
		receiver string
		created  bool
		err      error
	)
	switch {
	case req.ChatID != "":
		chat, err = s.chats.GetChat(ctx, req.ChatID)
		if err != nil {
			return nil, fmt.Errorf("load chat: %w", err)
		}
		if !chat.HasMember(me) {
			return nil, ErrNotMember
		}
		receiver = chatlist.PartnerID(chat, me)
		if req.ReceiverID != "" && req.ReceiverID != receiver {
			return nil, ErrNotMember
		}
	case req.ReceiverID != "":
		receiver = req.ReceiverID
		chat, created, err = s.StartChat(ctx, me, receiver, content)
		if err != nil {
			return nil, err
		}
	default:
		return nil, ErrNoTarget
	}

	msg, err := s.msgs.SaveMessage(ctx, &data.Message{
		ChatID:     chat.ID,
		SenderID:   me,
		ReceiverID: receiver,
		Content:    content,
		Type:       data.MessageTypeText,
		SentAt:     s.now(),
		Read:       false,
	})
	if err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}

	if err := s.chats.UpdateSummary(ctx, chat.ID, msg.Content, msg.SentAt); err != nil {
		return nil, fmt.Errorf("update chat summary: %w", err)
	}
	chat.LastMessage = msg.Content
	at := msg.SentAt
	chat.LastMessageAt = &at

	return &SendResult{Chat: chat, Message: msg, CreatedChat: created}, nil
}

