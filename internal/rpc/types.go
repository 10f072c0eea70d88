package rpc

import (
	"time"

	"github.com/BakhodirAbdullayev/orbital/internal/data"
	"github.com/BakhodirAbdullayev/orbital/internal/realtime"
)

type SignUpRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

// GetEmail keys rate limiting by account.
func (r *SignUpRequest) GetEmail() string { return r.Email }

type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r *SignInRequest) GetEmail() string { return r.Email }

// ProviderSignInRequest carries an ID token issued by a federated provider.
type ProviderSignInRequest struct {
	Provider string `json:"provider"`
	IDToken  string `json:"idToken"`
}

// AuthResponse is returned by every sign-in method.
type AuthResponse struct {
	Token     string            `json:"token"`
	ExpiresAt time.Time         `json:"expiresAt"`
	User      *data.UserProfile `json:"user"`
	Created   bool              `json:"created,omitempty"`
}

// PresenceRequest sets the caller's online flag; the server stamps the time.
type PresenceRequest struct {
	Online bool `json:"online"`
}

type CreateChatRequest struct {
	PeerID string `json:"peerId"`
}

type CreateChatResponse struct {
	Chat    *data.Chat `json:"chat"`
	Created bool       `json:"created"`
}

// SendMessageRequest names either an existing chat or a receiver.
type SendMessageRequest struct {
	ChatID     string `json:"chatId,omitempty"`
	ReceiverID string `json:"receiverId,omitempty"`
	Content    string `json:"content"`
}

type SendMessageResponse struct {
	Chat        *data.Chat    `json:"chat"`
	Message     *data.Message `json:"message"`
	CreatedChat bool          `json:"createdChat"`
}

type WatchChatsRequest struct {
	Limit int64 `json:"limit,omitempty"`
}

type ChatsSnapshot struct {
	Chats []*data.Chat `json:"chats"`
}

type WatchMessagesRequest struct {
	ChatID string `json:"chatId"`
	Limit  int64  `json:"limit,omitempty"`
}

type MessagesSnapshot struct {
	Messages []*data.Message `json:"messages"`
}

type WatchUsersRequest struct{}

type UsersSnapshot struct {
	Users []*data.UserProfile `json:"users"`
}

type WatchStatusRequest struct {
	UID string `json:"uid"`
}

type StatusSnapshot struct {
	UID    string          `json:"uid"`
	Exists bool            `json:"exists"`
	Status realtime.Status `json:"status"`
}

// Realtime operations sent on Connect.
const (
	OpSet                = "set"
	OpOnDisconnectSet    = "onDisconnectSet"
	OpCancelOnDisconnect = "cancelOnDisconnect"
)

// RealtimeRequest is one operation on the realtime connection. Seq is
// echoed in the matching ack or error.
type RealtimeRequest struct {
	Seq   uint64         `json:"seq"`
	Op    string         `json:"op"`
	Path  string         `json:"path"`
	Value realtime.Value `json:"value,omitempty"`
}

// Realtime event kinds sent on Connect.
const (
	EventConnected = "connected"
	EventAck       = "ack"
	EventError     = "error"
	EventRevoked   = "revoked"
)

type RealtimeEvent struct {
	Kind   string `json:"kind"`
	Seq    uint64 `json:"seq,omitempty"`
	ConnID string `json:"connId,omitempty"`
	Error  string `json:"error,omitempty"`
}

// UploadChunk is one piece of an image upload. Filename, ContentType and
// Size are read from the first chunk.
type UploadChunk struct {
	Filename    string `json:"filename,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Size        int64  `json:"size,omitempty"`
	Data        []byte `json:"data"`
}

type UploadResult struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Key  string `json:"key"`
}
