package data

import (
	"errors"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

var (
	// ErrNotFound is returned when a lookup matches no document.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique index rejects an insert.
	ErrDuplicate = errors.New("already exists")
)

// MessageTypeText is the type stamped on every text message.
const MessageTypeText = "text"

// UserProfile maps to the users collection. One profile per identity; the
// presence fields are written by sign-in/out and the presence reconciler.
type UserProfile struct {
	ID              bson.ObjectID `bson:"_id,omitempty" json:"uid"`
	Email           string        `bson:"email,omitempty" json:"email,omitempty"`
	DisplayName     string        `bson:"display_name" json:"displayName"`
	PhotoURL        string        `bson:"photo_url,omitempty" json:"photoURL,omitempty"`
	CreatedAt       time.Time     `bson:"created_at" json:"createdAt"`
	LastOnline      time.Time     `bson:"last_online" json:"lastOnline"`
	Online          bool          `bson:"online" json:"online"`
	SearchableName  string        `bson:"searchable_name" json:"searchableName"`
	Provider        string        `bson:"provider" json:"provider"`
	ProviderSubject string        `bson:"provider_subject,omitempty" json:"-"`
	Disabled        bool          `bson:"disabled" json:"disabled,omitempty"`
	PasswordHash    string        `bson:"password_hash,omitempty" json:"-"`
}

// UID returns the hex form of the profile id used in chats and tokens.
func (u *UserProfile) UID() string {
	return u.ID.Hex()
}

// Chat maps to the chats collection. Members always holds exactly two
// distinct user ids in sorted order; MemberKey is derived from them and
// carries a unique index.
type Chat struct {
	ID            bson.ObjectID `bson:"_id,omitempty" json:"id"`
	Members       []string      `bson:"members" json:"members"`
	MemberKey     string        `bson:"member_key" json:"-"`
	LastMessage   string        `bson:"last_message" json:"lastMessage"`
	LastMessageAt *time.Time    `bson:"last_message_at,omitempty" json:"lastMessageTimestamp,omitempty"`
	CreatedAt     time.Time     `bson:"created_at" json:"createdAt"`
}

// HasMember reports whether uid is one of the chat members.
func (c *Chat) HasMember(uid string) bool {
	for _, m := range c.Members {
		if m == uid {
			return true
		}
	}
	return false
}

// Message maps to the messages collection. Messages are append-only.
type Message struct {
	ID         bson.ObjectID `bson:"_id,omitempty" json:"id"`
	ChatID     bson.ObjectID `bson:"chat_id" json:"chatId"`
	SenderID   string        `bson:"sender_id" json:"senderId"`
	ReceiverID string        `bson:"receiver_id" json:"receiverId"`
	Content    string        `bson:"content" json:"content"`
	Type       string        `bson:"type,omitempty" json:"type,omitempty"`
	SentAt     time.Time     `bson:"sent_at" json:"timestamp"`
	Read       bool          `bson:"read" json:"read"`
}

// SortedMembers returns the pair in the order it is stored in.
func SortedMembers(a, b string) []string {
	members := []string{a, b}
	sort.Strings(members)
	return members
}

// MemberKey is the order-independent key of a member pair.
func MemberKey(a, b string) string {
	m := SortedMembers(a, b)
	return m[0] + ":" + m[1]
}
