// Package chatlist derives the sidebar lists from loaded chats and users:
// the conversation list, the user search results and the lookup that keeps
// a second chat with the same person from being created.
package chatlist

import (
	"slices"
	"strings"
	"time"

	"github.com/BakhodirAbdullayev/orbital/internal/data"
)

// Entry is a chat paired with the profile of the other member.
type Entry struct {
	Chat    *data.Chat
	Partner *data.UserProfile
}

// Candidate is a search result with the chat already held with that user,
// if one exists.
type Candidate struct {
	User *data.UserProfile
	Chat *data.Chat
}

// PartnerID returns the member of chat that is not me, or "" if there is
// none.
func PartnerID(chat *data.Chat, me string) string {
	for _, m := range chat.Members {
		if m != me {
			return m
		}
	}
	return ""
}

func activity(c *data.Chat) time.Time {
	if c.LastMessageAt == nil {
		return time.Unix(0, 0)
	}
	return *c.LastMessageAt
}

// Merge pairs every chat with its partner's profile, dropping chats whose
// partner is not in users, and orders the result by last activity, newest
// first. Chats without a last message sort as the epoch. Ties keep input
// order.
func Merge(chats []*data.Chat, users []*data.UserProfile, me string) []Entry {
	byID := make(map[string]*data.UserProfile, len(users))
	for _, u := range users {
		byID[u.UID()] = u
	}

	entries := make([]Entry, 0, len(chats))
	for _, c := range chats {
		p, ok := byID[PartnerID(c, me)]
		if !ok {
			continue
		}
		entries = append(entries, Entry{Chat: c, Partner: p})
	}

	slices.SortStableFunc(entries, func(a, b Entry) int {
		return activity(b.Chat).Compare(activity(a.Chat))
	})
	return entries
}

// FilterUsers returns the users other than me whose display name or email
// contains query, ignoring case, in input order. An empty query matches
// nobody.
func FilterUsers(users []*data.UserProfile, query, me string) []*data.UserProfile {
	if query == "" {
		return nil
	}
	q := strings.ToLower(query)

	var out []*data.UserProfile
	for _, u := range users {
		if u.UID() == me {
			continue
		}
		if strings.Contains(strings.ToLower(u.DisplayName), q) ||
			strings.Contains(strings.ToLower(u.Email), q) {
			out = append(out, u)
		}
	}
	return out
}

// FindChatWith returns the loaded chat whose members are exactly me and
// other, or nil.
func FindChatWith(chats []*data.Chat, me, other string) *data.Chat {
	for _, c := range chats {
		if len(c.Members) == 2 && c.HasMember(me) && c.HasMember(other) && me != other {
			return c
		}
	}
	return nil
}

// Directory runs FilterUsers and attaches the existing chat with each
// match, so selecting a user re-opens the conversation.
func Directory(users []*data.UserProfile, chats []*data.Chat, query, me string) []Candidate {
	matches := FilterUsers(users, query, me)
	out := make([]Candidate, 0, len(matches))
	for _, u := range matches {
		out = append(out, Candidate{User: u, Chat: FindChatWith(chats, me, u.UID())})
	}
	return out
}

// Truncate shortens text to at most n runes, marking the cut with "...".
func Truncate(text string, n int) string {
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
