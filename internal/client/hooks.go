package client

import (
	"context"

	"google.golang.org/grpc"

	"github.com/BakhodirAbdullayev/orbital/internal/data"
	"github.com/BakhodirAbdullayev/orbital/internal/live"
	"github.com/BakhodirAbdullayev/orbital/internal/rpc"
)

// watchFeed adapts a server-streaming Watch call to a live.Feed.
func watchFeed[S, T any](ctx context.Context, open func(context.Context) (grpc.ServerStreamingClient[S], error), pick func(*S) T) *live.Feed[T] {
	return live.NewFeed(ctx, func(ctx context.Context) (func() (T, error), error) {
		stream, err := open(ctx)
		if err != nil {
			return nil, err
		}
		return func() (T, error) {
			snap, err := stream.Recv()
			if err != nil {
				var zero T
				return zero, err
			}
			return pick(snap), nil
		}, nil
	})
}

// Chats follows the signed-in user's chats, most recent activity first.
// The caller must Close the feed.
func (c *Client) Chats(ctx context.Context) *live.Feed[[]*data.Chat] {
	return watchFeed(ctx,
		func(ctx context.Context) (grpc.ServerStreamingClient[rpc.ChatsSnapshot], error) {
			return c.api.WatchChats(ctx, &rpc.WatchChatsRequest{})
		},
		func(s *rpc.ChatsSnapshot) []*data.Chat { return s.Chats })
}

// Messages follows one chat's messages, oldest first. Open a new feed when
// the selected chat changes.
func (c *Client) Messages(ctx context.Context, chatID string) *live.Feed[[]*data.Message] {
	return watchFeed(ctx,
		func(ctx context.Context) (grpc.ServerStreamingClient[rpc.MessagesSnapshot], error) {
			return c.api.WatchMessages(ctx, &rpc.WatchMessagesRequest{ChatID: chatID})
		},
		func(s *rpc.MessagesSnapshot) []*data.Message { return s.Messages })
}

// Users follows every profile except the signed-in user's.
func (c *Client) Users(ctx context.Context) *live.Feed[[]*data.UserProfile] {
	return watchFeed(ctx,
		func(ctx context.Context) (grpc.ServerStreamingClient[rpc.UsersSnapshot], error) {
			return c.api.WatchUsers(ctx, &rpc.WatchUsersRequest{})
		},
		func(s *rpc.UsersSnapshot) []*data.UserProfile { return s.Users })
}

// Status follows the realtime presence of uid.
func (c *Client) Status(ctx context.Context, uid string) *live.Feed[rpc.StatusSnapshot] {
	return watchFeed(ctx,
		func(ctx context.Context) (grpc.ServerStreamingClient[rpc.StatusSnapshot], error) {
			return c.api.WatchStatus(ctx, &rpc.WatchStatusRequest{UID: uid})
		},
		func(s *rpc.StatusSnapshot) rpc.StatusSnapshot { return *s })
}
