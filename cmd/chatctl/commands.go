package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/BakhodirAbdullayev/orbital/internal/chatlist"
	"github.com/BakhodirAbdullayev/orbital/internal/data"
	"github.com/BakhodirAbdullayev/orbital/internal/live"
	"github.com/BakhodirAbdullayev/orbital/internal/normalize"
	"github.com/BakhodirAbdullayev/orbital/internal/rpc"
)

const (
	signOutTimeout = 5 * time.Second
	previewWidth   = 32
	timeLayout     = "Jan 2 15:04"
)

var errFeedClosed = errors.New("subscription ended before the first snapshot")

func signupCmd(fs *pflag.FlagSet) func(context.Context, *app) error {
	name := fs.String("name", "", "display name")
	return func(ctx context.Context, a *app) error {
		user, err := a.c.Session.SignUp(ctx, a.g.email, a.g.password, *name)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "created %s (%s)\n", user.DisplayName, user.UID())
		return nil
	}
}

func meCmd(*pflag.FlagSet) func(context.Context, *app) error {
	return func(ctx context.Context, a *app) error {
		me, err := a.c.API().Me(ctx, &emptypb.Empty{})
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "uid:      %s\nname:     %s\nemail:    %s\nprovider: %s\nsince:    %s\n",
			me.UID(), me.DisplayName, me.Email, me.Provider, me.CreatedAt.Local().Format(timeLayout))
		return nil
	}
}

func chatsCmd(*pflag.FlagSet) func(context.Context, *app) error {
	return func(ctx context.Context, a *app) error {
		chats, users, err := a.loadLists(ctx)
		if err != nil {
			return err
		}
		entries := chatlist.Merge(chats, users, a.c.Session.UID())
		if len(entries) == 0 {
			fmt.Fprintln(a.out, "no conversations yet")
			return nil
		}
		for _, e := range entries {
			fmt.Fprintln(a.out, formatEntry(e))
		}
		return nil
	}
}

func usersCmd(fs *pflag.FlagSet) func(context.Context, *app) error {
	query := fs.StringP("query", "q", "", "text to look for in names and emails")
	return func(ctx context.Context, a *app) error {
		if *query == "" {
			return errors.New("--query is required")
		}
		chats, users, err := a.loadLists(ctx)
		if err != nil {
			return err
		}
		found := chatlist.Directory(users, chats, *query, a.c.Session.UID())
		if len(found) == 0 {
			fmt.Fprintln(a.out, "no users found")
			return nil
		}
		for _, cand := range found {
			line := fmt.Sprintf("%s %-20s %-28s %s", onlineMark(cand.User.Online), cand.User.DisplayName, cand.User.Email, cand.User.UID())
			if cand.Chat != nil {
				line += "  chat " + cand.Chat.ID.Hex()
			}
			fmt.Fprintln(a.out, line)
		}
		return nil
	}
}

func sendCmd(fs *pflag.FlagSet) func(context.Context, *app) error {
	to := fs.String("to", "", "recipient uid or email")
	text := fs.StringP("text", "m", "", "message text")
	return func(ctx context.Context, a *app) error {
		if *to == "" || *text == "" {
			return errors.New("--to and --text are required")
		}
		chats, users, err := a.loadLists(ctx)
		if err != nil {
			return err
		}
		peer, err := resolvePeer(users, *to)
		if err != nil {
			return err
		}
		resp, err := a.c.Composer().Send(ctx, chats, peer.UID(), *text)
		if err != nil {
			return err
		}
		if resp.CreatedChat {
			fmt.Fprintf(a.out, "started chat %s with %s\n", resp.Chat.ID.Hex(), peer.DisplayName)
		}
		fmt.Fprintf(a.out, "sent at %s\n", resp.Message.SentAt.Local().Format(timeLayout))
		return nil
	}
}

func watchCmd(fs *pflag.FlagSet) func(context.Context, *app) error {
	with := fs.String("with", "", "uid or email of the other member")
	return func(ctx context.Context, a *app) error {
		if *with == "" {
			return errors.New("--with is required")
		}
		chats, users, err := a.loadLists(ctx)
		if err != nil {
			return err
		}
		peer, err := resolvePeer(users, *with)
		if err != nil {
			return err
		}
		chat, err := a.c.Composer().Open(ctx, chats, peer.UID())
		if err != nil {
			return err
		}

		stop := a.c.StartPresence(ctx)
		defer stop()

		feed := a.c.Messages(ctx, chat.ID.Hex())
		defer feed.Close()

		names := map[string]string{peer.UID(): peer.DisplayName, a.c.Session.UID(): "me"}
		seen := map[string]bool{}
		return follow(ctx, feed, func(msgs []*data.Message) {
			for _, m := range msgs {
				if seen[m.ID.Hex()] {
					continue
				}
				seen[m.ID.Hex()] = true
				fmt.Fprintf(a.out, "[%s] %s: %s\n", m.SentAt.Local().Format(timeLayout), names[m.SenderID], m.Content)
			}
		})
	}
}

func statusCmd(fs *pflag.FlagSet) func(context.Context, *app) error {
	of := fs.String("of", "", "uid or email of the user to follow")
	return func(ctx context.Context, a *app) error {
		if *of == "" {
			return errors.New("--of is required")
		}
		_, users, err := a.loadLists(ctx)
		if err != nil {
			return err
		}
		peer, err := resolvePeer(users, *of)
		if err != nil {
			return err
		}
		feed := a.c.Status(ctx, peer.UID())
		defer feed.Close()
		return follow(ctx, feed, func(s rpc.StatusSnapshot) {
			switch {
			case !s.Exists:
				fmt.Fprintf(a.out, "%s has never connected\n", peer.DisplayName)
			case s.Status.Online:
				fmt.Fprintf(a.out, "%s is online\n", peer.DisplayName)
			default:
				fmt.Fprintf(a.out, "%s is offline, last seen %s\n", peer.DisplayName, s.Status.LastOnline.Local().Format(timeLayout))
			}
		})
	}
}

func onlineCmd(*pflag.FlagSet) func(context.Context, *app) error {
	return func(ctx context.Context, a *app) error {
		stop := a.c.StartPresence(ctx)
		defer stop()
		fmt.Fprintf(a.out, "online as %s, interrupt to sign out\n", a.c.Session.CurrentUser().DisplayName)
		<-ctx.Done()
		return nil
	}
}

func uploadCmd(fs *pflag.FlagSet) func(context.Context, *app) error {
	path := fs.StringP("file", "f", "", "image to upload")
	quiet := fs.Bool("quiet", false, "do not report progress")
	return func(ctx context.Context, a *app) error {
		if *path == "" {
			return errors.New("--file is required")
		}
		f, err := os.Open(*path)
		if err != nil {
			return err
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			return err
		}

		var progress func(int)
		if !*quiet {
			progress = func(p int) { fmt.Fprintf(os.Stderr, "\ruploading %3d%%", p) }
		}
		res, err := a.c.UploadImage(ctx, f, info.Size(), filepath.Base(*path), progress)
		if progress != nil {
			fmt.Fprintln(os.Stderr)
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, res.URL)
		return nil
	}
}

// loadLists waits for the first snapshot of the chat list and the user
// list.
func (a *app) loadLists(ctx context.Context) ([]*data.Chat, []*data.UserProfile, error) {
	chatsFeed := a.c.Chats(ctx)
	defer chatsFeed.Close()
	usersFeed := a.c.Users(ctx)
	defer usersFeed.Close()

	chats, err := firstSnapshot(ctx, chatsFeed)
	if err != nil {
		return nil, nil, fmt.Errorf("load chats: %w", err)
	}
	users, err := firstSnapshot(ctx, usersFeed)
	if err != nil {
		return nil, nil, fmt.Errorf("load users: %w", err)
	}
	return chats, users, nil
}

// firstSnapshot blocks until f holds its first snapshot.
func firstSnapshot[T any](ctx context.Context, f *live.Feed[T]) (T, error) {
	for {
		items, loading, err := f.Snapshot()
		if err != nil || !loading {
			return items, err
		}
		select {
		case <-ctx.Done():
			return items, ctx.Err()
		case <-f.Updates():
		case <-f.Done():
			if items, loading, err := f.Snapshot(); err != nil || !loading {
				return items, err
			}
			return items, errFeedClosed
		}
	}
}

// follow calls show with every snapshot of f until ctx is done or the
// subscription fails.
func follow[T any](ctx context.Context, f *live.Feed[T], show func(T)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-f.Done():
			_, _, err := f.Snapshot()
			return err
		case <-f.Updates():
			items, loading, err := f.Snapshot()
			if err != nil {
				return err
			}
			if !loading {
				show(items)
			}
		}
	}
}

// resolvePeer finds the user named by a uid or an email address.
func resolvePeer(users []*data.UserProfile, who string) (*data.UserProfile, error) {
	email := normalize.Email(who)
	for _, u := range users {
		if u.UID() == who || (u.Email != "" && u.Email == email) {
			return u, nil
		}
	}
	return nil, fmt.Errorf("no user %q", who)
}

func formatEntry(e chatlist.Entry) string {
	when := "-"
	if e.Chat.LastMessageAt != nil {
		when = e.Chat.LastMessageAt.Local().Format(timeLayout)
	}
	return fmt.Sprintf("%s %-20s %-12s %s", onlineMark(e.Partner.Online), e.Partner.DisplayName, when,
		chatlist.Truncate(e.Chat.LastMessage, previewWidth))
}

func onlineMark(online bool) string {
	if online {
		return "*"
	}
	return " "
}
