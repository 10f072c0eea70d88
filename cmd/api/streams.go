package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/BakhodirAbdullayev/orbital/internal/data"
	"github.com/BakhodirAbdullayev/orbital/internal/live"
	"github.com/BakhodirAbdullayev/orbital/internal/realtime"
	"github.com/BakhodirAbdullayev/orbital/internal/rpc"
	"github.com/BakhodirAbdullayev/orbital/internal/storage"
)

// defaultChatLimit caps the chat list snapshot.
const defaultChatLimit = 50

var errUploadTooLarge = errors.New("image exceeds the upload limit")

// WatchChats streams the caller's chats, most recent activity first, each
// time the list changes.
func (s *Server) WatchChats(req *rpc.WatchChatsRequest, stream grpc.ServerStreamingServer[rpc.ChatsSnapshot]) error {
	ctx, cancel := s.streamContext(stream.Context())
	defer cancel()
	claims, ok := getClaimsFromContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing auth claims")
	}

	limit := req.Limit
	if limit <= 0 || limit > defaultChatLimit {
		limit = defaultChatLimit
	}

	changes, err := s.changes.ChatsChanged(ctx, claims.UserID)
	if err != nil {
		return status.Errorf(codes.Internal, "failed to watch chats: %v", err)
	}
	err = live.Watch(ctx,
		func(ctx context.Context) ([]*data.Chat, error) {
			return s.chats.ListForMember(ctx, claims.UserID, limit)
		},
		changes,
		func(chats []*data.Chat) error {
			return stream.Send(&rpc.ChatsSnapshot{Chats: chats})
		})
	return s.watchStatus("chats", err)
}

// WatchMessages streams the messages of one chat, oldest first. Only chat
// members may watch it.
func (s *Server) WatchMessages(req *rpc.WatchMessagesRequest, stream grpc.ServerStreamingServer[rpc.MessagesSnapshot]) error {
	ctx, cancel := s.streamContext(stream.Context())
	defer cancel()
	claims, ok := getClaimsFromContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing auth claims")
	}

	chat, err := s.chats.GetChat(ctx, req.ChatID)
	if errors.Is(err, data.ErrNotFound) {
		return status.Error(codes.NotFound, "chat not found")
	}
	if err != nil {
		return status.Errorf(codes.Internal, "failed to load chat: %v", err)
	}
	if !chat.HasMember(claims.UserID) {
		return status.Error(codes.PermissionDenied, "not a member of this chat")
	}

	limit := req.Limit
	if limit < 0 {
		limit = 0
	}

	changes, err := s.changes.MessagesChanged(ctx, chat.ID)
	if err != nil {
		return status.Errorf(codes.Internal, "failed to watch messages: %v", err)
	}
	err = live.Watch(ctx,
		func(ctx context.Context) ([]*data.Message, error) {
			return s.msgs.ListForChat(ctx, chat.ID, limit)
		},
		changes,
		func(msgs []*data.Message) error {
			return stream.Send(&rpc.MessagesSnapshot{Messages: msgs})
		})
	return s.watchStatus("messages", err)
}

// WatchUsers streams every profile except the caller's, by display name.
func (s *Server) WatchUsers(_ *rpc.WatchUsersRequest, stream grpc.ServerStreamingServer[rpc.UsersSnapshot]) error {
	ctx, cancel := s.streamContext(stream.Context())
	defer cancel()
	claims, ok := getClaimsFromContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing auth claims")
	}

	changes, err := s.changes.UsersChanged(ctx)
	if err != nil {
		return status.Errorf(codes.Internal, "failed to watch users: %v", err)
	}
	err = live.Watch(ctx,
		func(ctx context.Context) ([]*data.UserProfile, error) {
			return s.users.ListExcept(ctx, claims.UserID)
		},
		changes,
		func(users []*data.UserProfile) error {
			return stream.Send(&rpc.UsersSnapshot{Users: users})
		})
	return s.watchStatus("users", err)
}

// WatchStatus streams the realtime presence record of one user.
func (s *Server) WatchStatus(req *rpc.WatchStatusRequest, stream grpc.ServerStreamingServer[rpc.StatusSnapshot]) error {
	ctx, cancel := s.streamContext(stream.Context())
	defer cancel()
	if _, ok := getClaimsFromContext(ctx); !ok {
		return status.Error(codes.Unauthenticated, "missing auth claims")
	}
	if req.UID == "" {
		return status.Error(codes.InvalidArgument, "uid is required")
	}

	store := s.realtime.Store()
	statusPath := realtime.StatusPath(req.UID)

	// subscribe before the first read so no write falls between them
	events, err := store.Watch(ctx, statusPath)
	if err != nil {
		return status.Errorf(codes.Internal, "failed to watch status: %v", err)
	}
	err = live.Watch(ctx,
		func(ctx context.Context) (*rpc.StatusSnapshot, error) {
			snap := &rpc.StatusSnapshot{UID: req.UID}
			v, ok, err := store.Get(ctx, statusPath)
			if err != nil || !ok {
				return snap, err
			}
			st, err := realtime.ParseStatus(v)
			if err != nil {
				return nil, err
			}
			snap.Exists, snap.Status = true, st
			return snap, nil
		},
		live.NewSignal(coalesce(events)),
		func(snap *rpc.StatusSnapshot) error {
			return stream.Send(snap)
		})
	return s.watchStatus("status", err)
}

// coalesce turns store events into change signals, dropping bursts the
// watcher has not caught up with.
func coalesce(events <-chan realtime.Event) <-chan struct{} {
	sig := make(chan struct{}, 1)
	go func() {
		defer close(sig)
		for range events {
			select {
			case sig <- struct{}{}:
			default:
			}
		}
	}()
	return sig
}

// watchStatus maps the end of a watch to the status the client sees. A
// watch cut short by Shutdown ends Unavailable so the client reconnects.
func (s *Server) watchStatus(what string, err error) error {
	if s.shuttingDown() {
		return status.Error(codes.Unavailable, "server is shutting down")
	}
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Errorf(codes.Internal, "watch %s: %v", what, err)
}

// eventSender serialises sends on a realtime stream; the handler and the
// hub both write to it.
type eventSender struct {
	mu     sync.Mutex
	stream grpc.BidiStreamingServer[rpc.RealtimeRequest, rpc.RealtimeEvent]
	closed bool
}

func (e *eventSender) Send(ev *rpc.RealtimeEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return io.ErrClosedPipe
	}
	return e.stream.Send(ev)
}

// close stops further sends; the stream must not be used once the handler
// returns.
func (e *eventSender) close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
}

// Connect is one realtime session. Every request is answered with an ack
// or an error event carrying its seq. When the stream ends, for any
// reason, the session's deferred writes run.
func (s *Server) Connect(stream grpc.BidiStreamingServer[rpc.RealtimeRequest, rpc.RealtimeEvent]) error {
	claims, ok := getClaimsFromContext(stream.Context())
	if !ok {
		return status.Error(codes.Unauthenticated, "missing auth claims")
	}

	ctx, cancel := s.streamContext(stream.Context())
	defer cancel()

	conn := s.realtime.Open(claims.UserID)
	defer conn.Close(context.WithoutCancel(ctx))

	out := &eventSender{stream: stream}
	defer out.close()
	id := s.hub.Register(claims.UserID, claims.ID, out, cancel)
	defer s.hub.Unregister(claims.UserID, id)

	log := s.logger(ctx).With(zap.String("conn", conn.ID()), zap.String("uid", claims.UserID))
	log.Debug("realtime connected")
	defer log.Debug("realtime disconnected")

	if err := out.Send(&rpc.RealtimeEvent{Kind: rpc.EventConnected, ConnID: conn.ID()}); err != nil {
		return err
	}

	reqs := make(chan *rpc.RealtimeRequest)
	recvErr := make(chan error, 1)
	go func() {
		for {
			req, err := stream.Recv()
			if err != nil {
				recvErr <- err
				return
			}
			select {
			case reqs <- req:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			switch {
			case stream.Context().Err() != nil:
				return nil
			case s.shuttingDown():
				return status.Error(codes.Unavailable, "server is shutting down")
			}
			return status.Error(codes.Unauthenticated, "session revoked")
		case err := <-recvErr:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case req := <-reqs:
			if err := out.Send(s.applyRealtime(ctx, conn, req)); err != nil {
				return err
			}
		}
	}
}

func (s *Server) applyRealtime(ctx context.Context, conn *realtime.Conn, req *rpc.RealtimeRequest) *rpc.RealtimeEvent {
	var err error
	switch req.Op {
	case rpc.OpSet:
		err = conn.Set(ctx, req.Path, req.Value)
	case rpc.OpOnDisconnectSet:
		err = conn.OnDisconnectSet(req.Path, req.Value)
	case rpc.OpCancelOnDisconnect:
		err = conn.CancelOnDisconnect(req.Path)
	default:
		err = fmt.Errorf("unknown op %q", req.Op)
	}
	if err != nil {
		return &rpc.RealtimeEvent{Kind: rpc.EventError, Seq: req.Seq, Error: err.Error()}
	}
	return &rpc.RealtimeEvent{Kind: rpc.EventAck, Seq: req.Seq}
}

// UploadImage stores an image under the caller's chat_images prefix and
// returns its URL. The first chunk names the file.
func (s *Server) UploadImage(stream grpc.ClientStreamingServer[rpc.UploadChunk, rpc.UploadResult]) error {
	ctx := stream.Context()
	claims, ok := getClaimsFromContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing auth claims")
	}

	first, err := stream.Recv()
	if errors.Is(err, io.EOF) {
		return status.Error(codes.InvalidArgument, "empty upload")
	}
	if err != nil {
		return err
	}
	if first.Filename == "" {
		return status.Error(codes.InvalidArgument, "filename is required")
	}
	if first.Size > s.maxUploadBytes {
		return status.Error(codes.InvalidArgument, errUploadTooLarge.Error())
	}

	key, name := storage.ImageKey(claims.UserID, first.Filename)
	contentType := first.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(path.Ext(name))
	}

	pr, pw := io.Pipe()
	done := make(chan struct{})
	// set before the pipe fails, so it is visible once Put returns
	var tooLarge atomic.Bool
	go func() {
		defer close(done)
		err := s.pumpUpload(stream, first.Data, pw)
		if errors.Is(err, errUploadTooLarge) {
			tooLarge.Store(true)
		}
		pw.CloseWithError(err)
	}()

	url, err := s.objects.Put(ctx, key, contentType, pr)
	pr.CloseWithError(io.ErrClosedPipe)
	if tooLarge.Load() {
		return status.Error(codes.InvalidArgument, errUploadTooLarge.Error())
	}
	if err != nil {
		return status.Errorf(codes.Internal, "failed to store image: %v", err)
	}
	<-done

	s.logger(ctx).Info("image uploaded", zap.String("key", key))
	return stream.SendAndClose(&rpc.UploadResult{URL: url, Name: name, Key: key})
}

// pumpUpload copies the upload into w; a nil return closes w cleanly.
func (s *Server) pumpUpload(stream grpc.ClientStreamingServer[rpc.UploadChunk, rpc.UploadResult], first []byte, w io.Writer) error {
	var total int64
	chunk := first
	for {
		total += int64(len(chunk))
		if total > s.maxUploadBytes {
			return errUploadTooLarge
		}
		if _, err := w.Write(chunk); err != nil {
			return err
		}
		next, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		chunk = next.Data
	}
}
