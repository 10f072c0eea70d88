package client

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/BakhodirAbdullayev/orbital/internal/auth"
	"github.com/BakhodirAbdullayev/orbital/internal/data"
	"github.com/BakhodirAbdullayev/orbital/internal/realtime"
	"github.com/BakhodirAbdullayev/orbital/internal/rpc"
)

// op is one call observed by fakeServer.
type op struct {
	kind   string
	path   string
	online bool
	token  string
}

// fakeServer records what the client does. Connect streams stay open
// until dropConnect or SignOut.
type fakeServer struct {
	rpc.UnimplementedChatServiceServer

	uid bson.ObjectID

	mu       sync.Mutex
	ops      []op
	sends    []*rpc.SendMessageRequest
	creates  []*rpc.CreateChatRequest
	uploaded bytes.Buffer
	connects int
	attempts int
	drop     chan struct{}
	revoke   chan struct{}
	chats    chan *rpc.ChatsSnapshot
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		uid:   bson.NewObjectID(),
		drop:   make(chan struct{}),
		revoke: make(chan struct{}),
		chats: make(chan *rpc.ChatsSnapshot, 8),
	}
}

func tokenOf(ctx context.Context) string {
	md, _ := metadata.FromIncomingContext(ctx)
	if v := md.Get("authorization"); len(v) > 0 {
		return v[0]
	}
	return ""
}

func (f *fakeServer) record(o op) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, o)
}

func (f *fakeServer) snapshot() []op {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]op(nil), f.ops...)
}

func (f *fakeServer) SignIn(_ context.Context, req *rpc.SignInRequest) (*rpc.AuthResponse, error) {
	if req.Password != "secret1" {
		return nil, auth.NewError(auth.CodeInvalidCredential, "invalid email or password")
	}
	return &rpc.AuthResponse{
		Token:     "tok",
		ExpiresAt: time.Now().Add(time.Hour),
		User:      &data.UserProfile{ID: f.uid, Email: req.Email, DisplayName: "Ann"},
	}, nil
}

func (f *fakeServer) SignUp(context.Context, *rpc.SignUpRequest) (*rpc.AuthResponse, error) {
	return nil, auth.NewError(auth.CodeEmailAlreadyInUse, "taken")
}

// SignOut ends open Connect streams with a revoked event, as the real
// server does for the signed-out token.
func (f *fakeServer) SignOut(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	f.record(op{kind: "signout", token: tokenOf(ctx)})
	f.mu.Lock()
	close(f.revoke)
	f.revoke = make(chan struct{})
	f.mu.Unlock()
	return &emptypb.Empty{}, nil
}

func (f *fakeServer) Me(ctx context.Context, _ *emptypb.Empty) (*data.UserProfile, error) {
	if tokenOf(ctx) != "Bearer tok" {
		return nil, status.Error(codes.Unauthenticated, "no token")
	}
	return &data.UserProfile{ID: f.uid}, nil
}

func (f *fakeServer) UpdatePresence(ctx context.Context, req *rpc.PresenceRequest) (*emptypb.Empty, error) {
	f.record(op{kind: "doc", online: req.Online, token: tokenOf(ctx)})
	return &emptypb.Empty{}, nil
}

func (f *fakeServer) CreateChat(_ context.Context, req *rpc.CreateChatRequest) (*rpc.CreateChatResponse, error) {
	f.mu.Lock()
	f.creates = append(f.creates, req)
	f.mu.Unlock()
	return &rpc.CreateChatResponse{Chat: &data.Chat{ID: bson.NewObjectID()}, Created: true}, nil
}

func (f *fakeServer) SendMessage(_ context.Context, req *rpc.SendMessageRequest) (*rpc.SendMessageResponse, error) {
	f.mu.Lock()
	f.sends = append(f.sends, req)
	f.mu.Unlock()
	return &rpc.SendMessageResponse{Message: &data.Message{Content: req.Content}}, nil
}

func (f *fakeServer) WatchChats(_ *rpc.WatchChatsRequest, stream grpc.ServerStreamingServer[rpc.ChatsSnapshot]) error {
	for {
		select {
		case <-stream.Context().Done():
			return nil
		case snap := <-f.chats:
			if err := stream.Send(snap); err != nil {
				return err
			}
		}
	}
}

func (f *fakeServer) Connect(stream grpc.BidiStreamingServer[rpc.RealtimeRequest, rpc.RealtimeEvent]) error {
	f.mu.Lock()
	f.attempts++
	f.mu.Unlock()
	if tokenOf(stream.Context()) == "" {
		return status.Error(codes.Unauthenticated, "no token")
	}
	f.mu.Lock()
	f.connects++
	drop, revoke := f.drop, f.revoke
	f.mu.Unlock()

	if err := stream.Send(&rpc.RealtimeEvent{Kind: rpc.EventConnected, ConnID: "c"}); err != nil {
		return err
	}
	reqs := make(chan *rpc.RealtimeRequest)
	go func() {
		defer close(reqs)
		for {
			req, err := stream.Recv()
			if err != nil {
				return
			}
			select {
			case reqs <- req:
			case <-stream.Context().Done():
				return
			}
		}
	}()
	for {
		select {
		case <-drop:
			return status.Error(codes.Unavailable, "dropped")
		case <-revoke:
			_ = stream.Send(&rpc.RealtimeEvent{Kind: rpc.EventRevoked})
			return status.Error(codes.Unauthenticated, "session revoked")
		case req, ok := <-reqs:
			if !ok {
				return nil
			}
			o := op{kind: req.Op, path: req.Path}
			if v, ok := req.Value["online"].(bool); ok {
				o.online = v
			}
			f.record(o)
			if err := stream.Send(&rpc.RealtimeEvent{Kind: rpc.EventAck, Seq: req.Seq}); err != nil {
				return err
			}
		}
	}
}

// dropConnect ends every open Connect stream; later ones stay up.
func (f *fakeServer) dropConnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	close(f.drop)
	f.drop = make(chan struct{})
}

func (f *fakeServer) UploadImage(stream grpc.ClientStreamingServer[rpc.UploadChunk, rpc.UploadResult]) error {
	var name string
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if chunk.Filename != "" {
			name = chunk.Filename
		}
		f.mu.Lock()
		f.uploaded.Write(chunk.Data)
		f.mu.Unlock()
	}
	return stream.SendAndClose(&rpc.UploadResult{URL: "mem://" + name, Name: name})
}

func startFake(t *testing.T) (*Client, *fakeServer) {
	t.Helper()
	fake := newFakeServer()

	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	rpc.RegisterChatServiceServer(s, fake)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	c, err := Dial("passthrough:///bufnet", nil, zap.NewNop(),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	c.Realtime.minBackoff = 10 * time.Millisecond
	c.Realtime.maxBackoff = 50 * time.Millisecond
	t.Cleanup(func() { _ = c.Close() })
	return c, fake
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSessionSignInAndAuthChanges(t *testing.T) {
	c, fake := startFake(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	changes := c.Session.AuthChanges(ctx)
	if uid := <-changes; uid != "" {
		t.Fatalf("expected signed out first, got %q", uid)
	}

	if _, err := c.API().Me(ctx, &emptypb.Empty{}); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected no token before sign-in, got %v", err)
	}

	user, err := c.Session.SignIn(ctx, "ann@example.com", "secret1")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if user.UID() != fake.uid.Hex() || c.Session.CurrentUser() == nil {
		t.Fatalf("unexpected user %+v", user)
	}
	if uid := <-changes; uid != fake.uid.Hex() {
		t.Fatalf("expected auth change to %s, got %q", fake.uid.Hex(), uid)
	}

	// the bearer token rides along automatically
	if _, err := c.API().Me(ctx, &emptypb.Empty{}); err != nil {
		t.Fatalf("Me with token: %v", err)
	}

	if err := c.Session.SignOut(ctx); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if uid := <-changes; uid != "" {
		t.Fatalf("expected auth change to signed out, got %q", uid)
	}
	if c.Session.Token() != "" || c.Session.CurrentUser() != nil {
		t.Fatal("session not cleared")
	}
}

func TestSessionReturnsAuthErrors(t *testing.T) {
	c, _ := startFake(t)
	ctx := context.Background()

	_, err := c.Session.SignIn(ctx, "ann@example.com", "wrong")
	ae, ok := err.(*auth.Error)
	if !ok || ae.Code != auth.CodeInvalidCredential {
		t.Fatalf("expected invalid-credential *auth.Error, got %T %v", err, err)
	}
	if got := ae.Fields(); len(got) != 2 {
		t.Fatalf("expected email and password fields, got %v", got)
	}

	_, err = c.Session.SignUp(ctx, "taken@example.com", "secret1", "Taken")
	if ae := auth.FromError(err); ae == nil || ae.Code != auth.CodeEmailAlreadyInUse {
		t.Fatalf("expected email-already-in-use, got %v", err)
	}
}

func TestSignOutHooksRunWhileAuthenticated(t *testing.T) {
	c, fake := startFake(t)
	ctx := context.Background()
	if _, err := c.Session.SignIn(ctx, "ann@example.com", "secret1"); err != nil {
		t.Fatal(err)
	}

	c.Session.OnBeforeSignOut(func(ctx context.Context) {
		_ = c.DocStore().UpdatePresence(ctx, false)
	})
	removed := c.Session.OnBeforeSignOut(func(context.Context) { t.Error("unregistered hook ran") })
	removed()

	if err := c.Session.SignOut(ctx); err != nil {
		t.Fatal(err)
	}

	ops := fake.snapshot()
	if len(ops) != 2 || ops[0].kind != "doc" || ops[1].kind != "signout" {
		t.Fatalf("unexpected call order %+v", ops)
	}
	if ops[0].token != "Bearer tok" {
		t.Fatalf("hook ran without the token: %+v", ops[0])
	}
}

func TestPresenceOverRealtimeConn(t *testing.T) {
	c, fake := startFake(t)
	ctx := context.Background()
	if _, err := c.Session.SignIn(ctx, "ann@example.com", "secret1"); err != nil {
		t.Fatal(err)
	}
	path := realtime.StatusPath(fake.uid.Hex())

	count := func(kind string, online bool) int {
		n := 0
		for _, o := range fake.snapshot() {
			if o.kind == kind && o.online == online {
				n++
			}
		}
		return n
	}

	stop := c.StartPresence(ctx)
	defer stop()

	eventually(t, "online writes", func() bool {
		return count(rpc.OpOnDisconnectSet, false) == 1 && count(rpc.OpSet, true) == 1 && count("doc", true) == 1
	})
	for _, o := range fake.snapshot() {
		if o.path != "" && o.path != path {
			t.Fatalf("write outside the user's status: %+v", o)
		}
	}

	// the server drops the session; the client reconnects and registers
	// the deferred write again
	fake.dropConnect()
	eventually(t, "reconnect", func() bool {
		return count(rpc.OpOnDisconnectSet, false) == 2 && count(rpc.OpSet, true) == 2
	})
	if count("doc", false) == 0 {
		t.Fatal("disconnect did not mark the document offline")
	}

	if err := c.Session.SignOut(ctx); err != nil {
		t.Fatal(err)
	}
	ops := fake.snapshot()
	var tail []string
	for _, o := range ops[len(ops)-4:] {
		tail = append(tail, o.kind)
	}
	want := []string{"doc", rpc.OpSet, rpc.OpCancelOnDisconnect, "signout"}
	for i := range want {
		if tail[i] != want[i] {
			t.Fatalf("sign-out order = %v, want %v", tail, want)
		}
	}
}

func (f *fakeServer) connectAttempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func TestRealtimeFollowsSession(t *testing.T) {
	c, fake := startFake(t)
	ctx := context.Background()

	stop := c.StartPresence(ctx)
	defer stop()

	// nothing is dialled before sign-in
	time.Sleep(100 * time.Millisecond)
	if n := fake.connectAttempts(); n != 0 {
		t.Fatalf("%d Connect attempts before sign-in", n)
	}

	if _, err := c.Session.SignIn(ctx, "ann@example.com", "secret1"); err != nil {
		t.Fatal(err)
	}
	eventually(t, "connected", c.Realtime.Connected)

	if err := c.Session.SignOut(ctx); err != nil {
		t.Fatal(err)
	}
	eventually(t, "disconnected", func() bool { return !c.Realtime.Connected() })

	// well past several backoff periods
	time.Sleep(300 * time.Millisecond)
	if n := fake.connectAttempts(); n != 1 {
		t.Fatalf("Connect attempts = %d, want only the signed-in one", n)
	}

	if _, err := c.Session.SignIn(ctx, "ann@example.com", "secret1"); err != nil {
		t.Fatal(err)
	}
	eventually(t, "reconnected", c.Realtime.Connected)
	if n := fake.connectAttempts(); n != 2 {
		t.Fatalf("Connect attempts after sign-in = %d, want 2", n)
	}
}

func TestRealtimeWriteWhileDisconnected(t *testing.T) {
	c, _ := startFake(t)
	if err := c.Realtime.Set(context.Background(), "/status/x", realtime.StatusValue(true)); err != ErrNotConnected {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if c.Realtime.Connected() {
		t.Fatal("expected disconnected")
	}
}

func TestChatsFeed(t *testing.T) {
	c, fake := startFake(t)
	ctx := context.Background()
	if _, err := c.Session.SignIn(ctx, "ann@example.com", "secret1"); err != nil {
		t.Fatal(err)
	}

	feed := c.Chats(ctx)
	defer feed.Close()

	if _, loading, _ := feed.Snapshot(); !loading {
		t.Fatal("expected loading before the first snapshot")
	}

	chat := &data.Chat{ID: bson.NewObjectID(), Members: []string{"a", "b"}, LastMessage: "hi"}
	fake.chats <- &rpc.ChatsSnapshot{Chats: []*data.Chat{chat}}

	eventually(t, "first snapshot", func() bool {
		items, loading, err := feed.Snapshot()
		return !loading && err == nil && len(items) == 1 && items[0].LastMessage == "hi"
	})
}

func TestComposerSuppressesDuplicateChats(t *testing.T) {
	c, fake := startFake(t)
	ctx := context.Background()
	if _, err := c.Session.SignIn(ctx, "ann@example.com", "secret1"); err != nil {
		t.Fatal(err)
	}
	me := fake.uid.Hex()
	existing := &data.Chat{ID: bson.NewObjectID(), Members: data.SortedMembers(me, "bob")}
	loaded := []*data.Chat{existing}

	comp := c.Composer()
	if _, err := comp.Send(ctx, loaded, "bob", "hi"); err != nil {
		t.Fatal(err)
	}
	if _, err := comp.Send(ctx, loaded, "cat", "hey"); err != nil {
		t.Fatal(err)
	}
	chat, err := comp.Open(ctx, loaded, "bob")
	if err != nil || chat.ID != existing.ID {
		t.Fatalf("Open should reuse the loaded chat: %+v %v", chat, err)
	}
	if _, err := comp.Open(ctx, loaded, "dan"); err != nil {
		t.Fatal(err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.sends[0].ChatID != existing.ID.Hex() || fake.sends[0].ReceiverID != "" {
		t.Fatalf("send to a loaded chat should name it: %+v", fake.sends[0])
	}
	if fake.sends[1].ChatID != "" || fake.sends[1].ReceiverID != "cat" {
		t.Fatalf("send without a chat should name the receiver: %+v", fake.sends[1])
	}
	if len(fake.creates) != 1 || fake.creates[0].PeerID != "dan" {
		t.Fatalf("expected one CreateChat for dan, got %+v", fake.creates)
	}
}

func TestUploadImageProgress(t *testing.T) {
	c, fake := startFake(t)
	ctx := context.Background()

	payload := bytes.Repeat([]byte("img"), 40000) // 120000 bytes, four chunks
	if _, err := c.UploadImage(ctx, bytes.NewReader(payload), int64(len(payload)), "a.png", nil); err != ErrSignedOut {
		t.Fatalf("expected ErrSignedOut, got %v", err)
	}
	if _, err := c.Session.SignIn(ctx, "ann@example.com", "secret1"); err != nil {
		t.Fatal(err)
	}

	var progress []int
	res, err := c.UploadImage(ctx, bytes.NewReader(payload), int64(len(payload)), "a.png", func(p int) {
		progress = append(progress, p)
	})
	if err != nil {
		t.Fatalf("UploadImage: %v", err)
	}
	if res.Name != "a.png" {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(progress) < 2 || progress[len(progress)-1] != 100 {
		t.Fatalf("unexpected progress %v", progress)
	}
	for i := 1; i < len(progress); i++ {
		if progress[i] <= progress[i-1] {
			t.Fatalf("progress not increasing: %v", progress)
		}
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if !bytes.Equal(fake.uploaded.Bytes(), payload) {
		t.Fatalf("server received %d bytes, want %d", fake.uploaded.Len(), len(payload))
	}
}

func TestTransitionsDeliverEveryChange(t *testing.T) {
	tr := newTransitions(false)
	ctx, cancel := context.WithCancel(context.Background())
	ch := tr.watch(ctx)

	tr.set(true)
	tr.set(false)
	tr.set(true)

	want := []bool{false, true, false, true}
	for i, w := range want {
		if got := <-ch; got != w {
			t.Fatalf("value %d = %v, want %v", i, got, w)
		}
	}
	cancel()
	for range ch {
	}
}
