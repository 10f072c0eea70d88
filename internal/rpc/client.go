package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/BakhodirAbdullayev/orbital/internal/data"
)

// ChatServiceClient is the client API for ChatService.
type ChatServiceClient interface {
	SignUp(ctx context.Context, in *SignUpRequest, opts ...grpc.CallOption) (*AuthResponse, error)
	SignIn(ctx context.Context, in *SignInRequest, opts ...grpc.CallOption) (*AuthResponse, error)
	SignInWithProvider(ctx context.Context, in *ProviderSignInRequest, opts ...grpc.CallOption) (*AuthResponse, error)
	SignOut(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error)
	Me(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*data.UserProfile, error)
	UpdatePresence(ctx context.Context, in *PresenceRequest, opts ...grpc.CallOption) (*emptypb.Empty, error)
	CreateChat(ctx context.Context, in *CreateChatRequest, opts ...grpc.CallOption) (*CreateChatResponse, error)
	SendMessage(ctx context.Context, in *SendMessageRequest, opts ...grpc.CallOption) (*SendMessageResponse, error)
	WatchChats(ctx context.Context, in *WatchChatsRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[ChatsSnapshot], error)
	WatchMessages(ctx context.Context, in *WatchMessagesRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[MessagesSnapshot], error)
	WatchUsers(ctx context.Context, in *WatchUsersRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[UsersSnapshot], error)
	WatchStatus(ctx context.Context, in *WatchStatusRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[StatusSnapshot], error)
	Connect(ctx context.Context, opts ...grpc.CallOption) (grpc.BidiStreamingClient[RealtimeRequest, RealtimeEvent], error)
	UploadImage(ctx context.Context, opts ...grpc.CallOption) (grpc.ClientStreamingClient[UploadChunk, UploadResult], error)
}

type chatServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewChatServiceClient returns a client over cc. Every call asks for the
// JSON codec.
func NewChatServiceClient(cc grpc.ClientConnInterface) ChatServiceClient {
	return &chatServiceClient{cc}
}

func callOpts(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.StaticMethod(), grpc.CallContentSubtype(CodecName)}, opts...)
}

func (c *chatServiceClient) SignUp(ctx context.Context, in *SignUpRequest, opts ...grpc.CallOption) (*AuthResponse, error) {
	out := new(AuthResponse)
	if err := c.cc.Invoke(ctx, SignUpFullMethod, in, out, callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *chatServiceClient) SignIn(ctx context.Context, in *SignInRequest, opts ...grpc.CallOption) (*AuthResponse, error) {
	out := new(AuthResponse)
	if err := c.cc.Invoke(ctx, SignInFullMethod, in, out, callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *chatServiceClient) SignInWithProvider(ctx context.Context, in *ProviderSignInRequest, opts ...grpc.CallOption) (*AuthResponse, error) {
	out := new(AuthResponse)
	if err := c.cc.Invoke(ctx, SignInWithProviderFullMethod, in, out, callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *chatServiceClient) SignOut(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, SignOutFullMethod, in, out, callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *chatServiceClient) Me(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*data.UserProfile, error) {
	out := new(data.UserProfile)
	if err := c.cc.Invoke(ctx, MeFullMethod, in, out, callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *chatServiceClient) UpdatePresence(ctx context.Context, in *PresenceRequest, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, UpdatePresenceFullMethod, in, out, callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *chatServiceClient) CreateChat(ctx context.Context, in *CreateChatRequest, opts ...grpc.CallOption) (*CreateChatResponse, error) {
	out := new(CreateChatResponse)
	if err := c.cc.Invoke(ctx, CreateChatFullMethod, in, out, callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *chatServiceClient) SendMessage(ctx context.Context, in *SendMessageRequest, opts ...grpc.CallOption) (*SendMessageResponse, error) {
	out := new(SendMessageResponse)
	if err := c.cc.Invoke(ctx, SendMessageFullMethod, in, out, callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *chatServiceClient) WatchChats(ctx context.Context, in *WatchChatsRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[ChatsSnapshot], error) {
	stream, err := c.cc.NewStream(ctx, &ChatService_ServiceDesc.Streams[0], WatchChatsFullMethod, callOpts(opts)...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[WatchChatsRequest, ChatsSnapshot]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

func (c *chatServiceClient) WatchMessages(ctx context.Context, in *WatchMessagesRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[MessagesSnapshot], error) {
	stream, err := c.cc.NewStream(ctx, &ChatService_ServiceDesc.Streams[1], WatchMessagesFullMethod, callOpts(opts)...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[WatchMessagesRequest, MessagesSnapshot]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

func (c *chatServiceClient) WatchUsers(ctx context.Context, in *WatchUsersRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[UsersSnapshot], error) {
	stream, err := c.cc.NewStream(ctx, &ChatService_ServiceDesc.Streams[2], WatchUsersFullMethod, callOpts(opts)...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[WatchUsersRequest, UsersSnapshot]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

func (c *chatServiceClient) WatchStatus(ctx context.Context, in *WatchStatusRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[StatusSnapshot], error) {
	stream, err := c.cc.NewStream(ctx, &ChatService_ServiceDesc.Streams[3], WatchStatusFullMethod, callOpts(opts)...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[WatchStatusRequest, StatusSnapshot]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

func (c *chatServiceClient) Connect(ctx context.Context, opts ...grpc.CallOption) (grpc.BidiStreamingClient[RealtimeRequest, RealtimeEvent], error) {
	stream, err := c.cc.NewStream(ctx, &ChatService_ServiceDesc.Streams[4], ConnectFullMethod, callOpts(opts)...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[RealtimeRequest, RealtimeEvent]{ClientStream: stream}, nil
}

func (c *chatServiceClient) UploadImage(ctx context.Context, opts ...grpc.CallOption) (grpc.ClientStreamingClient[UploadChunk, UploadResult], error) {
	stream, err := c.cc.NewStream(ctx, &ChatService_ServiceDesc.Streams[5], UploadImageFullMethod, callOpts(opts)...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[UploadChunk, UploadResult]{ClientStream: stream}, nil
}
