package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/BakhodirAbdullayev/orbital/internal/data"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "chat.v1.ChatService"

// Full method names, as seen by interceptors.
const (
	SignUpFullMethod             = "/" + ServiceName + "/SignUp"
	SignInFullMethod             = "/" + ServiceName + "/SignIn"
	SignInWithProviderFullMethod = "/" + ServiceName + "/SignInWithProvider"
	SignOutFullMethod            = "/" + ServiceName + "/SignOut"
	MeFullMethod                 = "/" + ServiceName + "/Me"
	UpdatePresenceFullMethod     = "/" + ServiceName + "/UpdatePresence"
	CreateChatFullMethod         = "/" + ServiceName + "/CreateChat"
	SendMessageFullMethod        = "/" + ServiceName + "/SendMessage"
	WatchChatsFullMethod         = "/" + ServiceName + "/WatchChats"
	WatchMessagesFullMethod      = "/" + ServiceName + "/WatchMessages"
	WatchUsersFullMethod         = "/" + ServiceName + "/WatchUsers"
	WatchStatusFullMethod        = "/" + ServiceName + "/WatchStatus"
	ConnectFullMethod            = "/" + ServiceName + "/Connect"
	UploadImageFullMethod        = "/" + ServiceName + "/UploadImage"
)

// ChatServiceServer is the server API for ChatService.
type ChatServiceServer interface {
	SignUp(context.Context, *SignUpRequest) (*AuthResponse, error)
	SignIn(context.Context, *SignInRequest) (*AuthResponse, error)
	SignInWithProvider(context.Context, *ProviderSignInRequest) (*AuthResponse, error)
	SignOut(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	Me(context.Context, *emptypb.Empty) (*data.UserProfile, error)
	UpdatePresence(context.Context, *PresenceRequest) (*emptypb.Empty, error)
	CreateChat(context.Context, *CreateChatRequest) (*CreateChatResponse, error)
	SendMessage(context.Context, *SendMessageRequest) (*SendMessageResponse, error)
	WatchChats(*WatchChatsRequest, grpc.ServerStreamingServer[ChatsSnapshot]) error
	WatchMessages(*WatchMessagesRequest, grpc.ServerStreamingServer[MessagesSnapshot]) error
	WatchUsers(*WatchUsersRequest, grpc.ServerStreamingServer[UsersSnapshot]) error
	WatchStatus(*WatchStatusRequest, grpc.ServerStreamingServer[StatusSnapshot]) error
	Connect(grpc.BidiStreamingServer[RealtimeRequest, RealtimeEvent]) error
	UploadImage(grpc.ClientStreamingServer[UploadChunk, UploadResult]) error
}

// UnimplementedChatServiceServer answers every method with Unimplemented.
// Embed it to stay compatible when methods are added.
type UnimplementedChatServiceServer struct{}

func (UnimplementedChatServiceServer) SignUp(context.Context, *SignUpRequest) (*AuthResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method SignUp not implemented")
}

func (UnimplementedChatServiceServer) SignIn(context.Context, *SignInRequest) (*AuthResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method SignIn not implemented")
}

func (UnimplementedChatServiceServer) SignInWithProvider(context.Context, *ProviderSignInRequest) (*AuthResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method SignInWithProvider not implemented")
}

func (UnimplementedChatServiceServer) SignOut(context.Context, *emptypb.Empty) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method SignOut not implemented")
}

func (UnimplementedChatServiceServer) Me(context.Context, *emptypb.Empty) (*data.UserProfile, error) {
	return nil, status.Error(codes.Unimplemented, "method Me not implemented")
}

func (UnimplementedChatServiceServer) UpdatePresence(context.Context, *PresenceRequest) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method UpdatePresence not implemented")
}

func (UnimplementedChatServiceServer) CreateChat(context.Context, *CreateChatRequest) (*CreateChatResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method CreateChat not implemented")
}

func (UnimplementedChatServiceServer) SendMessage(context.Context, *SendMessageRequest) (*SendMessageResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method SendMessage not implemented")
}

func (UnimplementedChatServiceServer) WatchChats(*WatchChatsRequest, grpc.ServerStreamingServer[ChatsSnapshot]) error {
	return status.Error(codes.Unimplemented, "method WatchChats not implemented")
}

func (UnimplementedChatServiceServer) WatchMessages(*WatchMessagesRequest, grpc.ServerStreamingServer[MessagesSnapshot]) error {
	return status.Error(codes.Unimplemented, "method WatchMessages not implemented")
}

func (UnimplementedChatServiceServer) WatchUsers(*WatchUsersRequest, grpc.ServerStreamingServer[UsersSnapshot]) error {
	return status.Error(codes.Unimplemented, "method WatchUsers not implemented")
}

func (UnimplementedChatServiceServer) WatchStatus(*WatchStatusRequest, grpc.ServerStreamingServer[StatusSnapshot]) error {
	return status.Error(codes.Unimplemented, "method WatchStatus not implemented")
}

func (UnimplementedChatServiceServer) Connect(grpc.BidiStreamingServer[RealtimeRequest, RealtimeEvent]) error {
	return status.Error(codes.Unimplemented, "method Connect not implemented")
}

func (UnimplementedChatServiceServer) UploadImage(grpc.ClientStreamingServer[UploadChunk, UploadResult]) error {
	return status.Error(codes.Unimplemented, "method UploadImage not implemented")
}

// RegisterChatServiceServer registers srv on s.
func RegisterChatServiceServer(s grpc.ServiceRegistrar, srv ChatServiceServer) {
	s.RegisterService(&ChatService_ServiceDesc, srv)
}

func _ChatService_SignUp_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SignUpRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ChatServiceServer).SignUp(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SignUpFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ChatServiceServer).SignUp(ctx, req.(*SignUpRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _ChatService_SignIn_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SignInRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ChatServiceServer).SignIn(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SignInFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ChatServiceServer).SignIn(ctx, req.(*SignInRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _ChatService_SignInWithProvider_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ProviderSignInRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ChatServiceServer).SignInWithProvider(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SignInWithProviderFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ChatServiceServer).SignInWithProvider(ctx, req.(*ProviderSignInRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _ChatService_SignOut_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ChatServiceServer).SignOut(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SignOutFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ChatServiceServer).SignOut(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func _ChatService_Me_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ChatServiceServer).Me(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MeFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ChatServiceServer).Me(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func _ChatService_UpdatePresence_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(PresenceRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ChatServiceServer).UpdatePresence(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: UpdatePresenceFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ChatServiceServer).UpdatePresence(ctx, req.(*PresenceRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _ChatService_CreateChat_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CreateChatRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ChatServiceServer).CreateChat(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: CreateChatFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ChatServiceServer).CreateChat(ctx, req.(*CreateChatRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _ChatService_SendMessage_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SendMessageRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ChatServiceServer).SendMessage(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SendMessageFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ChatServiceServer).SendMessage(ctx, req.(*SendMessageRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _ChatService_WatchChats_Handler(srv any, stream grpc.ServerStream) error {
	m := new(WatchChatsRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(ChatServiceServer).WatchChats(m, &grpc.GenericServerStream[WatchChatsRequest, ChatsSnapshot]{ServerStream: stream})
}

func _ChatService_WatchMessages_Handler(srv any, stream grpc.ServerStream) error {
	m := new(WatchMessagesRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(ChatServiceServer).WatchMessages(m, &grpc.GenericServerStream[WatchMessagesRequest, MessagesSnapshot]{ServerStream: stream})
}

func _ChatService_WatchUsers_Handler(srv any, stream grpc.ServerStream) error {
	m := new(WatchUsersRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(ChatServiceServer).WatchUsers(m, &grpc.GenericServerStream[WatchUsersRequest, UsersSnapshot]{ServerStream: stream})
}

func _ChatService_WatchStatus_Handler(srv any, stream grpc.ServerStream) error {
	m := new(WatchStatusRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(ChatServiceServer).WatchStatus(m, &grpc.GenericServerStream[WatchStatusRequest, StatusSnapshot]{ServerStream: stream})
}

func _ChatService_Connect_Handler(srv any, stream grpc.ServerStream) error {
	return srv.(ChatServiceServer).Connect(&grpc.GenericServerStream[RealtimeRequest, RealtimeEvent]{ServerStream: stream})
}

func _ChatService_UploadImage_Handler(srv any, stream grpc.ServerStream) error {
	return srv.(ChatServiceServer).UploadImage(&grpc.GenericServerStream[UploadChunk, UploadResult]{ServerStream: stream})
}

// ChatService_ServiceDesc is the grpc.ServiceDesc for ChatService.
var ChatService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ChatServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SignUp", Handler: _ChatService_SignUp_Handler},
		{MethodName: "SignIn", Handler: _ChatService_SignIn_Handler},
		{MethodName: "SignInWithProvider", Handler: _ChatService_SignInWithProvider_Handler},
		{MethodName: "SignOut", Handler: _ChatService_SignOut_Handler},
		{MethodName: "Me", Handler: _ChatService_Me_Handler},
		{MethodName: "UpdatePresence", Handler: _ChatService_UpdatePresence_Handler},
		{MethodName: "CreateChat", Handler: _ChatService_CreateChat_Handler},
		{MethodName: "SendMessage", Handler: _ChatService_SendMessage_Handler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchChats", Handler: _ChatService_WatchChats_Handler, ServerStreams: true},
		{StreamName: "WatchMessages", Handler: _ChatService_WatchMessages_Handler, ServerStreams: true},
		{StreamName: "WatchUsers", Handler: _ChatService_WatchUsers_Handler, ServerStreams: true},
		{StreamName: "WatchStatus", Handler: _ChatService_WatchStatus_Handler, ServerStreams: true},
		{StreamName: "Connect", Handler: _ChatService_Connect_Handler, ServerStreams: true, ClientStreams: true},
		{StreamName: "UploadImage", Handler: _ChatService_UploadImage_Handler, ClientStreams: true},
	},
	Metadata: "chat/v1/chat.proto",
}
