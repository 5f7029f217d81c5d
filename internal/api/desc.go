package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "ccai.v1.Messenger"

// Method names.
const (
	MethodGetStatus         = "GetStatus"
	MethodListConversations = "ListConversations"
	MethodOpenConversation  = "OpenConversation"
	MethodCloseConversation = "CloseConversation"
	MethodLoadOlder         = "LoadOlder"
	MethodGetTimeline       = "GetTimeline"
	MethodSendMessage       = "SendMessage"
	MethodNotifyTyping      = "NotifyTyping"
	MethodGetPresence       = "GetPresence"
	MethodListFailedSends   = "ListFailedSends"
	MethodRetrySend         = "RetrySend"
	MethodWatchEvents       = "WatchEvents"
)

// FullMethod returns the path of method as used on the wire.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// MessengerServer is the server API. Request and response bodies are JSON
// objects carried as google.protobuf.Struct.
type MessengerServer interface {
	GetStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListConversations(context.Context, *structpb.Struct) (*structpb.Struct, error)
	OpenConversation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CloseConversation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	LoadOlder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetTimeline(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SendMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	NotifyTyping(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetPresence(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListFailedSends(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RetrySend(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchEvents(*structpb.Struct, grpc.ServerStream) error
}

type unaryFunc func(MessengerServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call unaryFunc) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(MessengerServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(MessengerServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(MessengerServer).WatchEvents(in, stream)
}

// ServiceDesc describes the Messenger service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MessengerServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodGetStatus, MessengerServer.GetStatus),
		unary(MethodListConversations, MessengerServer.ListConversations),
		unary(MethodOpenConversation, MessengerServer.OpenConversation),
		unary(MethodCloseConversation, MessengerServer.CloseConversation),
		unary(MethodLoadOlder, MessengerServer.LoadOlder),
		unary(MethodGetTimeline, MessengerServer.GetTimeline),
		unary(MethodSendMessage, MessengerServer.SendMessage),
		unary(MethodNotifyTyping, MessengerServer.NotifyTyping),
		unary(MethodGetPresence, MessengerServer.GetPresence),
		unary(MethodListFailedSends, MessengerServer.ListFailedSends),
		unary(MethodRetrySend, MessengerServer.RetrySend),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    MethodWatchEvents,
			Handler:       watchEventsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "ccai/v1/messenger.proto",
}

// RegisterMessengerServer registers srv on s.
func RegisterMessengerServer(s grpc.ServiceRegistrar, srv MessengerServer) {
	s.RegisterService(&ServiceDesc, srv)
}
