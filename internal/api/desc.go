package api

import (
	"context"

	"google.golang.org/grpc"
)

const (
	SessionServiceName = "gigline.v1.SessionService"
	ChatServiceName    = "gigline.v1.ChatService"
)

// SessionServer is the server API of SessionService.
type SessionServer interface {
	Status(context.Context, *StatusRequest) (*StatusResponse, error)
	Login(context.Context, *LoginRequest) (*LoginResponse, error)
	Logout(context.Context, *LogoutRequest) (*LogoutResponse, error)
	Connect(context.Context, *ConnectRequest) (*ConnectResponse, error)
	Disconnect(context.Context, *DisconnectRequest) (*DisconnectResponse, error)
	WatchEvents(*WatchEventsRequest, EventStream) error
}

// ChatServer is the server API of ChatService.
type ChatServer interface {
	ListContacts(context.Context, *ListContactsRequest) (*ListContactsResponse, error)
	ListMessages(context.Context, *ListMessagesRequest) (*ListMessagesResponse, error)
	SendMessage(context.Context, *SendMessageRequest) (*SendMessageResponse, error)
	SetActiveContact(context.Context, *SetActiveContactRequest) (*SetActiveContactResponse, error)
	SendTyping(context.Context, *SendTypingRequest) (*SendTypingResponse, error)
	LoadHistory(context.Context, *LoadHistoryRequest) (*LoadHistoryResponse, error)
}

// EventStream is the server side of WatchEvents.
type EventStream interface {
	Send(*EventEnvelope) error
	Context() context.Context
}

type eventStream struct {
	grpc.ServerStream
}

func (s *eventStream) Send(e *EventEnvelope) error { return s.ServerStream.SendMsg(e) }

// SessionServiceDesc describes SessionService for grpc.Server.RegisterService.
var SessionServiceDesc = grpc.ServiceDesc{
	ServiceName: SessionServiceName,
	HandlerType: (*SessionServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(SessionServiceName, "Status", SessionServer.Status),
		unary(SessionServiceName, "Login", SessionServer.Login),
		unary(SessionServiceName, "Logout", SessionServer.Logout),
		unary(SessionServiceName, "Connect", SessionServer.Connect),
		unary(SessionServiceName, "Disconnect", SessionServer.Disconnect),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchEvents",
			ServerStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := new(WatchEventsRequest)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(SessionServer).WatchEvents(in, &eventStream{stream})
			},
		},
	},
}

// ChatServiceDesc describes ChatService for grpc.Server.RegisterService.
var ChatServiceDesc = grpc.ServiceDesc{
	ServiceName: ChatServiceName,
	HandlerType: (*ChatServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(ChatServiceName, "ListContacts", ChatServer.ListContacts),
		unary(ChatServiceName, "ListMessages", ChatServer.ListMessages),
		unary(ChatServiceName, "SendMessage", ChatServer.SendMessage),
		unary(ChatServiceName, "SetActiveContact", ChatServer.SetActiveContact),
		unary(ChatServiceName, "SendTyping", ChatServer.SendTyping),
		unary(ChatServiceName, "LoadHistory", ChatServer.LoadHistory),
	},
}

// Register attaches both services to srv.
func Register(srv grpc.ServiceRegistrar, sessions SessionServer, chat ChatServer) {
	srv.RegisterService(&SessionServiceDesc, sessions)
	srv.RegisterService(&ChatServiceDesc, chat)
}

// FullMethod returns the invocation path of method on service.
func FullMethod(service, method string) string {
	return "/" + service + "/" + method
}

func unary[S, Req, Resp any](service, method string, call func(S, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(S), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(service, method)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(S), ctx, req.(*Req))
			})
		},
	}
}
