// Package client is the typed gRPC client of the giglined API.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/matheus3301/gigline/internal/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client wraps a gRPC connection to the daemon.
type Client struct {
	conn   grpc.ClientConnInterface
	closer io.Closer
	opts   []grpc.CallOption
}

// New dials the daemon's Unix domain socket.
func New(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	c := NewFromConn(conn)
	c.closer = conn
	return c, nil
}

// NewFromConn wraps an existing connection. Close does not close conn.
func NewFromConn(conn grpc.ClientConnInterface) *Client {
	return &Client{
		conn: conn,
		opts: []grpc.CallOption{grpc.CallContentSubtype(api.CodecName)},
	}
}

// Close closes the gRPC connection if the client owns it.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

func (c *Client) invoke(ctx context.Context, service, method string, in, out any) error {
	return c.conn.Invoke(ctx, api.FullMethod(service, method), in, out, c.opts...)
}

func (c *Client) Status(ctx context.Context) (*api.StatusResponse, error) {
	out := new(api.StatusResponse)
	return out, c.invoke(ctx, api.SessionServiceName, "Status", &api.StatusRequest{}, out)
}

func (c *Client) Login(ctx context.Context, email, password string) (*api.LoginResponse, error) {
	out := new(api.LoginResponse)
	in := &api.LoginRequest{Email: email, Password: password}
	return out, c.invoke(ctx, api.SessionServiceName, "Login", in, out)
}

func (c *Client) Logout(ctx context.Context) error {
	return c.invoke(ctx, api.SessionServiceName, "Logout", &api.LogoutRequest{}, new(api.LogoutResponse))
}

func (c *Client) Connect(ctx context.Context) (*api.ConnectResponse, error) {
	out := new(api.ConnectResponse)
	return out, c.invoke(ctx, api.SessionServiceName, "Connect", &api.ConnectRequest{}, out)
}

func (c *Client) Disconnect(ctx context.Context) error {
	return c.invoke(ctx, api.SessionServiceName, "Disconnect", &api.DisconnectRequest{}, new(api.DisconnectResponse))
}

func (c *Client) ListContacts(ctx context.Context) ([]api.Contact, error) {
	out := new(api.ListContactsResponse)
	if err := c.invoke(ctx, api.ChatServiceName, "ListContacts", &api.ListContactsRequest{}, out); err != nil {
		return nil, err
	}
	return out.Contacts, nil
}

func (c *Client) ListMessages(ctx context.Context, peerID string, limit int) ([]api.Message, error) {
	out := new(api.ListMessagesResponse)
	in := &api.ListMessagesRequest{PeerID: peerID, Limit: limit}
	if err := c.invoke(ctx, api.ChatServiceName, "ListMessages", in, out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

func (c *Client) SendMessage(ctx context.Context, peerID, content string) (*api.Message, error) {
	out := new(api.SendMessageResponse)
	in := &api.SendMessageRequest{PeerID: peerID, Content: content}
	if err := c.invoke(ctx, api.ChatServiceName, "SendMessage", in, out); err != nil {
		return nil, err
	}
	return &out.Message, nil
}

func (c *Client) SetActiveContact(ctx context.Context, peerID string) (*api.SetActiveContactResponse, error) {
	out := new(api.SetActiveContactResponse)
	return out, c.invoke(ctx, api.ChatServiceName, "SetActiveContact", &api.SetActiveContactRequest{PeerID: peerID}, out)
}

func (c *Client) SendTyping(ctx context.Context, peerID string) error {
	return c.invoke(ctx, api.ChatServiceName, "SendTyping", &api.SendTypingRequest{PeerID: peerID}, new(api.SendTypingResponse))
}

func (c *Client) LoadHistory(ctx context.Context, peerID string) (int, error) {
	out := new(api.LoadHistoryResponse)
	if err := c.invoke(ctx, api.ChatServiceName, "LoadHistory", &api.LoadHistoryRequest{PeerID: peerID}, out); err != nil {
		return 0, err
	}
	return out.Added, nil
}

// WatchEvents streams daemon events whose kind starts with namespace. The
// returned channel closes when ctx ends or the stream fails; the terminal
// error, if any, is then available from the error func.
func (c *Client) WatchEvents(ctx context.Context, namespace string) (<-chan *api.EventEnvelope, func() error, error) {
	desc := &api.SessionServiceDesc.Streams[0]
	stream, err := c.conn.NewStream(ctx, desc, api.FullMethod(api.SessionServiceName, desc.StreamName), c.opts...)
	if err != nil {
		return nil, nil, err
	}
	if err := stream.SendMsg(&api.WatchEventsRequest{Namespace: namespace}); err != nil {
		return nil, nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, nil, err
	}

	out := make(chan *api.EventEnvelope, 64)
	var streamErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer close(out)
		for {
			env := new(api.EventEnvelope)
			if err := stream.RecvMsg(env); err != nil {
				if !errors.Is(err, io.EOF) && ctx.Err() == nil {
					streamErr = err
				}
				return
			}
			select {
			case out <- env:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, func() error { <-done; return streamErr }, nil
}
