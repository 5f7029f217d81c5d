package client

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/creativecareer/ccai/internal/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client wraps the gRPC connection to the daemon.
type Client struct {
	conn *grpc.ClientConn
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
	return &Client{conn: conn}, nil
}

// NewFromConn wraps an existing connection.
func NewFromConn(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	in, err := api.ToStruct(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, api.FullMethod(method), in, out); err != nil {
		return err
	}
	if resp == nil {
		return nil
	}
	return api.FromStruct(out, resp)
}

// Status returns the session status.
func (c *Client) Status(ctx context.Context) (*api.StatusResponse, error) {
	var resp api.StatusResponse
	if err := c.invoke(ctx, api.MethodGetStatus, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Conversations lists conversations matching filter.
func (c *Client) Conversations(ctx context.Context, filter string, refresh bool) (*api.ListConversationsResponse, error) {
	var resp api.ListConversationsResponse
	req := api.ListConversationsRequest{Filter: filter, Refresh: refresh}
	if err := c.invoke(ctx, api.MethodListConversations, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Open makes id the open conversation and returns its thread.
func (c *Client) Open(ctx context.Context, id string) (*api.TimelineResponse, error) {
	var resp api.TimelineResponse
	if err := c.invoke(ctx, api.MethodOpenConversation, api.ConversationRequest{ConversationID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CloseConversation leaves the open conversation.
func (c *Client) CloseConversation(ctx context.Context) error {
	return c.invoke(ctx, api.MethodCloseConversation, nil, nil)
}

// LoadOlder prepends the previous page of the open conversation.
func (c *Client) LoadOlder(ctx context.Context) (*api.LoadOlderResponse, error) {
	var resp api.LoadOlderResponse
	if err := c.invoke(ctx, api.MethodLoadOlder, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Timeline returns the open conversation's thread. location is an IANA
// zone name; empty means the daemon's local zone.
func (c *Client) Timeline(ctx context.Context, location string) (*api.TimelineResponse, error) {
	var resp api.TimelineResponse
	if err := c.invoke(ctx, api.MethodGetTimeline, api.TimelineRequest{Location: location}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Send submits content to the open conversation.
func (c *Client) Send(ctx context.Context, content string) (string, error) {
	var resp api.SendResponse
	if err := c.invoke(ctx, api.MethodSendMessage, api.SendRequest{Content: content}, &resp); err != nil {
		return "", err
	}
	return string(resp.TempID), nil
}

// NotifyTyping reports a composer change.
func (c *Client) NotifyTyping(ctx context.Context) error {
	return c.invoke(ctx, api.MethodNotifyTyping, nil, nil)
}

// Presence returns userID's status.
func (c *Client) Presence(ctx context.Context, userID string) (*api.PresenceResponse, error) {
	var resp api.PresenceResponse
	if err := c.invoke(ctx, api.MethodGetPresence, api.PresenceRequest{UserID: userID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FailedSends lists journaled failures with the given statuses.
func (c *Client) FailedSends(ctx context.Context, statuses ...string) ([]api.FailedSend, error) {
	var resp api.FailedSendsResponse
	if err := c.invoke(ctx, api.MethodListFailedSends, api.FailedSendsRequest{Statuses: statuses}, &resp); err != nil {
		return nil, err
	}
	return resp.Sends, nil
}

// Retry queues a journaled failure for resend.
func (c *Client) Retry(ctx context.Context, tempID string) error {
	return c.invoke(ctx, api.MethodRetrySend, api.RetryRequest{TempID: tempID}, nil)
}

// EventStream receives notifications from WatchEvents.
type EventStream struct {
	stream grpc.ClientStream
}

var watchStreamDesc = &grpc.StreamDesc{
	StreamName:    api.MethodWatchEvents,
	ServerStreams: true,
}

// Watch subscribes to daemon notifications whose kind starts with one of
// prefixes. The stream ends when ctx is canceled.
func (c *Client) Watch(ctx context.Context, prefixes ...string) (*EventStream, error) {
	in, err := api.ToStruct(api.WatchRequest{Prefixes: prefixes})
	if err != nil {
		return nil, err
	}
	stream, err := c.conn.NewStream(ctx, watchStreamDesc, api.FullMethod(api.MethodWatchEvents))
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &EventStream{stream: stream}, nil
}

// Recv blocks for the next event. It returns io.EOF when the daemon ends
// the stream.
func (s *EventStream) Recv() (*api.Event, error) {
	out := new(structpb.Struct)
	if err := s.stream.RecvMsg(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, err
	}
	var evt api.Event
	if err := api.FromStruct(out, &evt); err != nil {
		return nil, err
	}
	return &evt, nil
}
