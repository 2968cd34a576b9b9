// Package backend is the typed REST surface of the marketplace backend. Every
// call goes through the gateway so it carries the current credential and
// takes part in refresh.
package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/matheus3301/gigline/internal/gateway"
)

// Executor runs one replayable backend call.
type Executor interface {
	Execute(ctx context.Context, call gateway.Call) (*gateway.Response, error)
}

// Client issues typed backend requests.
type Client struct {
	exec Executor
}

// NewClient returns a Client that sends every request through exec.
func NewClient(exec Executor) *Client {
	return &Client{exec: exec}
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var u User
	if err := c.get(ctx, "/users/me", &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Contacts lists the user's conversation partners.
func (c *Client) Contacts(ctx context.Context) ([]Contact, error) {
	var contacts []Contact
	if err := c.get(ctx, "/chat/contacts", &contacts); err != nil {
		return nil, err
	}
	return contacts, nil
}

// History returns the stored messages exchanged with peer, oldest first.
func (c *Client) History(ctx context.Context, peer ID) ([]Message, error) {
	if peer == "" {
		return nil, fmt.Errorf("history: empty peer id")
	}
	var msgs []Message
	if err := c.get(ctx, "/chat/history/"+url.PathEscape(string(peer)), &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (c *Client) get(ctx context.Context, path string, v any) error {
	call := gateway.Call{Method: http.MethodGet, Path: path, Header: http.Header{"Accept": {"application/json"}}}
	resp, err := c.exec.Execute(ctx, call)
	if err != nil {
		return err
	}
	return resp.Decode(call, v)
}
