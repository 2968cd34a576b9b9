package backend

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/matheus3301/gigline/internal/gateway"
)

type fakeExec struct {
	calls []gateway.Call
	resp  map[string]*gateway.Response
	err   error
}

func (f *fakeExec) Execute(_ context.Context, call gateway.Call) (*gateway.Response, error) {
	f.calls = append(f.calls, call)
	if f.err != nil {
		return nil, f.err
	}
	if r, ok := f.resp[call.Path]; ok {
		return r, nil
	}
	return &gateway.Response{StatusCode: http.StatusNotFound}, nil
}

func ok(body string) *gateway.Response {
	return &gateway.Response{StatusCode: http.StatusOK, Body: []byte(body)}
}

func TestMe(t *testing.T) {
	exec := &fakeExec{resp: map[string]*gateway.Response{
		"/users/me": ok(`{"id":7,"email":"alice@example.com","full_name":"Alice","role":"client","is_active":true}`),
	}}
	u, err := NewClient(exec).Me(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if u.ID != "7" || u.Email != "alice@example.com" || u.FullName != "Alice" {
		t.Errorf("Me() = %+v", u)
	}
	if exec.calls[0].Method != http.MethodGet {
		t.Errorf("method = %s", exec.calls[0].Method)
	}
}

func TestContacts(t *testing.T) {
	exec := &fakeExec{resp: map[string]*gateway.Response{
		"/chat/contacts": ok(`[{"id":"2","displayName":"Bob","online":true,"unreadCount":3}]`),
	}}
	contacts, err := NewClient(exec).Contacts(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(contacts) != 1 || contacts[0].ID != "2" || !contacts[0].Online || contacts[0].UnreadCount != 3 {
		t.Errorf("Contacts() = %+v", contacts)
	}
}

func TestHistoryEscapesPeer(t *testing.T) {
	exec := &fakeExec{resp: map[string]*gateway.Response{
		"/chat/history/a%2Fb": ok(`[{"id":1,"senderId":2,"receiverId":7,"content":"hi","sentAt":"2026-01-01T10:00:00Z"}]`),
	}}
	msgs, err := NewClient(exec).History(context.Background(), "a/b")
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	if len(msgs) != 1 || msgs[0].SenderID != "2" || !msgs[0].SentAt.Equal(want) {
		t.Errorf("History() = %+v", msgs)
	}

	if _, err := NewClient(exec).History(context.Background(), ""); err == nil {
		t.Error("History(\"\") should fail")
	}
}

func TestNon2xxIsStatusError(t *testing.T) {
	exec := &fakeExec{resp: map[string]*gateway.Response{
		"/chat/contacts": {StatusCode: http.StatusInternalServerError, Body: []byte("boom")},
	}}
	_, err := NewClient(exec).Contacts(context.Background())
	var se *gateway.StatusError
	if !errors.As(err, &se) || se.StatusCode != 500 || se.Body != "boom" {
		t.Errorf("error = %v, want StatusError 500", err)
	}
}

func TestExecutorErrorPassesThrough(t *testing.T) {
	exec := &fakeExec{err: gateway.ErrUnauthenticated}
	if _, err := NewClient(exec).Me(context.Background()); !errors.Is(err, gateway.ErrUnauthenticated) {
		t.Errorf("error = %v, want ErrUnauthenticated", err)
	}
}

func TestIDUnmarshal(t *testing.T) {
	tests := []struct {
		in   string
		want ID
	}{
		{`7`, "7"},
		{`"u-7"`, "u-7"},
		{`null`, ""},
	}
	for _, tt := range tests {
		var id ID
		if err := id.UnmarshalJSON([]byte(tt.in)); err != nil {
			t.Errorf("UnmarshalJSON(%s): %v", tt.in, err)
			continue
		}
		if id != tt.want {
			t.Errorf("UnmarshalJSON(%s) = %q, want %q", tt.in, id, tt.want)
		}
	}
	var id ID
	if err := id.UnmarshalJSON([]byte(`{}`)); err == nil {
		t.Error("UnmarshalJSON({}) should fail")
	}
}
