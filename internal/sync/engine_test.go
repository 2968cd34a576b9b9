package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/matheus3301/gigline/internal/backend"
	"github.com/matheus3301/gigline/internal/bus"
	"github.com/matheus3301/gigline/internal/channel"
	"github.com/matheus3301/gigline/internal/conversation"
	"github.com/matheus3301/gigline/internal/gateway"
)

type nopSender struct{}

func (nopSender) Send(context.Context, channel.Outbound) error { return nil }

type fakeFetcher struct {
	contacts []backend.Contact
	history  map[backend.ID][]backend.Message
	err      error
	calls    int
}

func (f *fakeFetcher) Contacts(context.Context) ([]backend.Contact, error) {
	f.calls++
	return f.contacts, f.err
}

func (f *fakeFetcher) History(_ context.Context, peer backend.ID) ([]backend.Message, error) {
	f.calls++
	return f.history[peer], f.err
}

func newEngine(t *testing.T, f *fakeFetcher) (*Engine, *conversation.Store, *bus.Bus) {
	t.Helper()
	b := bus.New()
	conv := conversation.NewStore(conversation.Config{}, nopSender{}, b, nil)
	return NewEngine(conv, f, b, nil), conv, b
}

func TestRunRoutesEvents(t *testing.T) {
	f := &fakeFetcher{contacts: []backend.Contact{{ID: "2", DisplayName: "Bob"}}}
	e, conv, b := newEngine(t, f)
	loaded, unsub := b.Subscribe(bus.SyncContactsLoaded, 1)
	defer unsub()

	var closedErr error
	e.OnClosed(func(err error) { closedErr = err })

	drop := &channel.TransientError{Op: "read", Err: errors.New("reset")}
	events := make(chan channel.Event, 8)
	events <- channel.AuthenticatedEvent{UserID: "7"}
	events <- channel.MessageEvent{ID: "m1", SenderID: "2", ReceiverID: "7", Content: "hi", SentAt: time.Now()}
	events <- channel.TypingEvent{PeerID: "3", Typing: true}
	events <- channel.ClosedEvent{Err: drop}
	close(events)

	e.Run(context.Background(), events)

	if conv.Self() != "7" {
		t.Errorf("Self() = %q, want 7", conv.Self())
	}
	if msgs := conv.Messages("2"); len(msgs) != 1 || msgs[0].Content != "hi" {
		t.Errorf("messages = %+v", msgs)
	}
	if !conv.Typing("3") {
		t.Error("typing event not routed")
	}
	if !errors.Is(closedErr, drop) {
		t.Errorf("OnClosed got %v", closedErr)
	}

	select {
	case evt := <-loaded:
		if evt.Payload.(ContactsLoaded).Count != 1 {
			t.Errorf("payload = %#v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("authenticated event did not bootstrap contacts")
	}
	if c, ok := conv.Contact("2"); !ok || c.DisplayName != "Bob" {
		t.Errorf("contact 2 = %+v", c)
	}
}

func TestRunStopsOnContextAndDrains(t *testing.T) {
	e, _, _ := newEngine(t, &fakeFetcher{})
	events := make(chan channel.Event)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		e.Run(ctx, events)
		close(done)
	}()
	cancel()
	// The producer can still hand over events until it closes the stream.
	events <- channel.TypingEvent{PeerID: "2", Typing: true}
	close(events)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestLoadHistory(t *testing.T) {
	f := &fakeFetcher{history: map[backend.ID][]backend.Message{
		"2": {
			{ID: "m1", SenderID: "2", ReceiverID: "7", Content: "old", SentAt: time.Unix(1, 0)},
			{ID: "m2", SenderID: "7", ReceiverID: "2", Content: "reply", SentAt: time.Unix(2, 0)},
		},
	}}
	e, conv, b := newEngine(t, f)
	conv.SetSelf("7")
	loaded, unsub := b.Subscribe(bus.SyncHistoryLoaded, 1)
	defer unsub()

	added, err := e.LoadHistory(context.Background(), "2")
	if err != nil {
		t.Fatal(err)
	}
	if added != 2 || len(conv.Messages("2")) != 2 {
		t.Errorf("added = %d, messages = %d", added, len(conv.Messages("2")))
	}
	if evt := <-loaded; evt.Payload.(HistoryLoaded).PeerID != "2" {
		t.Errorf("payload = %#v", evt.Payload)
	}
}

func TestEnsureHistoryLoadsOnce(t *testing.T) {
	f := &fakeFetcher{history: map[backend.ID][]backend.Message{}}
	e, _, _ := newEngine(t, f)

	for range 3 {
		if err := e.EnsureHistory(context.Background(), "2"); err != nil {
			t.Fatal(err)
		}
	}
	if f.calls != 1 {
		t.Errorf("fetches = %d, want 1", f.calls)
	}

	e.Reset()
	if err := e.EnsureHistory(context.Background(), "2"); err != nil {
		t.Fatal(err)
	}
	if f.calls != 2 {
		t.Errorf("fetches after Reset = %d, want 2", f.calls)
	}
}

func TestFailedHistoryIsRetried(t *testing.T) {
	f := &fakeFetcher{err: gateway.ErrUnauthenticated}
	e, _, _ := newEngine(t, f)

	err := e.EnsureHistory(context.Background(), "2")
	if !errors.Is(err, gateway.ErrUnauthenticated) {
		t.Fatalf("error = %v, want wrapped ErrUnauthenticated", err)
	}
	f.err = nil
	if err := e.EnsureHistory(context.Background(), "2"); err != nil {
		t.Fatal(err)
	}
	if f.calls != 2 {
		t.Errorf("fetches = %d, want 2", f.calls)
	}
	if _, err := e.LoadContacts(context.Background()); err != nil {
		t.Fatal(err)
	}
}
