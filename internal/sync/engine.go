// Package sync routes channel events into the conversation store and ingests
// contacts and history fetched over REST.
package sync

import (
	"context"
	"fmt"

	"github.com/matheus3301/gigline/internal/backend"
	"github.com/matheus3301/gigline/internal/bus"
	"github.com/matheus3301/gigline/internal/channel"
	"go.uber.org/zap"
)

// Sink is the conversation state the engine feeds.
type Sink interface {
	SetSelf(id string)
	OnInbound(channel.MessageEvent)
	OnTyping(channel.TypingEvent)
	OnAck(channel.AckEvent)
	OnSendError(channel.ErrorEvent)
	OnChannelDropped(err error)
	MergeContacts([]backend.Contact)
	MergeHistory(peerID string, msgs []backend.Message) int
}

// Fetcher loads conversation data over REST.
type Fetcher interface {
	Contacts(ctx context.Context) ([]backend.Contact, error)
	History(ctx context.Context, peer backend.ID) ([]backend.Message, error)
}

// ContactsLoaded is the payload of bus.SyncContactsLoaded.
type ContactsLoaded struct {
	Count int
}

// HistoryLoaded is the payload of bus.SyncHistoryLoaded.
type HistoryLoaded struct {
	PeerID string
	Added  int
}

// Engine consumes one channel stream at a time.
type Engine struct {
	sink       Sink
	fetch      Fetcher
	bus        *bus.Bus
	logger     *zap.Logger
	reconciler *Reconciler
	onClosed   func(error)
}

// NewEngine creates a new sync engine.
func NewEngine(sink Sink, fetch Fetcher, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		sink:       sink,
		fetch:      fetch,
		bus:        b,
		logger:     logger,
		reconciler: NewReconciler(),
	}
}

// OnClosed registers fn to run when a stream ends by failure. It is not
// called for streams ended by an explicit close.
func (e *Engine) OnClosed(fn func(error)) {
	e.onClosed = fn
}

// Run dispatches every event of the stream until it closes or ctx ends.
// The stream is drained after ctx ends so the producer never blocks.
func (e *Engine) Run(ctx context.Context, events <-chan channel.Event) {
	r := &router{engine: e, ctx: ctx}
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}
			channel.Dispatch(evt, r)
		case <-ctx.Done():
			for range events {
			}
			return
		}
	}
}

// LoadContacts fetches the contact list and merges it.
func (e *Engine) LoadContacts(ctx context.Context) (int, error) {
	contacts, err := e.fetch.Contacts(ctx)
	if err != nil {
		return 0, fmt.Errorf("load contacts: %w", err)
	}
	e.sink.MergeContacts(contacts)
	e.logger.Info("contacts loaded", zap.Int("count", len(contacts)))
	e.emit(bus.SyncContactsLoaded, ContactsLoaded{Count: len(contacts)})
	return len(contacts), nil
}

// LoadHistory fetches the stored conversation with peerID and merges it.
func (e *Engine) LoadHistory(ctx context.Context, peerID string) (int, error) {
	msgs, err := e.fetch.History(ctx, backend.ID(peerID))
	if err != nil {
		return 0, fmt.Errorf("load history for %s: %w", peerID, err)
	}
	added := e.sink.MergeHistory(peerID, msgs)
	e.reconciler.MarkLoaded(peerID)
	e.logger.Info("history loaded", zap.String("peer", peerID), zap.Int("fetched", len(msgs)), zap.Int("added", added))
	e.emit(bus.SyncHistoryLoaded, HistoryLoaded{PeerID: peerID, Added: added})
	return added, nil
}

// EnsureHistory loads peerID's history unless it was already loaded this
// session.
func (e *Engine) EnsureHistory(ctx context.Context, peerID string) error {
	if peerID == "" || e.reconciler.Loaded(peerID) {
		return nil
	}
	_, err := e.LoadHistory(ctx, peerID)
	return err
}

// Reset forgets which histories were loaded.
func (e *Engine) Reset() {
	e.reconciler.Reset()
}

func (e *Engine) emit(kind string, payload any) {
	if e.bus != nil {
		e.bus.Emit(kind, payload)
	}
}

// router adapts one Run's context onto channel.Handler.
type router struct {
	engine *Engine
	ctx    context.Context
}

func (r *router) HandleMessage(m channel.MessageEvent) { r.engine.sink.OnInbound(m) }
func (r *router) HandleTyping(t channel.TypingEvent)   { r.engine.sink.OnTyping(t) }
func (r *router) HandleAck(a channel.AckEvent)         { r.engine.sink.OnAck(a) }
func (r *router) HandleError(e channel.ErrorEvent)     { r.engine.sink.OnSendError(e) }

// HandleAuthenticated records the local user and bootstraps the contact list.
func (r *router) HandleAuthenticated(a channel.AuthenticatedEvent) {
	if a.UserID != "" {
		r.engine.sink.SetSelf(a.UserID)
	}
	go func() {
		if _, err := r.engine.LoadContacts(r.ctx); err != nil && r.ctx.Err() == nil {
			r.engine.logger.Warn("contact bootstrap failed", zap.Error(err))
		}
	}()
}

func (r *router) HandleClosed(c channel.ClosedEvent) {
	r.engine.sink.OnChannelDropped(c.Err)
	if r.engine.onClosed != nil {
		r.engine.onClosed(c.Err)
	}
}
