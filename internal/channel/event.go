package channel

import "time"

// Event is an inbound channel event. The set of kinds is closed: every kind
// has a method on Handler, so adding one breaks every handler until it is
// handled.
type Event interface {
	accept(Handler)
}

// Handler receives inbound events, one method per kind.
type Handler interface {
	HandleMessage(MessageEvent)
	HandleTyping(TypingEvent)
	HandleAck(AckEvent)
	HandleError(ErrorEvent)
	HandleAuthenticated(AuthenticatedEvent)
	HandleClosed(ClosedEvent)
}

// Dispatch routes e to the matching Handler method.
func Dispatch(e Event, h Handler) {
	e.accept(h)
}

// MessageEvent is a chat message delivered to the user.
type MessageEvent struct {
	ID         string
	SenderID   string
	ReceiverID string
	Content    string
	SentAt     time.Time
}

// TypingEvent reports that PeerID started or stopped typing.
type TypingEvent struct {
	PeerID string
	Typing bool
}

// AckEvent confirms the oldest in-flight outbound message was stored under
// MessageID.
type AckEvent struct {
	MessageID string
}

// ErrorEvent is a server-side rejection of the oldest in-flight outbound
// message.
type ErrorEvent struct {
	Message string
}

// AuthenticatedEvent is the server's greeting after a successful handshake.
type AuthenticatedEvent struct {
	UserID string
}

// ClosedEvent is the last event of a stream that ended by failure. Err is
// ErrChannelRejected or a *TransientError. Streams ended by Close carry no
// ClosedEvent.
type ClosedEvent struct {
	Err error
}

func (e MessageEvent) accept(h Handler)       { h.HandleMessage(e) }
func (e TypingEvent) accept(h Handler)        { h.HandleTyping(e) }
func (e AckEvent) accept(h Handler)           { h.HandleAck(e) }
func (e ErrorEvent) accept(h Handler)         { h.HandleError(e) }
func (e AuthenticatedEvent) accept(h Handler) { h.HandleAuthenticated(e) }
func (e ClosedEvent) accept(h Handler)        { h.HandleClosed(e) }
