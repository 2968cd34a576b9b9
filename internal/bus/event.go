package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds. The part before the first dot is the namespace subscribers filter on.
const (
	ChannelStateChanged = "channel.state_changed"

	ContactsChanged = "conversation.contacts_changed"
	MessagesChanged = "conversation.messages_changed"
	TypingChanged   = "conversation.typing_changed"

	SessionLoggedIn   = "session.logged_in"
	SessionLoggedOut  = "session.logged_out"
	SessionRefreshed  = "session.refreshed"
	SessionTerminated = "session.terminated"

	SyncContactsLoaded = "sync.contacts_loaded"
	SyncHistoryLoaded  = "sync.history_loaded"
)
