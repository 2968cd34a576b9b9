package conversation

import "time"

// Status is the delivery state of a message.
type Status string

const (
	StatusPending  Status = "pending"
	StatusSent     Status = "sent"
	StatusFailed   Status = "failed"
	StatusReceived Status = "received"
)

// Contact is a conversation partner with its per-conversation counters.
type Contact struct {
	ID                 string
	DisplayName        string
	AvatarRef          string
	Online             bool
	UnreadCount        int
	LastMessagePreview string
	LastMessageAt      time.Time
	Typing             bool
}

// Message is one message in a conversation. Locally-originated messages carry
// a ClientID from creation and gain an ID once the server acknowledges them.
type Message struct {
	ID         string
	ClientID   string
	SenderID   string
	ReceiverID string
	Content    string
	SentAt     time.Time
	Read       bool
	Status     Status
	Error      string
}

// Key identifies m within its conversation.
func (m Message) Key() string {
	if m.ClientID != "" {
		return m.ClientID
	}
	return m.ID
}

// ContactsChange is the payload of bus.ContactsChanged.
type ContactsChange struct {
	PeerIDs []string
}

// MessagesChange is the payload of bus.MessagesChanged.
type MessagesChange struct {
	PeerID string
}

// TypingChange is the payload of bus.TypingChanged.
type TypingChange struct {
	PeerID string
	Typing bool
}
