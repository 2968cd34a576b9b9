package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// ID is a backend identifier. The backend emits integer ids; ID accepts both
// JSON numbers and strings so the client never has to care.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// User is the account behind the current credential.
type User struct {
	ID       ID     `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
	IsActive bool   `json:"is_active"`
}

// Contact is a conversation partner as listed by the backend.
type Contact struct {
	ID                 ID        `json:"id"`
	DisplayName        string    `json:"displayName"`
	AvatarRef          string    `json:"avatarRef"`
	Online             bool      `json:"online"`
	UnreadCount        int       `json:"unreadCount"`
	LastMessagePreview string    `json:"lastMessagePreview"`
	LastMessageAt      time.Time `json:"lastMessageAt"`
}

// Message is one stored message of a conversation history.
type Message struct {
	ID         ID        `json:"id"`
	SenderID   ID        `json:"senderId"`
	ReceiverID ID        `json:"receiverId"`
	Content    string    `json:"content"`
	SentAt     time.Time `json:"sentAt"`
	Read       bool      `json:"read"`
}
