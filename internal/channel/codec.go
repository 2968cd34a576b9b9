package channel

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/matheus3301/gigline/internal/backend"
)

// Frame types on the wire.
const (
	typeMessage       = "message"
	typeTyping        = "typing"
	typeMessageSent   = "message_sent"
	typeError         = "error"
	typeAuthenticated = "authenticated"
	typePing          = "ping"
	typePong          = "pong"
	typeHeartbeat     = "heartbeat"
)

// inboundFrame is the union of every inbound frame's fields.
type inboundFrame struct {
	Type       string     `json:"type"`
	ID         backend.ID `json:"id"`
	SenderID   backend.ID `json:"senderId"`
	ReceiverID backend.ID `json:"receiverId"`
	Content    string     `json:"content"`
	SentAt     time.Time  `json:"sentAt"`
	PeerID     backend.ID `json:"peerId"`
	IsTyping   *bool      `json:"isTyping"`
	MessageID  backend.ID `json:"messageId"`
	Message    string     `json:"message"`
	UserID     backend.ID `json:"userId"`
}

// UnknownFrameError reports a frame type this client does not understand.
type UnknownFrameError struct {
	Type string
}

func (e *UnknownFrameError) Error() string {
	return fmt.Sprintf("unknown frame type %q", e.Type)
}

// decode parses one text frame. Keepalive frames decode to a nil Event. A
// message without sentAt is stamped with now.
func decode(data []byte, now time.Time) (Event, error) {
	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	switch f.Type {
	case typeMessage:
		if f.ID == "" || f.SenderID == "" {
			return nil, fmt.Errorf("decode frame: message without id or senderId")
		}
		sentAt := f.SentAt
		if sentAt.IsZero() {
			sentAt = now
		}
		return MessageEvent{
			ID:         f.ID.String(),
			SenderID:   f.SenderID.String(),
			ReceiverID: f.ReceiverID.String(),
			Content:    f.Content,
			SentAt:     sentAt,
		}, nil
	case typeTyping:
		if f.PeerID == "" {
			return nil, fmt.Errorf("decode frame: typing without peerId")
		}
		typing := true
		if f.IsTyping != nil {
			typing = *f.IsTyping
		}
		return TypingEvent{PeerID: f.PeerID.String(), Typing: typing}, nil
	case typeMessageSent:
		return AckEvent{MessageID: f.MessageID.String()}, nil
	case typeError:
		return ErrorEvent{Message: f.Message}, nil
	case typeAuthenticated:
		return AuthenticatedEvent{UserID: f.UserID.String()}, nil
	case typePong, typeHeartbeat:
		return nil, nil
	default:
		return nil, &UnknownFrameError{Type: f.Type}
	}
}

// Outbound is a frame the client may send.
type Outbound interface {
	frame() outboundFrame
}

// OutboundMessage sends Content to RecipientID.
type OutboundMessage struct {
	RecipientID string
	Content     string
}

// OutboundTyping tells RecipientID the user is typing.
type OutboundTyping struct {
	RecipientID string
}

type ping struct{}

type outboundFrame struct {
	Type        string `json:"type"`
	RecipientID string `json:"recipientId,omitempty"`
	Content     string `json:"content,omitempty"`
}

func (o OutboundMessage) frame() outboundFrame {
	return outboundFrame{Type: typeMessage, RecipientID: o.RecipientID, Content: o.Content}
}

func (o OutboundTyping) frame() outboundFrame {
	return outboundFrame{Type: typeTyping, RecipientID: o.RecipientID}
}

func (ping) frame() outboundFrame {
	return outboundFrame{Type: typePing}
}
