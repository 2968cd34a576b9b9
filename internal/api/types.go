package api

import (
	"encoding/json"
	"time"

	"github.com/matheus3301/gigline/internal/conversation"
)

type StatusRequest struct{}

type StatusResponse struct {
	Profile           string `json:"profile"`
	LoggedIn          bool   `json:"logged_in"`
	UserID            string `json:"user_id,omitempty"`
	Email             string `json:"email,omitempty"`
	DisplayName       string `json:"display_name,omitempty"`
	Fingerprint       string `json:"fingerprint,omitempty"`
	ExpiresAtUnixMs   int64  `json:"expires_at_unix_ms,omitempty"`
	Channel           string `json:"channel"`
	ChannelError      string `json:"channel_error,omitempty"`
	Terminated        bool   `json:"terminated"`
	TerminationReason string `json:"termination_reason,omitempty"`
	UptimeMs          int64  `json:"uptime_ms"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse reports the logged-in user. ConnectError is set when the
// login succeeded but the channel could not be opened.
type LoginResponse struct {
	UserID       string `json:"user_id"`
	Email        string `json:"email"`
	DisplayName  string `json:"display_name,omitempty"`
	ConnectError string `json:"connect_error,omitempty"`
}

type LogoutRequest struct{}

type LogoutResponse struct{}

type ConnectRequest struct{}

type ConnectResponse struct {
	Channel string `json:"channel"`
}

type DisconnectRequest struct{}

type DisconnectResponse struct{}

// WatchEventsRequest filters the event stream by kind prefix. An empty
// namespace streams every event.
type WatchEventsRequest struct {
	Namespace string `json:"namespace,omitempty"`
}

type EventEnvelope struct {
	EventID          string          `json:"event_id"`
	Profile          string          `json:"profile"`
	Kind             string          `json:"kind"`
	OccurredAtUnixMs int64           `json:"occurred_at_unix_ms"`
	Payload          json.RawMessage `json:"payload,omitempty"`
}

type ListContactsRequest struct{}

type ListContactsResponse struct {
	Contacts []Contact `json:"contacts"`
}

type Contact struct {
	ID                  string `json:"id"`
	DisplayName         string `json:"display_name,omitempty"`
	AvatarRef           string `json:"avatar_ref,omitempty"`
	Online              bool   `json:"online"`
	UnreadCount         int    `json:"unread_count"`
	LastMessagePreview  string `json:"last_message_preview,omitempty"`
	LastMessageAtUnixMs int64  `json:"last_message_at_unix_ms,omitempty"`
	Typing              bool   `json:"typing"`
}

type ListMessagesRequest struct {
	PeerID string `json:"peer_id"`
	Limit  int    `json:"limit,omitempty"`
}

type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
}

type Message struct {
	ID           string `json:"id,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
	SenderID     string `json:"sender_id"`
	ReceiverID   string `json:"receiver_id"`
	Content      string `json:"content"`
	SentAtUnixMs int64  `json:"sent_at_unix_ms"`
	Read         bool   `json:"read"`
	Status       string `json:"status"`
	Error        string `json:"error,omitempty"`
}

type SendMessageRequest struct {
	PeerID  string `json:"peer_id"`
	Content string `json:"content"`
}

type SendMessageResponse struct {
	Message Message `json:"message"`
}

type SetActiveContactRequest struct {
	PeerID string `json:"peer_id"`
}

// SetActiveContactResponse carries HistoryError when the conversation was
// activated but its history could not be fetched.
type SetActiveContactResponse struct {
	HistoryError string `json:"history_error,omitempty"`
}

type SendTypingRequest struct {
	PeerID string `json:"peer_id"`
}

type SendTypingResponse struct{}

type LoadHistoryRequest struct {
	PeerID string `json:"peer_id"`
}

type LoadHistoryResponse struct {
	Added int `json:"added"`
}

func unixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func contactToWire(c conversation.Contact) Contact {
	return Contact{
		ID:                  c.ID,
		DisplayName:         c.DisplayName,
		AvatarRef:           c.AvatarRef,
		Online:              c.Online,
		UnreadCount:         c.UnreadCount,
		LastMessagePreview:  c.LastMessagePreview,
		LastMessageAtUnixMs: unixMs(c.LastMessageAt),
		Typing:              c.Typing,
	}
}

func messageToWire(m conversation.Message) Message {
	return Message{
		ID:           m.ID,
		ClientID:     m.ClientID,
		SenderID:     m.SenderID,
		ReceiverID:   m.ReceiverID,
		Content:      m.Content,
		SentAtUnixMs: unixMs(m.SentAt),
		Read:         m.Read,
		Status:       string(m.Status),
		Error:        m.Error,
	}
}
