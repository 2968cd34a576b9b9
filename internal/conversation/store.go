// Package conversation holds the live chat state of the session: contacts,
// per-conversation message order, unread counters, read state and typing
// indicators. Every change is published on the bus.
package conversation

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/gigline/internal/backend"
	"github.com/matheus3301/gigline/internal/bus"
	"github.com/matheus3301/gigline/internal/channel"
	"github.com/matheus3301/gigline/internal/outbox"
	"go.uber.org/zap"
)

var (
	ErrEmptyMessage = errors.New("empty message")
	ErrNoPeer       = errors.New("no peer id")
)

// Sender writes outbound frames to the channel.
type Sender interface {
	Send(ctx context.Context, o channel.Outbound) error
}

// Config holds conversation settings.
type Config struct {
	// TypingTTL clears a typing indicator that was not refreshed. Zero
	// disables expiry.
	TypingTTL time.Duration
}

// Store is the in-memory conversation state. Inbound delivery, activation and
// merges all serialize on mu.
type Store struct {
	cfg    Config
	sender Sender
	bus    *bus.Bus
	logger *zap.Logger
	now    func() time.Time
	newID  func() string

	// sendMu keeps ledger order equal to wire order.
	sendMu sync.Mutex
	ledger outbox.Ledger

	mu        sync.Mutex
	self      string
	active    string
	contacts  map[string]*Contact
	messages  map[string][]Message
	seen      map[string]struct{}
	typing    map[string]*typingTimer
	typingGen uint64
}

type typingTimer struct {
	gen   uint64
	timer *time.Timer
}

// NewStore creates an empty Store that sends through sender.
func NewStore(cfg Config, sender Sender, b *bus.Bus, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		cfg:      cfg,
		sender:   sender,
		bus:      b,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
		contacts: make(map[string]*Contact),
		messages: make(map[string][]Message),
		seen:     make(map[string]struct{}),
		typing:   make(map[string]*typingTimer),
	}
}

// SetSelf records the local user's id, used to tell outgoing messages apart.
func (s *Store) SetSelf(id string) {
	s.mu.Lock()
	s.self = id
	s.mu.Unlock()
}

// Self returns the local user's id.
func (s *Store) Self() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self
}

// Active returns the active conversation's peer id, or "".
func (s *Store) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Send appends an optimistic outgoing message and writes it to the channel.
// If the write fails the message stays in the conversation marked failed and
// the error is returned.
func (s *Store) Send(ctx context.Context, peerID, content string) (Message, error) {
	if peerID == "" {
		return Message{}, ErrNoPeer
	}
	if strings.TrimSpace(content) == "" {
		return Message{}, ErrEmptyMessage
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	msg := Message{
		ClientID:   s.newID(),
		SenderID:   s.self,
		ReceiverID: peerID,
		Content:    content,
		SentAt:     s.now(),
		Read:       true,
		Status:     StatusPending,
	}
	c, _ := s.contactLocked(peerID)
	if s.insertLocked(peerID, msg) {
		c.LastMessagePreview, c.LastMessageAt = msg.Content, msg.SentAt
	}
	s.mu.Unlock()
	s.emit(bus.MessagesChanged, MessagesChange{PeerID: peerID})
	s.emit(bus.ContactsChanged, ContactsChange{PeerIDs: []string{peerID}})

	s.ledger.Push(outbox.Entry{ClientID: msg.ClientID, PeerID: peerID, QueuedAt: msg.SentAt})
	if err := s.sender.Send(ctx, channel.OutboundMessage{RecipientID: peerID, Content: content}); err != nil {
		s.ledger.Remove(msg.ClientID)
		s.settle(peerID, msg.ClientID, StatusFailed, "", err.Error())
		msg.Status, msg.Error = StatusFailed, err.Error()
		s.logger.Warn("send failed", zap.String("peer", peerID), zap.String("client_id", msg.ClientID), zap.Error(err))
		return msg, fmt.Errorf("send message: %w", err)
	}
	return msg, nil
}

// OnAck confirms the oldest in-flight message.
func (s *Store) OnAck(e channel.AckEvent) {
	entry, ok := s.ledger.Ack()
	if !ok {
		s.logger.Debug("ack with nothing in flight", zap.String("message_id", e.MessageID))
		return
	}
	s.settle(entry.PeerID, entry.ClientID, StatusSent, e.MessageID, "")
}

// OnSendError fails the oldest in-flight message with the server's reason.
// Error frames carry no correlation id, so one sent for a typing or unknown
// frame while a message is in flight is attributed to that message. With
// nothing in flight the frame is only logged.
func (s *Store) OnSendError(e channel.ErrorEvent) {
	entry, ok := s.ledger.Reject()
	if !ok {
		s.logger.Warn("server error with nothing in flight", zap.String("message", e.Message))
		return
	}
	s.logger.Warn("server rejected message", zap.String("client_id", entry.ClientID), zap.String("message", e.Message))
	s.settle(entry.PeerID, entry.ClientID, StatusFailed, "", e.Message)
}

// OnChannelDropped fails every in-flight message; no confirmation can arrive
// for them on a new connection.
func (s *Store) OnChannelDropped(err error) {
	reason := "channel closed"
	if err != nil {
		reason = err.Error()
	}
	for _, entry := range s.ledger.Drain() {
		s.settle(entry.PeerID, entry.ClientID, StatusFailed, "", reason)
	}
}

func (s *Store) settle(peerID, clientID string, st Status, serverID, reason string) {
	s.mu.Lock()
	msgs := s.messages[peerID]
	i := slices.IndexFunc(msgs, func(m Message) bool { return m.ClientID == clientID })
	if i < 0 || msgs[i].Status != StatusPending {
		s.mu.Unlock()
		return
	}
	msgs[i].Status, msgs[i].Error = st, reason
	if serverID != "" {
		msgs[i].ID = serverID
		s.seen[serverID] = struct{}{}
	}
	s.mu.Unlock()
	s.emit(bus.MessagesChanged, MessagesChange{PeerID: peerID})
}

// OnInbound records a message pushed by the server. Duplicate ids are
// ignored. The message is placed by SentAt; the unread counter grows unless
// the conversation is active.
func (s *Store) OnInbound(e channel.MessageEvent) {
	s.mu.Lock()
	if _, dup := s.seen[e.ID]; dup {
		s.mu.Unlock()
		return
	}
	outgoing := s.self != "" && e.SenderID == s.self
	peer := e.SenderID
	if outgoing {
		peer = e.ReceiverID
	}
	if peer == "" {
		s.mu.Unlock()
		s.logger.Warn("inbound message without peer", zap.String("message_id", e.ID))
		return
	}

	c, _ := s.contactLocked(peer)
	msg := Message{
		ID:         e.ID,
		SenderID:   e.SenderID,
		ReceiverID: e.ReceiverID,
		Content:    e.Content,
		SentAt:     e.SentAt,
		Read:       outgoing || peer == s.active,
		Status:     StatusReceived,
	}
	if outgoing {
		msg.Status = StatusSent
	}
	s.seen[e.ID] = struct{}{}
	if s.insertLocked(peer, msg) {
		c.LastMessagePreview, c.LastMessageAt = msg.Content, msg.SentAt
	}
	if !outgoing && peer != s.active {
		c.UnreadCount++
	}
	typingCleared := !outgoing && s.clearTypingLocked(peer)
	s.mu.Unlock()

	s.emit(bus.MessagesChanged, MessagesChange{PeerID: peer})
	s.emit(bus.ContactsChanged, ContactsChange{PeerIDs: []string{peer}})
	if typingCleared {
		s.emit(bus.TypingChanged, TypingChange{PeerID: peer, Typing: false})
	}
}

// SetActiveContact makes peerID the active conversation, clearing its unread
// counter and marking its messages read. An empty id clears the active
// conversation.
func (s *Store) SetActiveContact(peerID string) {
	s.mu.Lock()
	s.active = peerID
	if peerID != "" {
		c, _ := s.contactLocked(peerID)
		c.UnreadCount = 0
		msgs := s.messages[peerID]
		for i := range msgs {
			msgs[i].Read = true
		}
	}
	s.mu.Unlock()

	if peerID != "" {
		s.emit(bus.ContactsChanged, ContactsChange{PeerIDs: []string{peerID}})
		s.emit(bus.MessagesChanged, MessagesChange{PeerID: peerID})
	}
}

// SendTyping tells peerID the user is typing. Nothing is tracked; the error
// is informational.
func (s *Store) SendTyping(ctx context.Context, peerID string) error {
	if peerID == "" {
		return ErrNoPeer
	}
	return s.sender.Send(ctx, channel.OutboundTyping{RecipientID: peerID})
}

// MergeContacts folds a contact listing fetched over REST into the store.
// Local unread counters win for contacts already known.
func (s *Store) MergeContacts(list []backend.Contact) {
	changed := make([]string, 0, len(list))
	s.mu.Lock()
	for _, bc := range list {
		id := bc.ID.String()
		if id == "" {
			continue
		}
		c, created := s.contactLocked(id)
		if bc.DisplayName != "" {
			c.DisplayName = bc.DisplayName
		}
		c.AvatarRef = bc.AvatarRef
		c.Online = bc.Online
		if created && id != s.active {
			c.UnreadCount = max(bc.UnreadCount, 0)
		}
		if bc.LastMessageAt.After(c.LastMessageAt) {
			c.LastMessagePreview, c.LastMessageAt = bc.LastMessagePreview, bc.LastMessageAt
		}
		changed = append(changed, id)
	}
	s.mu.Unlock()
	if len(changed) > 0 {
		s.emit(bus.ContactsChanged, ContactsChange{PeerIDs: changed})
	}
}

// MergeHistory folds stored messages with peerID into the conversation. It
// never touches unread counters. Returns how many messages were new.
func (s *Store) MergeHistory(peerID string, msgs []backend.Message) int {
	if peerID == "" {
		return 0
	}
	added := 0
	s.mu.Lock()
	c, _ := s.contactLocked(peerID)
	for _, bm := range msgs {
		id := bm.ID.String()
		if _, dup := s.seen[id]; dup || id == "" {
			continue
		}
		outgoing := s.self != "" && bm.SenderID.String() == s.self
		m := Message{
			ID:         id,
			SenderID:   bm.SenderID.String(),
			ReceiverID: bm.ReceiverID.String(),
			Content:    bm.Content,
			SentAt:     bm.SentAt,
			Read:       bm.Read || outgoing || peerID == s.active,
			Status:     StatusReceived,
		}
		if outgoing {
			m.Status = StatusSent
		}
		s.seen[id] = struct{}{}
		if s.insertLocked(peerID, m) {
			c.LastMessagePreview, c.LastMessageAt = m.Content, m.SentAt
		}
		added++
	}
	s.mu.Unlock()

	if added > 0 {
		s.emit(bus.MessagesChanged, MessagesChange{PeerID: peerID})
		s.emit(bus.ContactsChanged, ContactsChange{PeerIDs: []string{peerID}})
	}
	return added
}

// Contacts returns every contact, most recent conversation first.
func (s *Store) Contacts() []Contact {
	s.mu.Lock()
	out := make([]Contact, 0, len(s.contacts))
	for _, c := range s.contacts {
		out = append(out, *c)
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b Contact) int {
		if c := b.LastMessageAt.Compare(a.LastMessageAt); c != 0 {
			return c
		}
		if c := cmp.Compare(a.DisplayName, b.DisplayName); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Contact returns one contact.
func (s *Store) Contact(peerID string) (Contact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[peerID]
	if !ok {
		return Contact{}, false
	}
	return *c, true
}

// Messages returns the conversation with peerID ordered by SentAt.
func (s *Store) Messages(peerID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.messages[peerID])
}

// Typing reports whether peerID is currently typing.
func (s *Store) Typing(peerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[peerID]
	return ok && c.Typing
}

// Reset drops all state. Used when the session ends.
func (s *Store) Reset() {
	pending := s.ledger.Drain()
	s.mu.Lock()
	for _, t := range s.typing {
		t.timer.Stop()
	}
	s.self, s.active = "", ""
	s.contacts = make(map[string]*Contact)
	s.messages = make(map[string][]Message)
	s.seen = make(map[string]struct{})
	s.typing = make(map[string]*typingTimer)
	s.mu.Unlock()

	if len(pending) > 0 {
		s.logger.Info("dropped in-flight messages on reset", zap.Int("count", len(pending)))
	}
	s.emit(bus.ContactsChanged, ContactsChange{})
}

// contactLocked returns the contact for id, creating it if unknown.
func (s *Store) contactLocked(id string) (*Contact, bool) {
	if c, ok := s.contacts[id]; ok {
		return c, false
	}
	c := &Contact{ID: id}
	s.contacts[id] = c
	return c, true
}

// insertLocked places m after every message with SentAt <= m.SentAt, so ties
// keep arrival order. It reports whether m is now the latest message.
func (s *Store) insertLocked(peerID string, m Message) bool {
	msgs := s.messages[peerID]
	i := sort.Search(len(msgs), func(i int) bool { return msgs[i].SentAt.After(m.SentAt) })
	msgs = slices.Insert(msgs, i, m)
	s.messages[peerID] = msgs
	return i == len(msgs)-1
}

func (s *Store) emit(kind string, payload any) {
	if s.bus != nil {
		s.bus.Emit(kind, payload)
	}
}
