package conversation

import (
	"time"

	"github.com/matheus3301/gigline/internal/bus"
	"github.com/matheus3301/gigline/internal/channel"
)

// OnTyping records a typing indicator from a peer. A started indicator
// expires after TypingTTL unless refreshed.
func (s *Store) OnTyping(e channel.TypingEvent) {
	s.mu.Lock()
	if e.PeerID == "" || e.PeerID == s.self {
		s.mu.Unlock()
		return
	}
	var changed bool
	if e.Typing {
		c, _ := s.contactLocked(e.PeerID)
		changed = !c.Typing
		c.Typing = true
		s.armTypingLocked(e.PeerID)
	} else {
		changed = s.clearTypingLocked(e.PeerID)
	}
	s.mu.Unlock()

	if changed {
		s.emit(bus.TypingChanged, TypingChange{PeerID: e.PeerID, Typing: e.Typing})
	}
}

// armTypingLocked (re)starts the expiry timer for peerID.
func (s *Store) armTypingLocked(peerID string) {
	if t, ok := s.typing[peerID]; ok {
		t.timer.Stop()
		delete(s.typing, peerID)
	}
	if s.cfg.TypingTTL <= 0 {
		return
	}
	s.typingGen++
	gen := s.typingGen
	s.typing[peerID] = &typingTimer{
		gen:   gen,
		timer: time.AfterFunc(s.cfg.TypingTTL, func() { s.expireTyping(peerID, gen) }),
	}
}

// clearTypingLocked clears peerID's indicator and reports whether it was set.
func (s *Store) clearTypingLocked(peerID string) bool {
	if t, ok := s.typing[peerID]; ok {
		t.timer.Stop()
		delete(s.typing, peerID)
	}
	c, ok := s.contacts[peerID]
	if !ok || !c.Typing {
		return false
	}
	c.Typing = false
	return true
}

func (s *Store) expireTyping(peerID string, gen uint64) {
	s.mu.Lock()
	t, ok := s.typing[peerID]
	if !ok || t.gen != gen {
		// Refreshed or cleared since this timer was armed.
		s.mu.Unlock()
		return
	}
	changed := s.clearTypingLocked(peerID)
	s.mu.Unlock()

	if changed {
		s.emit(bus.TypingChanged, TypingChange{PeerID: peerID, Typing: false})
	}
}
