// Package outbox tracks locally-originated messages that were written to the
// channel but not yet confirmed. The server acknowledges sends in the order it
// received them and without echoing a client id, so confirmation is matched
// FIFO against the oldest in-flight entry.
package outbox

import (
	"slices"
	"sync"
	"time"
)

// Entry is one in-flight message.
type Entry struct {
	ClientID string
	PeerID   string
	QueuedAt time.Time
}

// Ledger is a FIFO of in-flight messages. The zero value is ready to use.
type Ledger struct {
	mu    sync.Mutex
	queue []Entry
}

// Push records e as written to the wire. Pushes must happen in write order.
func (l *Ledger) Push(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.queue = append(l.queue, e)
}

// Remove drops the entry for clientID, used when the write itself failed.
func (l *Ledger) Remove(clientID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := slices.IndexFunc(l.queue, func(e Entry) bool { return e.ClientID == clientID })
	if i < 0 {
		return false
	}
	l.queue = slices.Delete(l.queue, i, i+1)
	return true
}

// Ack pops the oldest entry as confirmed by the server.
func (l *Ledger) Ack() (Entry, bool) {
	return l.pop()
}

// Reject pops the oldest entry as refused by the server.
func (l *Ledger) Reject() (Entry, bool) {
	return l.pop()
}

// Drain removes and returns every entry, oldest first. Used when the channel
// drops and no confirmation can arrive.
func (l *Ledger) Drain() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.queue
	l.queue = nil
	return out
}

// Len returns the number of in-flight entries.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

func (l *Ledger) pop() (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return Entry{}, false
	}
	e := l.queue[0]
	l.queue = l.queue[1:]
	return e, true
}
