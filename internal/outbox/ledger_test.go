package outbox

import "testing"

func TestLedgerFIFO(t *testing.T) {
	var l Ledger
	l.Push(Entry{ClientID: "c1", PeerID: "p"})
	l.Push(Entry{ClientID: "c2", PeerID: "p"})
	l.Push(Entry{ClientID: "c3", PeerID: "q"})

	if e, ok := l.Ack(); !ok || e.ClientID != "c1" {
		t.Errorf("Ack() = %+v, %v, want c1", e, ok)
	}
	if e, ok := l.Reject(); !ok || e.ClientID != "c2" {
		t.Errorf("Reject() = %+v, %v, want c2", e, ok)
	}
	if l.Len() != 1 {
		t.Errorf("Len() = %d, want 1", l.Len())
	}
}

func TestLedgerEmpty(t *testing.T) {
	var l Ledger
	if _, ok := l.Ack(); ok {
		t.Error("Ack() on empty ledger reported an entry")
	}
	if _, ok := l.Reject(); ok {
		t.Error("Reject() on empty ledger reported an entry")
	}
	if got := l.Drain(); len(got) != 0 {
		t.Errorf("Drain() = %v", got)
	}
}

func TestLedgerRemove(t *testing.T) {
	var l Ledger
	l.Push(Entry{ClientID: "c1"})
	l.Push(Entry{ClientID: "c2"})

	if !l.Remove("c1") {
		t.Fatal("Remove(c1) = false")
	}
	if l.Remove("c1") {
		t.Error("second Remove(c1) = true")
	}
	if e, _ := l.Ack(); e.ClientID != "c2" {
		t.Errorf("Ack() after Remove = %s, want c2", e.ClientID)
	}
}

func TestLedgerDrain(t *testing.T) {
	var l Ledger
	l.Push(Entry{ClientID: "c1"})
	l.Push(Entry{ClientID: "c2"})

	got := l.Drain()
	if len(got) != 2 || got[0].ClientID != "c1" || got[1].ClientID != "c2" {
		t.Errorf("Drain() = %+v", got)
	}
	if l.Len() != 0 {
		t.Errorf("Len() after Drain = %d", l.Len())
	}
}
