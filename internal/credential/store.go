package credential

import "sync"

// Store persists the current Credential. All methods are synchronous and do
// no network I/O.
//
// Get never fails: when the medium cannot be read it reports absent, so a
// broken store degrades to a logged-out session rather than an error path.
type Store interface {
	Get() (Credential, bool)
	Set(Credential) error
	Clear() error
}

// MemoryStore is a Store that lives only as long as the process.
type MemoryStore struct {
	mu   sync.RWMutex
	cred Credential
	ok   bool
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Get() (Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred, s.ok
}

func (s *MemoryStore) Set(c Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred, s.ok = c, c.Valid()
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred, s.ok = Credential{}, false
	return nil
}
