package sync

import gosync "sync"

// Reconciler remembers which conversations had their history loaded during
// the current session.
type Reconciler struct {
	mu     gosync.Mutex
	loaded map[string]struct{}
}

// NewReconciler creates a new reconciler.
func NewReconciler() *Reconciler {
	return &Reconciler{loaded: make(map[string]struct{})}
}

// MarkLoaded records that peerID's history was merged.
func (r *Reconciler) MarkLoaded(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaded[peerID] = struct{}{}
}

// Loaded reports whether peerID's history was merged.
func (r *Reconciler) Loaded(peerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.loaded[peerID]
	return ok
}

// Reset forgets every checkpoint.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaded = make(map[string]struct{})
}
