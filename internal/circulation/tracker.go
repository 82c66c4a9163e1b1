// internal/circulation/tracker.go
package circulation

import (
	"sync"

	"github.com/google/uuid"
)

// bookState is the unit of mutual exclusion for one book: its availability,
// its open loan, its Ready slot and its Pending FIFO all change under mu.
// Operations on different books never contend.
type bookState struct {
	mu sync.Mutex

	book     Book
	openLoan *Loan

	// ready holds the single promoted reservation, if any. The Pending FIFO
	// lives in pending, ordered by reserve date then insertion sequence.
	ready   *Reservation
	pending []*Reservation
}

// isAvailable reports whether the copy has no open loan. A Ready hold is
// tracked separately in ready and keeps the copy reserved for its holder.
// Caller holds mu.
func (st *bookState) isAvailable() bool {
	return st.openLoan == nil
}

// markLoaned records l as the book's open loan. Caller holds mu.
func (st *bookState) markLoaned(l *Loan) error {
	if st.openLoan != nil {
		return ErrConflict
	}
	st.openLoan = l
	return nil
}

// markReturned clears the open loan. Caller holds mu.
func (st *bookState) markReturned() error {
	if st.openLoan == nil {
		return ErrInvalidState
	}
	st.openLoan = nil
	return nil
}

// availabilityTracker is the arena of per-book state, keyed by book id. The
// arena mutex only guards the map; each entry serializes its own mutations.
type availabilityTracker struct {
	mu    sync.RWMutex
	books map[uuid.UUID]*bookState
}

func newAvailabilityTracker() *availabilityTracker {
	return &availabilityTracker{books: make(map[uuid.UUID]*bookState)}
}

func (t *availabilityTracker) register(b Book) (*bookState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.books[b.ID]; exists {
		return nil, ErrInvalidState
	}
	st := &bookState{book: b}
	t.books[b.ID] = st
	return st, nil
}

func (t *availabilityTracker) get(id uuid.UUID) (*bookState, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.books[id]
	if !ok {
		return nil, ErrNotFound
	}
	return st, nil
}

// all returns a snapshot of the arena entries. Callers lock each entry
// individually; no two book locks are ever held at once.
func (t *availabilityTracker) all() []*bookState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	states := make([]*bookState, 0, len(t.books))
	for _, st := range t.books {
		states = append(states, st)
	}
	return states
}

func (t *availabilityTracker) count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.books)
}
