// internal/circulation/queue.go
package circulation

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// reservationQueue owns every reservation record. The per-book FIFO slices
// live in bookState and change only under the book lock; the queue mutex
// guards the index map and the mutable fields (Status, ExpiryDate) so that
// list reads never race with a transition on another goroutine. Lock order is
// always book then queue.
type reservationQueue struct {
	mu           sync.RWMutex
	reservations map[uuid.UUID]*Reservation
	seq          atomic.Uint64
}

func newReservationQueue() *reservationQueue {
	return &reservationQueue{reservations: make(map[uuid.UUID]*Reservation)}
}

// enqueue appends a Pending reservation to the book's FIFO. Caller holds the
// book lock. A member may hold at most one Pending or Ready reservation per
// book.
func (q *reservationQueue) enqueue(st *bookState, memberID uuid.UUID, now time.Time) (Reservation, error) {
	if st.ready != nil && st.ready.MemberID == memberID {
		return Reservation{}, ErrDuplicateReservation
	}
	for _, r := range st.pending {
		if r.MemberID == memberID {
			return Reservation{}, ErrDuplicateReservation
		}
	}

	res := &Reservation{
		ID:          uuid.New(),
		BookID:      st.book.ID,
		MemberID:    memberID,
		ReserveDate: dateOf(now),
		Status:      ReservationPending,
		seq:         q.seq.Add(1),
	}

	q.mu.Lock()
	q.reservations[res.ID] = res
	q.mu.Unlock()
	st.pending = append(st.pending, res)
	return *res, nil
}

// promoteHead offers the book to the earliest Pending reservation: pops the
// head, marks it Ready and stamps its expiry. No-op unless the copy is free,
// the Ready slot is empty and the queue is non-empty. Caller holds the book
// lock.
func (q *reservationQueue) promoteHead(st *bookState, now time.Time, readyWindowDays int) *Reservation {
	if st.openLoan != nil || st.ready != nil || len(st.pending) == 0 {
		return nil
	}

	head := st.pending[0]
	st.pending = st.pending[1:]

	expiry := dateOf(now).AddDate(0, 0, readyWindowDays)
	q.mu.Lock()
	head.Status = ReservationReady
	head.ExpiryDate = &expiry
	q.mu.Unlock()
	st.ready = head

	promoted := *head
	return &promoted
}

// expire lapses the book's Ready reservation when its window has passed and
// cascades promotion to the next Pending entry. Idempotent: a second call at
// the same instant changes nothing. Caller holds the book lock.
func (q *reservationQueue) expire(st *bookState, now time.Time, readyWindowDays int) (expired, promoted []Reservation) {
	today := dateOf(now)
	for st.ready != nil && st.ready.ExpiryDate != nil && today.After(*st.ready.ExpiryDate) {
		lapsed := st.ready
		q.mu.Lock()
		lapsed.Status = ReservationExpired
		q.mu.Unlock()
		st.ready = nil
		expired = append(expired, *lapsed)

		if next := q.promoteHead(st, now, readyWindowDays); next != nil {
			promoted = append(promoted, *next)
		}
	}
	return expired, promoted
}

// cancel withdraws a Pending or Ready reservation. Cancelling the Ready
// holder hands the copy to the next in line. Caller holds the book lock.
func (q *reservationQueue) cancel(st *bookState, id uuid.UUID, now time.Time, readyWindowDays int) (Reservation, *Reservation, error) {
	if st.ready != nil && st.ready.ID == id {
		res := st.ready
		q.mu.Lock()
		res.Status = ReservationCancelled
		q.mu.Unlock()
		st.ready = nil
		cancelled := *res
		next := q.promoteHead(st, now, readyWindowDays)
		return cancelled, next, nil
	}

	for i, r := range st.pending {
		if r.ID == id {
			st.pending = append(st.pending[:i], st.pending[i+1:]...)
			q.mu.Lock()
			r.Status = ReservationCancelled
			q.mu.Unlock()
			return *r, nil, nil
		}
	}

	// Not in the Pending FIFO or the Ready slot: the reservation is terminal.
	q.mu.RLock()
	_, known := q.reservations[id]
	q.mu.RUnlock()
	if !known {
		return Reservation{}, nil, ErrNotFound
	}
	return Reservation{}, nil, ErrInvalidState
}

// fulfil converts the book's Ready reservation; the caller then opens the
// loan under the same book lock.
func (q *reservationQueue) fulfil(st *bookState, id uuid.UUID) (Reservation, error) {
	if st.ready == nil || st.ready.ID != id {
		q.mu.RLock()
		_, known := q.reservations[id]
		q.mu.RUnlock()
		if !known {
			return Reservation{}, ErrNotFound
		}
		return Reservation{}, ErrInvalidState
	}

	res := st.ready
	q.mu.Lock()
	res.Status = ReservationFulfilled
	q.mu.Unlock()
	st.ready = nil
	return *res, nil
}

// position returns the 1-based Pending rank of id for the book, zero when id
// holds no position. Caller holds the book lock.
func (q *reservationQueue) position(st *bookState, id uuid.UUID) int {
	for i, r := range st.pending {
		if r.ID == id {
			return i + 1
		}
	}
	return 0
}

// byID returns a copy of the reservation.
func (q *reservationQueue) byID(id uuid.UUID) (Reservation, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	res, ok := q.reservations[id]
	if !ok {
		return Reservation{}, ErrNotFound
	}
	return *res, nil
}

// forMember returns copies of the member's reservations, newest first.
func (q *reservationQueue) forMember(memberID uuid.UUID) []Reservation {
	q.mu.RLock()
	out := make([]Reservation, 0)
	for _, r := range q.reservations {
		if r.MemberID == memberID {
			out = append(out, *r)
		}
	}
	q.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReserveDate.Equal(out[j].ReserveDate) {
			return out[i].ReserveDate.After(out[j].ReserveDate)
		}
		return out[i].seq > out[j].seq
	})
	return out
}

// openForBook returns the book's Ready holder followed by the Pending FIFO.
// Caller holds the book lock.
func (q *reservationQueue) openForBook(st *bookState) []Reservation {
	out := make([]Reservation, 0, len(st.pending)+1)
	q.mu.RLock()
	if st.ready != nil {
		out = append(out, *st.ready)
	}
	for _, r := range st.pending {
		out = append(out, *r)
	}
	q.mu.RUnlock()
	return out
}

func (q *reservationQueue) counts() (pending, ready int) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	for _, r := range q.reservations {
		switch r.Status {
		case ReservationPending:
			pending++
		case ReservationReady:
			ready++
		case ReservationFulfilled, ReservationCancelled, ReservationExpired:
		}
	}
	return pending, ready
}
