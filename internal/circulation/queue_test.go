// internal/circulation/queue_test.go
package circulation

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestQueueEnqueueFIFO(t *testing.T) {
	_, st := newTestBookState(t)
	q := newReservationQueue()
	now := date(2024, 1, 1)

	first, err := q.enqueue(st, uuid.New(), now)
	require.NoError(t, err)
	second, err := q.enqueue(st, uuid.New(), now)
	require.NoError(t, err)

	assert.Equal(t, 1, q.position(st, first.ID))
	assert.Equal(t, 2, q.position(st, second.ID))
	assert.Equal(t, ReservationPending, first.Status)
}

func TestQueueDuplicateReservation(t *testing.T) {
	_, st := newTestBookState(t)
	q := newReservationQueue()
	member := uuid.New()
	now := date(2024, 1, 1)

	_, err := q.enqueue(st, member, now)
	require.NoError(t, err)
	_, err = q.enqueue(st, member, now)
	assert.ErrorIs(t, err, ErrDuplicateReservation)

	// Still a duplicate once promoted to Ready.
	promoted := q.promoteHead(st, now, 3)
	require.NotNil(t, promoted)
	_, err = q.enqueue(st, member, now)
	assert.ErrorIs(t, err, ErrDuplicateReservation)
}

func TestQueuePromoteHead(t *testing.T) {
	_, st := newTestBookState(t)
	q := newReservationQueue()
	now := date(2024, 1, 1)

	// Empty queue: no-op.
	assert.Nil(t, q.promoteHead(st, now, 3))

	first, err := q.enqueue(st, uuid.New(), now)
	require.NoError(t, err)
	_, err = q.enqueue(st, uuid.New(), now)
	require.NoError(t, err)

	promoted := q.promoteHead(st, now, 3)
	require.NotNil(t, promoted)
	assert.Equal(t, first.ID, promoted.ID)
	assert.Equal(t, ReservationReady, promoted.Status)
	require.NotNil(t, promoted.ExpiryDate)
	assert.Equal(t, date(2024, 1, 4), *promoted.ExpiryDate)

	// Ready slot occupied: no second promotion.
	assert.Nil(t, q.promoteHead(st, now, 3))

	// Promotion is suppressed while the book is on loan.
	st.ready = nil
	st.openLoan = &Loan{ID: uuid.New()}
	assert.Nil(t, q.promoteHead(st, now, 3))
}

func TestQueueExpireCascades(t *testing.T) {
	_, st := newTestBookState(t)
	q := newReservationQueue()
	now := date(2024, 1, 1)

	first, err := q.enqueue(st, uuid.New(), now)
	require.NoError(t, err)
	second, err := q.enqueue(st, uuid.New(), now)
	require.NoError(t, err)
	require.NotNil(t, q.promoteHead(st, now, 3))

	// Within the window nothing lapses.
	expired, promoted := q.expire(st, date(2024, 1, 4), 3)
	assert.Empty(t, expired)
	assert.Empty(t, promoted)

	// Past the window the head lapses and the next entry is promoted.
	expired, promoted = q.expire(st, date(2024, 1, 5), 3)
	require.Len(t, expired, 1)
	assert.Equal(t, first.ID, expired[0].ID)
	assert.Equal(t, ReservationExpired, expired[0].Status)
	require.Len(t, promoted, 1)
	assert.Equal(t, second.ID, promoted[0].ID)
	assert.Equal(t, date(2024, 1, 8), *promoted[0].ExpiryDate)

	// Idempotent: a second sweep at the same instant changes nothing.
	expired, promoted = q.expire(st, date(2024, 1, 5), 3)
	assert.Empty(t, expired)
	assert.Empty(t, promoted)
}

func TestQueueCancelPending(t *testing.T) {
	_, st := newTestBookState(t)
	q := newReservationQueue()
	now := date(2024, 1, 1)

	first, err := q.enqueue(st, uuid.New(), now)
	require.NoError(t, err)
	second, err := q.enqueue(st, uuid.New(), now)
	require.NoError(t, err)

	cancelled, promoted, err := q.cancel(st, first.ID, now, 3)
	require.NoError(t, err)
	assert.Equal(t, ReservationCancelled, cancelled.Status)
	assert.Nil(t, promoted)

	// Remaining entry moves up; positions are recomputed, never stored.
	assert.Equal(t, 1, q.position(st, second.ID))

	_, _, err = q.cancel(st, first.ID, now, 3)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, _, err = q.cancel(st, uuid.New(), now, 3)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQueueCancelReadyPromotesNext(t *testing.T) {
	_, st := newTestBookState(t)
	q := newReservationQueue()
	now := date(2024, 1, 1)

	first, err := q.enqueue(st, uuid.New(), now)
	require.NoError(t, err)
	second, err := q.enqueue(st, uuid.New(), now)
	require.NoError(t, err)
	require.NotNil(t, q.promoteHead(st, now, 3))

	cancelled, promoted, err := q.cancel(st, first.ID, now, 3)
	require.NoError(t, err)
	assert.Equal(t, ReservationCancelled, cancelled.Status)
	require.NotNil(t, promoted)
	assert.Equal(t, second.ID, promoted.ID)
	assert.Equal(t, ReservationReady, promoted.Status)
}

func TestQueueFulfil(t *testing.T) {
	_, st := newTestBookState(t)
	q := newReservationQueue()
	now := date(2024, 1, 1)

	res, err := q.enqueue(st, uuid.New(), now)
	require.NoError(t, err)

	// Pending reservations cannot be fulfilled directly.
	_, err = q.fulfil(st, res.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = q.fulfil(st, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	require.NotNil(t, q.promoteHead(st, now, 3))
	fulfilled, err := q.fulfil(st, res.ID)
	require.NoError(t, err)
	assert.Equal(t, ReservationFulfilled, fulfilled.Status)
	assert.Nil(t, st.ready)

	_, err = q.fulfil(st, res.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestQueuePositionsByStatus(t *testing.T) {
	_, st := newTestBookState(t)
	q := newReservationQueue()
	now := date(2024, 1, 1)

	first, err := q.enqueue(st, uuid.New(), now)
	require.NoError(t, err)
	second, err := q.enqueue(st, uuid.New(), now)
	require.NoError(t, err)
	require.NotNil(t, q.promoteHead(st, now, 3))

	// Ready entries hold no queue position.
	assert.Equal(t, 0, q.position(st, first.ID))
	assert.Equal(t, 1, q.position(st, second.ID))

	open := q.openForBook(st)
	require.Len(t, open, 2)
	assert.Equal(t, first.ID, open[0].ID)
	assert.Equal(t, second.ID, open[1].ID)
}

// TestQueueInvariants drives a random interleaving of queue operations on one
// book and checks the structural invariants after every step.
func TestQueueInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tr := newAvailabilityTracker()
		st, err := tr.register(Book{ID: uuid.New()})
		if err != nil {
			t.Fatalf("register: %v", err)
		}
		q := newReservationQueue()
		now := date(2024, 1, 1)
		var order []uuid.UUID // expected Pending order, oldest first

		steps := rapid.IntRange(1, 60).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 4).Draw(t, "op") {
			case 0: // enqueue a fresh member
				res, err := q.enqueue(st, uuid.New(), now)
				if err != nil {
					t.Fatalf("enqueue: %v", err)
				}
				order = append(order, res.ID)
			case 1: // promote
				if promoted := q.promoteHead(st, now, 3); promoted != nil {
					if promoted.ID != order[0] {
						t.Fatalf("promoted %s, expected head %s", promoted.ID, order[0])
					}
					order = order[1:]
				}
			case 2: // cancel a random pending entry
				if len(order) > 0 {
					idx := rapid.IntRange(0, len(order)-1).Draw(t, "idx")
					if _, _, err := q.cancel(st, order[idx], now, 3); err != nil {
						t.Fatalf("cancel: %v", err)
					}
					order = append(order[:idx], order[idx+1:]...)
				}
			case 3: // cancel the ready holder
				if st.ready != nil {
					if _, promoted, err := q.cancel(st, st.ready.ID, now, 3); err != nil {
						t.Fatalf("cancel ready: %v", err)
					} else if promoted != nil {
						order = order[1:]
					}
				}
			case 4: // a day passes, stale ready entries lapse
				now = now.AddDate(0, 0, 1)
				_, promoted := q.expire(st, now, 3)
				order = order[len(promoted):]
			}

			// At most one Ready reservation per book.
			pending, ready := q.counts()
			if ready > 1 {
				t.Fatalf("%d ready reservations", ready)
			}
			if pending != len(st.pending) || len(order) != len(st.pending) {
				t.Fatalf("pending count mismatch: index=%d fifo=%d model=%d", pending, len(st.pending), len(order))
			}
			// FIFO order is stable and positions are dense from 1.
			for pos, id := range order {
				if st.pending[pos].ID != id {
					t.Fatalf("position %d holds %s, expected %s", pos+1, st.pending[pos].ID, id)
				}
				if got := q.position(st, id); got != pos+1 {
					t.Fatalf("position(%s) = %d, expected %d", id, got, pos+1)
				}
			}
		}
	})
}
