// internal/circulation/events.go
package circulation

import (
	"time"

	"github.com/google/uuid"
)

// Event is a completed circulation transition, published to the event sink
// after the book lock is released.
type Event struct {
	Type       string      `json:"type"`
	OccurredAt time.Time   `json:"occurred_at"`
	Data       interface{} `json:"data"`
}

// EventSink receives circulation events. Implementations must not block: a
// slow or failing sink never delays or fails an operation.
type EventSink interface {
	Record(e Event)
}

// NoopSink discards events; used by tests and database-less deployments.
type NoopSink struct{}

func (NoopSink) Record(Event) {}

// BookRegisteredEvent is published when a book joins the arena.
type BookRegisteredEvent struct {
	BookID uuid.UUID `json:"book_id"`
	Title  string    `json:"title"`
}

// LoanOpenedEvent is published when a copy is checked out.
type LoanOpenedEvent struct {
	LoanID   uuid.UUID `json:"loan_id"`
	BookID   uuid.UUID `json:"book_id"`
	MemberID uuid.UUID `json:"member_id"`
	DueDate  time.Time `json:"due_date"`
}

// LoanExtendedEvent is published when an open loan's due date moves.
type LoanExtendedEvent struct {
	LoanID  uuid.UUID `json:"loan_id"`
	DueDate time.Time `json:"due_date"`
}

// LoanReturnedEvent is published when a copy comes back.
type LoanReturnedEvent struct {
	LoanID     uuid.UUID `json:"loan_id"`
	BookID     uuid.UUID `json:"book_id"`
	MemberID   uuid.UUID `json:"member_id"`
	ReturnDate time.Time `json:"return_date"`
	FineCents  int64     `json:"fine_cents"`
}

// ReservationQueuedEvent is published when a member joins a waitlist.
type ReservationQueuedEvent struct {
	ReservationID uuid.UUID `json:"reservation_id"`
	BookID        uuid.UUID `json:"book_id"`
	MemberID      uuid.UUID `json:"member_id"`
}

// ReservationReadyEvent is published when the head of the waitlist is offered
// the copy.
type ReservationReadyEvent struct {
	ReservationID uuid.UUID `json:"reservation_id"`
	BookID        uuid.UUID `json:"book_id"`
	MemberID      uuid.UUID `json:"member_id"`
	ExpiryDate    time.Time `json:"expiry_date"`
}

// ReservationFulfilledEvent is published when a Ready reservation converts
// into a loan.
type ReservationFulfilledEvent struct {
	ReservationID uuid.UUID `json:"reservation_id"`
	LoanID        uuid.UUID `json:"loan_id"`
}

// ReservationCancelledEvent is published when a reservation is withdrawn.
type ReservationCancelledEvent struct {
	ReservationID uuid.UUID `json:"reservation_id"`
	BookID        uuid.UUID `json:"book_id"`
}

// ReservationExpiredEvent is published when a Ready window lapses unclaimed.
type ReservationExpiredEvent struct {
	ReservationID uuid.UUID `json:"reservation_id"`
	BookID        uuid.UUID `json:"book_id"`
}

// SuspensionAppliedEvent is published when the suspended-member policy runs.
type SuspensionAppliedEvent struct {
	MemberID  uuid.UUID `json:"member_id"`
	Cancelled int       `json:"cancelled_reservations"`
}
