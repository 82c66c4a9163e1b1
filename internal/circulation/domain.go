// internal/circulation/domain.go
package circulation

import (
	"time"

	"github.com/google/uuid"
)

// MemberStatus is the membership standing as reported by the directory.
type MemberStatus string

const (
	MemberActive    MemberStatus = "Active"
	MemberInactive  MemberStatus = "Inactive"
	MemberSuspended MemberStatus = "Suspended"
)

// LoanStatus classifies an open loan relative to its due date.
type LoanStatus string

const (
	LoanOnTime  LoanStatus = "On Time"
	LoanDueSoon LoanStatus = "Due Soon"
	LoanOverdue LoanStatus = "Overdue"
)

// ReservationStatus is the closed set of reservation states. Pending and
// Ready are the only non-terminal states.
type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "Pending"
	ReservationReady     ReservationStatus = "Ready"
	ReservationFulfilled ReservationStatus = "Fulfilled"
	ReservationCancelled ReservationStatus = "Cancelled"
	ReservationExpired   ReservationStatus = "Expired"
)

// Terminal reports whether no further transition is allowed from s.
func (s ReservationStatus) Terminal() bool {
	switch s {
	case ReservationPending, ReservationReady:
		return false
	case ReservationFulfilled, ReservationCancelled, ReservationExpired:
		return true
	}
	return true
}

// Book is a single physical copy. Descriptive fields are opaque to the core;
// availability is derived from the loan ledger, never stored.
type Book struct {
	ID       uuid.UUID `json:"id"`
	Title    string    `json:"title"`
	Author   string    `json:"author"`
	ISBN     string    `json:"isbn,omitempty"`
	Category string    `json:"category,omitempty"`
}

// BookView is a read snapshot of a book with its derived availability.
type BookView struct {
	Book
	Available           bool `json:"is_available"`
	PendingReservations int  `json:"pending_reservations"`
}

// Member is the directory's view of a library member. The core trusts the
// identifier and only inspects Status.
type Member struct {
	ID     uuid.UUID    `json:"id"`
	Name   string       `json:"name"`
	Email  string       `json:"email"`
	Status MemberStatus `json:"status"`
}

// Loan is a checkout of one book by one member. At most one loan per book may
// be open (Returned == false) at any time.
type Loan struct {
	ID         uuid.UUID  `json:"id"`
	BookID     uuid.UUID  `json:"book_id"`
	MemberID   uuid.UUID  `json:"member_id"`
	LoanDate   time.Time  `json:"loan_date"`
	DueDate    time.Time  `json:"due_date"`
	ReturnedAt *time.Time `json:"actual_return_date,omitempty"`
	Returned   bool       `json:"returned"`
	FineCents  int64      `json:"-"`
}

// StatusAt classifies the loan at the given instant. dueSoonDays is the
// number of days before the due date at which a loan counts as Due Soon.
func (l Loan) StatusAt(now time.Time, dueSoonDays int) LoanStatus {
	remaining := daysBetween(now, l.DueDate)
	switch {
	case remaining < 0:
		return LoanOverdue
	case remaining <= dueSoonDays:
		return LoanDueSoon
	default:
		return LoanOnTime
	}
}

// DaysRemainingAt returns how many whole days remain before the due date,
// never negative.
func (l Loan) DaysRemainingAt(now time.Time) int {
	if d := daysBetween(now, l.DueDate); d > 0 {
		return d
	}
	return 0
}

// DaysOverdueAt returns how many whole days the loan is past due, never
// negative.
func (l Loan) DaysOverdueAt(now time.Time) int {
	if d := daysBetween(l.DueDate, now); d > 0 {
		return d
	}
	return 0
}

// LoanView is a loan snapshot with its derived status and day counts.
type LoanView struct {
	Loan
	Status        LoanStatus `json:"status"`
	DaysRemaining int        `json:"days_remaining"`
	DaysOverdue   int        `json:"days_overdue"`
	FineAmount    float64    `json:"fine_amount"`
}

// Reservation is one member's place in a book's waitlist. Queue position is
// derived on read, never stored.
type Reservation struct {
	ID          uuid.UUID         `json:"id"`
	BookID      uuid.UUID         `json:"book_id"`
	MemberID    uuid.UUID         `json:"member_id"`
	ReserveDate time.Time         `json:"reserve_date"`
	Status      ReservationStatus `json:"status"`
	ExpiryDate  *time.Time        `json:"expiry_date,omitempty"`

	// seq breaks ties between reservations created on the same date.
	seq uint64
}

// ReservationView is a reservation snapshot with its derived queue position:
// 1-based rank among Pending entries for the same book, zero for any other
// status.
type ReservationView struct {
	Reservation
	QueuePosition int `json:"queue_position"`
}

// Statistics are the library-wide circulation counts.
type Statistics struct {
	TotalBooks          int `json:"total_books"`
	AvailableBooks      int `json:"available_books"`
	ActiveLoans         int `json:"active_loans"`
	OverdueLoans        int `json:"overdue_loans"`
	PendingReservations int `json:"pending_reservations"`
	ReadyReservations   int `json:"ready_reservations"`
}

// Policy carries the circulation rules. The zero value is not usable; start
// from DefaultPolicy.
type Policy struct {
	LoanPeriodDays        int
	DueSoonThresholdDays  int
	FineDailyRateCents    int64
	ReadyWindowDays       int
	MaxLoansPerMember     int
	BlockOverdueBorrowers bool
	// AllowReserveAvailable permits queuing for a book that is on the shelf.
	// The default mirrors the observed policy: reserving an available book is
	// rejected and the member is expected to borrow it directly.
	AllowReserveAvailable bool
	// CancelSuspendedReservations decides what ApplySuspension does to a
	// suspended member's open reservations: cancel them, or freeze them in
	// place.
	CancelSuspendedReservations bool
}

func DefaultPolicy() Policy {
	return Policy{
		LoanPeriodDays:        14,
		DueSoonThresholdDays:  2,
		FineDailyRateCents:    50,
		ReadyWindowDays:       3,
		MaxLoansPerMember:     5,
		BlockOverdueBorrowers: true,
	}
}

// dateOf truncates an instant to its UTC calendar date. All circulation date
// arithmetic is day-granular.
func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// daysBetween returns the whole calendar days from a to b, negative when b is
// before a.
func daysBetween(a, b time.Time) int {
	return int(dateOf(b).Sub(dateOf(a)) / (24 * time.Hour))
}

// centsToAmount converts integer cents to currency units with two-decimal
// precision.
func centsToAmount(cents int64) float64 {
	return float64(cents) / 100
}
