// internal/circulation/service.go
package circulation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Directory resolves member identity and standing. Authentication and
// registration live behind it; the core only trusts the reported status.
type Directory interface {
	Member(ctx context.Context, id uuid.UUID) (*Member, error)
}

// Service is the circulation core: book availability, the loan lifecycle and
// the reservation waitlist, kept in lock-step per book. "Now" always comes
// from the injected clock.
type Service interface {
	RegisterBook(ctx context.Context, book Book) (*BookView, error)
	GetBook(ctx context.Context, bookID uuid.UUID) (*BookView, error)

	LoanBook(ctx context.Context, bookID, memberID uuid.UUID, dueDate *time.Time) (*Loan, error)
	ReturnBook(ctx context.Context, loanID uuid.UUID, returnDate *time.Time) (*Loan, error)
	ExtendLoan(ctx context.Context, loanID uuid.UUID, newDueDate time.Time) (*Loan, error)
	ActiveLoans(ctx context.Context) ([]LoanView, error)
	OverdueLoans(ctx context.Context) ([]LoanView, error)

	ReserveBook(ctx context.Context, bookID, memberID uuid.UUID) (*ReservationView, error)
	CancelReservation(ctx context.Context, reservationID uuid.UUID) error
	ConvertReservation(ctx context.Context, reservationID uuid.UUID) (*Loan, error)
	MemberReservations(ctx context.Context, memberID uuid.UUID) ([]ReservationView, error)
	BookReservations(ctx context.Context, bookID uuid.UUID) ([]ReservationView, error)

	ApplySuspension(ctx context.Context, memberID uuid.UUID) (int, error)
	ExpireStale(ctx context.Context) (int, error)
	RunExpirySweeper(ctx context.Context, interval time.Duration)
	Statistics(ctx context.Context) (*Statistics, error)
}
