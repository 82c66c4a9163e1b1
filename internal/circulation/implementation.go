// internal/circulation/implementation.go
package circulation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/proall22/library-management-system/internal/clock"
)

// service implements the Service interface. Every mutating operation on a
// book runs under that book's lock; stale Ready reservations are expired
// inline before the operation proceeds. No I/O happens under a lock: the
// directory is consulted before locking and events are published after
// unlocking.
type service struct {
	clock     clock.Clock
	policy    Policy
	directory Directory
	tracker   *availabilityTracker
	ledger    *loanLedger
	queue     *reservationQueue
	fines     FineCalculator
	sink      EventSink
	logger    *zap.SugaredLogger
	tracer    trace.Tracer
}

// NewService creates the circulation core. A nil sink discards events; a nil
// logger is replaced with a no-op logger.
func NewService(clk clock.Clock, policy Policy, directory Directory, sink EventSink, logger *zap.SugaredLogger) Service {
	if sink == nil {
		sink = NoopSink{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &service{
		clock:     clk,
		policy:    policy,
		directory: directory,
		tracker:   newAvailabilityTracker(),
		ledger:    newLoanLedger(),
		queue:     newReservationQueue(),
		fines:     FineCalculator{DailyRateCents: policy.FineDailyRateCents},
		sink:      sink,
		logger:    logger,
		tracer:    otel.Tracer("circulation"),
	}
}

func (s *service) publish(events ...Event) {
	for _, e := range events {
		s.sink.Record(e)
	}
}

func (s *service) event(eventType string, now time.Time, data interface{}) Event {
	return Event{Type: eventType, OccurredAt: now, Data: data}
}

// expireLocked lapses the book's stale Ready reservation and cascades
// promotion. Caller holds st.mu. Returns the events to publish after the
// lock is released.
func (s *service) expireLocked(st *bookState, now time.Time) []Event {
	expired, promoted := s.queue.expire(st, now, s.policy.ReadyWindowDays)
	events := make([]Event, 0, len(expired)+len(promoted))
	for _, r := range expired {
		events = append(events, s.event("ReservationExpired", now, ReservationExpiredEvent{ReservationID: r.ID, BookID: r.BookID}))
	}
	for _, r := range promoted {
		events = append(events, s.event("ReservationReady", now, ReservationReadyEvent{
			ReservationID: r.ID, BookID: r.BookID, MemberID: r.MemberID, ExpiryDate: *r.ExpiryDate,
		}))
	}
	return events
}

// checkBorrower enforces member eligibility at the service boundary: the
// member must be Active, under the loan cap, and (by policy) free of overdue
// loans. exceptLoan is ignored in the overdue scan, for extensions. The cap
// check here runs before any book lock and can race; the ledger re-checks it
// under its own lock when the loan is opened.
func (s *service) checkBorrower(ctx context.Context, memberID uuid.UUID, now time.Time, exceptLoan uuid.UUID) error {
	member, err := s.directory.Member(ctx, memberID)
	if err != nil {
		return fmt.Errorf("member %s: %w", memberID, err)
	}
	if member.Status != MemberActive {
		return fmt.Errorf("member status is %s: %w", member.Status, ErrMemberIneligible)
	}
	if s.ledger.openCountFor(memberID) >= s.policy.MaxLoansPerMember {
		return fmt.Errorf("maximum loan limit (%d) reached: %w", s.policy.MaxLoansPerMember, ErrMemberIneligible)
	}
	if s.policy.BlockOverdueBorrowers && s.ledger.hasOverdueFor(memberID, now, exceptLoan) {
		return fmt.Errorf("member has overdue loans: %w", ErrMemberIneligible)
	}
	return nil
}

func (s *service) RegisterBook(ctx context.Context, book Book) (*BookView, error) {
	_, span := s.tracer.Start(ctx, "circulation.register_book")
	defer span.End()

	if book.ID == uuid.Nil {
		book.ID = uuid.New()
	}
	span.SetAttributes(attribute.String("book.id", book.ID.String()))

	if _, err := s.tracker.register(book); err != nil {
		return nil, fmt.Errorf("book %s already registered: %w", book.ID, err)
	}
	s.publish(s.event("BookRegistered", s.clock.Now(), BookRegisteredEvent{BookID: book.ID, Title: book.Title}))
	return &BookView{Book: book, Available: true}, nil
}

func (s *service) GetBook(ctx context.Context, bookID uuid.UUID) (*BookView, error) {
	st, err := s.tracker.get(bookID)
	if err != nil {
		return nil, fmt.Errorf("book %s: %w", bookID, err)
	}

	// A copy is available to walk in only when it has no open loan and no
	// outstanding pickup hold.
	st.mu.Lock()
	view := &BookView{
		Book:                st.book,
		Available:           st.isAvailable() && st.ready == nil,
		PendingReservations: len(st.pending),
	}
	st.mu.Unlock()
	return view, nil
}

func (s *service) LoanBook(ctx context.Context, bookID, memberID uuid.UUID, dueDate *time.Time) (*Loan, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.loan",
		trace.WithAttributes(
			attribute.String("book.id", bookID.String()),
			attribute.String("member.id", memberID.String()),
		),
	)
	defer span.End()

	now := s.clock.Now()
	due := dateOf(now).AddDate(0, 0, s.policy.LoanPeriodDays)
	if dueDate != nil {
		due = dateOf(*dueDate)
	}
	if !due.After(dateOf(now)) {
		return nil, fmt.Errorf("due date must be after loan date: %w", ErrInvalidState)
	}

	if err := s.checkBorrower(ctx, memberID, now, uuid.Nil); err != nil {
		return nil, err
	}

	st, err := s.tracker.get(bookID)
	if err != nil {
		return nil, fmt.Errorf("book %s: %w", bookID, err)
	}

	st.mu.Lock()
	events := s.expireLocked(st, now)

	if !st.isAvailable() {
		st.mu.Unlock()
		s.publish(events...)
		return nil, fmt.Errorf("book %s: %w", bookID, ErrBookUnavailable)
	}
	// The Ready slot keeps the copy reserved for its holder until the pickup
	// window lapses. The holder borrowing directly converts the reservation
	// as part of the loan.
	if st.ready != nil && st.ready.MemberID != memberID {
		st.mu.Unlock()
		s.publish(events...)
		return nil, fmt.Errorf("book %s is held for reservation pickup: %w", bookID, ErrBookUnavailable)
	}

	loan, err := s.ledger.open(st, memberID, now, due, s.policy.MaxLoansPerMember)
	if err != nil {
		st.mu.Unlock()
		s.publish(events...)
		return nil, err
	}
	var fulfilled *Reservation
	if st.ready != nil {
		if res, ferr := s.queue.fulfil(st, st.ready.ID); ferr == nil {
			fulfilled = &res
		}
	}
	st.mu.Unlock()

	events = append(events, s.event("LoanOpened", now, LoanOpenedEvent{
		LoanID: loan.ID, BookID: loan.BookID, MemberID: loan.MemberID, DueDate: loan.DueDate,
	}))
	if fulfilled != nil {
		events = append(events, s.event("ReservationFulfilled", now, ReservationFulfilledEvent{
			ReservationID: fulfilled.ID, LoanID: loan.ID,
		}))
	}
	s.publish(events...)
	return &loan, nil
}

func (s *service) ReturnBook(ctx context.Context, loanID uuid.UUID, returnDate *time.Time) (*Loan, error) {
	_, span := s.tracer.Start(ctx, "circulation.return",
		trace.WithAttributes(attribute.String("loan.id", loanID.String())),
	)
	defer span.End()

	now := s.clock.Now()
	returned := now
	if returnDate != nil {
		returned = *returnDate
	}

	loan, err := s.ledger.byID(loanID)
	if err != nil {
		return nil, fmt.Errorf("loan %s: %w", loanID, err)
	}
	st, err := s.tracker.get(loan.BookID)
	if err != nil {
		return nil, fmt.Errorf("book %s: %w", loan.BookID, err)
	}

	st.mu.Lock()
	events := s.expireLocked(st, now)

	closed, err := s.ledger.close(st, loanID, returned, s.fines)
	if err != nil {
		st.mu.Unlock()
		s.publish(events...)
		return nil, err
	}

	// Promotion is part of the same atomic transition as the return.
	promoted := s.queue.promoteHead(st, now, s.policy.ReadyWindowDays)
	st.mu.Unlock()

	events = append(events, s.event("LoanReturned", now, LoanReturnedEvent{
		LoanID: closed.ID, BookID: closed.BookID, MemberID: closed.MemberID,
		ReturnDate: *closed.ReturnedAt, FineCents: closed.FineCents,
	}))
	if promoted != nil {
		events = append(events, s.event("ReservationReady", now, ReservationReadyEvent{
			ReservationID: promoted.ID, BookID: promoted.BookID, MemberID: promoted.MemberID, ExpiryDate: *promoted.ExpiryDate,
		}))
	}
	s.publish(events...)
	return &closed, nil
}

func (s *service) ExtendLoan(ctx context.Context, loanID uuid.UUID, newDueDate time.Time) (*Loan, error) {
	_, span := s.tracer.Start(ctx, "circulation.extend",
		trace.WithAttributes(attribute.String("loan.id", loanID.String())),
	)
	defer span.End()

	now := s.clock.Now()
	loan, err := s.ledger.byID(loanID)
	if err != nil {
		return nil, fmt.Errorf("loan %s: %w", loanID, err)
	}
	// Extension is refused while the member holds other overdue loans.
	if s.ledger.hasOverdueFor(loan.MemberID, now, loanID) {
		return nil, fmt.Errorf("member has other overdue loans: %w", ErrMemberIneligible)
	}
	st, err := s.tracker.get(loan.BookID)
	if err != nil {
		return nil, fmt.Errorf("book %s: %w", loan.BookID, err)
	}

	st.mu.Lock()
	extended, err := s.ledger.extend(st, loanID, newDueDate)
	st.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.publish(s.event("LoanExtended", now, LoanExtendedEvent{LoanID: extended.ID, DueDate: extended.DueDate}))
	return &extended, nil
}

func (s *service) ActiveLoans(ctx context.Context) ([]LoanView, error) {
	return s.openLoanViews(false), nil
}

func (s *service) OverdueLoans(ctx context.Context) ([]LoanView, error) {
	return s.openLoanViews(true), nil
}

func (s *service) openLoanViews(overdueOnly bool) []LoanView {
	now := s.clock.Now()
	loans := s.ledger.snapshotOpen()
	sort.Slice(loans, func(i, j int) bool { return loans[i].DueDate.Before(loans[j].DueDate) })

	views := make([]LoanView, 0, len(loans))
	for _, l := range loans {
		overdueDays := l.DaysOverdueAt(now)
		if overdueOnly && overdueDays == 0 {
			continue
		}
		view := LoanView{
			Loan:          l,
			Status:        l.StatusAt(now, s.policy.DueSoonThresholdDays),
			DaysRemaining: l.DaysRemainingAt(now),
			DaysOverdue:   overdueDays,
		}
		if overdueDays > 0 {
			// Accrued fine estimate as if returned today.
			view.FineAmount = centsToAmount(s.fines.Compute(l.DueDate, now))
		}
		views = append(views, view)
	}
	return views
}

func (s *service) ReserveBook(ctx context.Context, bookID, memberID uuid.UUID) (*ReservationView, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.reserve",
		trace.WithAttributes(
			attribute.String("book.id", bookID.String()),
			attribute.String("member.id", memberID.String()),
		),
	)
	defer span.End()

	now := s.clock.Now()
	member, err := s.directory.Member(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("member %s: %w", memberID, err)
	}
	if member.Status != MemberActive {
		return nil, fmt.Errorf("member status is %s: %w", member.Status, ErrMemberIneligible)
	}

	st, err := s.tracker.get(bookID)
	if err != nil {
		return nil, fmt.Errorf("book %s: %w", bookID, err)
	}

	st.mu.Lock()
	events := s.expireLocked(st, now)

	if !s.policy.AllowReserveAvailable && st.isAvailable() && st.ready == nil {
		st.mu.Unlock()
		s.publish(events...)
		return nil, fmt.Errorf("book %s: %w", bookID, ErrBookAvailable)
	}

	res, err := s.queue.enqueue(st, memberID, now)
	if err != nil {
		st.mu.Unlock()
		s.publish(events...)
		return nil, err
	}
	events = append(events, s.event("ReservationQueued", now, ReservationQueuedEvent{
		ReservationID: res.ID, BookID: res.BookID, MemberID: res.MemberID,
	}))

	// With reserve-while-available permitted, a shelf copy promotes the head
	// of the queue immediately.
	if s.policy.AllowReserveAvailable {
		if promoted := s.queue.promoteHead(st, now, s.policy.ReadyWindowDays); promoted != nil {
			events = append(events, s.event("ReservationReady", now, ReservationReadyEvent{
				ReservationID: promoted.ID, BookID: promoted.BookID, MemberID: promoted.MemberID, ExpiryDate: *promoted.ExpiryDate,
			}))
			if promoted.ID == res.ID {
				res = *promoted
			}
		}
	}

	view := &ReservationView{Reservation: res, QueuePosition: s.queue.position(st, res.ID)}
	st.mu.Unlock()

	s.publish(events...)
	return view, nil
}

func (s *service) CancelReservation(ctx context.Context, reservationID uuid.UUID) error {
	_, span := s.tracer.Start(ctx, "circulation.cancel_reservation",
		trace.WithAttributes(attribute.String("reservation.id", reservationID.String())),
	)
	defer span.End()

	now := s.clock.Now()
	res, err := s.queue.byID(reservationID)
	if err != nil {
		return fmt.Errorf("reservation %s: %w", reservationID, err)
	}
	st, err := s.tracker.get(res.BookID)
	if err != nil {
		return fmt.Errorf("book %s: %w", res.BookID, err)
	}

	st.mu.Lock()
	events := s.expireLocked(st, now)

	cancelled, promoted, err := s.queue.cancel(st, reservationID, now, s.policy.ReadyWindowDays)
	st.mu.Unlock()
	if err != nil {
		s.publish(events...)
		return fmt.Errorf("reservation %s: %w", reservationID, err)
	}

	events = append(events, s.event("ReservationCancelled", now, ReservationCancelledEvent{
		ReservationID: cancelled.ID, BookID: cancelled.BookID,
	}))
	if promoted != nil {
		events = append(events, s.event("ReservationReady", now, ReservationReadyEvent{
			ReservationID: promoted.ID, BookID: promoted.BookID, MemberID: promoted.MemberID, ExpiryDate: *promoted.ExpiryDate,
		}))
	}
	s.publish(events...)
	return nil
}

func (s *service) ConvertReservation(ctx context.Context, reservationID uuid.UUID) (*Loan, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.convert_reservation",
		trace.WithAttributes(attribute.String("reservation.id", reservationID.String())),
	)
	defer span.End()

	now := s.clock.Now()
	res, err := s.queue.byID(reservationID)
	if err != nil {
		return nil, fmt.Errorf("reservation %s: %w", reservationID, err)
	}
	if err := s.checkBorrower(ctx, res.MemberID, now, uuid.Nil); err != nil {
		return nil, err
	}
	st, err := s.tracker.get(res.BookID)
	if err != nil {
		return nil, fmt.Errorf("book %s: %w", res.BookID, err)
	}

	due := dateOf(now).AddDate(0, 0, s.policy.LoanPeriodDays)
	if !due.After(dateOf(now)) {
		return nil, fmt.Errorf("loan period is not positive: %w", ErrInvalidState)
	}

	st.mu.Lock()
	events := s.expireLocked(st, now)

	if st.ready == nil || st.ready.ID != reservationID {
		st.mu.Unlock()
		s.publish(events...)
		return nil, fmt.Errorf("reservation %s is not ready: %w", reservationID, ErrInvalidState)
	}
	if !st.isAvailable() {
		st.mu.Unlock()
		s.publish(events...)
		return nil, fmt.Errorf("book %s: %w", res.BookID, ErrBookUnavailable)
	}

	// The loan is the only fallible step and precedes the fulfilment, so the
	// two transitions either both happen or neither does.
	loan, err := s.ledger.open(st, st.ready.MemberID, now, due, s.policy.MaxLoansPerMember)
	if err != nil {
		st.mu.Unlock()
		s.publish(events...)
		return nil, err
	}
	fulfilled, err := s.queue.fulfil(st, reservationID)
	st.mu.Unlock()
	if err != nil {
		s.publish(events...)
		return nil, err
	}

	events = append(events,
		s.event("ReservationFulfilled", now, ReservationFulfilledEvent{ReservationID: fulfilled.ID, LoanID: loan.ID}),
		s.event("LoanOpened", now, LoanOpenedEvent{
			LoanID: loan.ID, BookID: loan.BookID, MemberID: loan.MemberID, DueDate: loan.DueDate,
		}),
	)
	s.publish(events...)
	return &loan, nil
}

func (s *service) MemberReservations(ctx context.Context, memberID uuid.UUID) ([]ReservationView, error) {
	views := make([]ReservationView, 0)
	for _, r := range s.queue.forMember(memberID) {
		view := ReservationView{Reservation: r}
		if st, err := s.tracker.get(r.BookID); err == nil {
			st.mu.Lock()
			if fresh, err := s.queue.byID(r.ID); err == nil {
				view.Reservation = fresh
			}
			view.QueuePosition = s.queue.position(st, r.ID)
			st.mu.Unlock()
		}
		views = append(views, view)
	}
	return views, nil
}

func (s *service) BookReservations(ctx context.Context, bookID uuid.UUID) ([]ReservationView, error) {
	st, err := s.tracker.get(bookID)
	if err != nil {
		return nil, fmt.Errorf("book %s: %w", bookID, err)
	}

	st.mu.Lock()
	open := s.queue.openForBook(st)
	views := make([]ReservationView, 0, len(open))
	for _, r := range open {
		views = append(views, ReservationView{Reservation: r, QueuePosition: s.queue.position(st, r.ID)})
	}
	st.mu.Unlock()
	return views, nil
}

func (s *service) ApplySuspension(ctx context.Context, memberID uuid.UUID) (int, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.apply_suspension",
		trace.WithAttributes(attribute.String("member.id", memberID.String())),
	)
	defer span.End()

	now := s.clock.Now()
	member, err := s.directory.Member(ctx, memberID)
	if err != nil {
		return 0, fmt.Errorf("member %s: %w", memberID, err)
	}
	if member.Status != MemberSuspended {
		return 0, fmt.Errorf("member %s is not suspended: %w", memberID, ErrInvalidState)
	}

	cancelled := 0
	if s.policy.CancelSuspendedReservations {
		for _, r := range s.queue.forMember(memberID) {
			if r.Status.Terminal() {
				continue
			}
			st, err := s.tracker.get(r.BookID)
			if err != nil {
				continue
			}
			st.mu.Lock()
			events := s.expireLocked(st, now)
			res, promoted, cerr := s.queue.cancel(st, r.ID, now, s.policy.ReadyWindowDays)
			st.mu.Unlock()
			if cerr == nil {
				cancelled++
				events = append(events, s.event("ReservationCancelled", now, ReservationCancelledEvent{
					ReservationID: res.ID, BookID: res.BookID,
				}))
				if promoted != nil {
					events = append(events, s.event("ReservationReady", now, ReservationReadyEvent{
						ReservationID: promoted.ID, BookID: promoted.BookID, MemberID: promoted.MemberID, ExpiryDate: *promoted.ExpiryDate,
					}))
				}
			}
			s.publish(events...)
		}
	}

	s.publish(s.event("SuspensionApplied", now, SuspensionAppliedEvent{MemberID: memberID, Cancelled: cancelled}))
	return cancelled, nil
}

func (s *service) ExpireStale(ctx context.Context) (int, error) {
	_, span := s.tracer.Start(ctx, "circulation.expire_stale")
	defer span.End()

	now := s.clock.Now()
	count := 0
	for _, st := range s.tracker.all() {
		st.mu.Lock()
		events := s.expireLocked(st, now)
		st.mu.Unlock()
		for _, e := range events {
			if e.Type == "ReservationExpired" {
				count++
			}
		}
		s.publish(events...)
	}
	span.SetAttributes(attribute.Int("expired.count", count))
	return count, nil
}

func (s *service) Statistics(ctx context.Context) (*Statistics, error) {
	now := s.clock.Now()
	total := s.tracker.count()
	active, overdue := s.ledger.openCounts(now)
	pending, ready := s.queue.counts()
	// Copies held for reservation pickup count as unavailable.
	return &Statistics{
		TotalBooks:          total,
		AvailableBooks:      total - active - ready,
		ActiveLoans:         active,
		OverdueLoans:        overdue,
		PendingReservations: pending,
		ReadyReservations:   ready,
	}, nil
}

// RunExpirySweeper periodically lapses stale Ready reservations until the
// context is cancelled. Expiry also runs inline before availability-changing
// operations; the sweeper only bounds how long a lapsed reservation can sit
// unnoticed on a quiet book.
func (s *service) RunExpirySweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := s.ExpireStale(ctx)
			if err != nil {
				s.logger.Errorw("expiry sweep failed", "error", err)
				continue
			}
			if expired > 0 {
				s.logger.Infow("expired stale reservations", "count", expired)
			}
		}
	}
}
