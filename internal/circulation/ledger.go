// internal/circulation/ledger.go
package circulation

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// loanLedger owns every loan record and enforces the one-open-loan-per-book
// invariant together with the tracker. Its mutex guards the index map and all
// mutable loan fields; the caller holds the book lock first, so lock order is
// always book then ledger.
type loanLedger struct {
	mu    sync.RWMutex
	loans map[uuid.UUID]*Loan
}

func newLoanLedger() *loanLedger {
	return &loanLedger{loans: make(map[uuid.UUID]*Loan)}
}

// open creates a loan for the book guarded by st and marks the copy loaned.
// A positive maxLoans caps the member's open loans; the count and the insert
// share one critical section, so concurrent opens on different books cannot
// overshoot the cap. Caller holds st.mu.
func (lg *loanLedger) open(st *bookState, memberID uuid.UUID, loanDate, dueDate time.Time, maxLoans int) (Loan, error) {
	if !st.isAvailable() {
		return Loan{}, ErrBookUnavailable
	}
	if !dueDate.After(loanDate) {
		return Loan{}, ErrInvalidState
	}

	lg.mu.Lock()
	defer lg.mu.Unlock()

	if maxLoans > 0 {
		open := 0
		for _, l := range lg.loans {
			if !l.Returned && l.MemberID == memberID {
				open++
			}
		}
		if open >= maxLoans {
			return Loan{}, ErrMemberIneligible
		}
	}

	loan := &Loan{
		ID:       uuid.New(),
		BookID:   st.book.ID,
		MemberID: memberID,
		LoanDate: dateOf(loanDate),
		DueDate:  dateOf(dueDate),
	}
	if err := st.markLoaned(loan); err != nil {
		return Loan{}, err
	}
	lg.loans[loan.ID] = loan
	return *loan, nil
}

// close records the return of loanID, computes the fine and releases the
// book. Caller holds st.mu; promotion of the waitlist is the caller's next
// step under the same lock.
func (lg *loanLedger) close(st *bookState, loanID uuid.UUID, returnDate time.Time, fines FineCalculator) (Loan, error) {
	lg.mu.Lock()
	defer lg.mu.Unlock()

	loan, ok := lg.loans[loanID]
	if !ok {
		return Loan{}, ErrNotFound
	}
	if loan.Returned {
		return Loan{}, ErrAlreadyReturned
	}
	returned := dateOf(returnDate)
	if returned.Before(loan.LoanDate) {
		return Loan{}, ErrInvalidState
	}
	if st.openLoan == nil || st.openLoan.ID != loanID {
		return Loan{}, ErrInvalidState
	}

	if err := st.markReturned(); err != nil {
		return Loan{}, err
	}
	loan.Returned = true
	loan.ReturnedAt = &returned
	loan.FineCents = fines.Compute(loan.DueDate, returned)
	return *loan, nil
}

// extend moves an open loan's due date. Caller holds st.mu.
func (lg *loanLedger) extend(st *bookState, loanID uuid.UUID, newDueDate time.Time) (Loan, error) {
	lg.mu.Lock()
	defer lg.mu.Unlock()

	loan, ok := lg.loans[loanID]
	if !ok {
		return Loan{}, ErrNotFound
	}
	if loan.Returned {
		return Loan{}, ErrAlreadyReturned
	}
	due := dateOf(newDueDate)
	if !due.After(loan.LoanDate) {
		return Loan{}, ErrInvalidState
	}
	loan.DueDate = due
	return *loan, nil
}

// byID returns a copy of the loan, for resolving its book before locking.
func (lg *loanLedger) byID(id uuid.UUID) (Loan, error) {
	lg.mu.RLock()
	defer lg.mu.RUnlock()
	loan, ok := lg.loans[id]
	if !ok {
		return Loan{}, ErrNotFound
	}
	return *loan, nil
}

// openCountFor counts the member's open loans.
func (lg *loanLedger) openCountFor(memberID uuid.UUID) int {
	lg.mu.RLock()
	defer lg.mu.RUnlock()
	n := 0
	for _, l := range lg.loans {
		if !l.Returned && l.MemberID == memberID {
			n++
		}
	}
	return n
}

// hasOverdueFor reports whether the member holds an open overdue loan other
// than except.
func (lg *loanLedger) hasOverdueFor(memberID uuid.UUID, now time.Time, except uuid.UUID) bool {
	lg.mu.RLock()
	defer lg.mu.RUnlock()
	for _, l := range lg.loans {
		if l.Returned || l.MemberID != memberID || l.ID == except {
			continue
		}
		if l.DaysOverdueAt(now) > 0 {
			return true
		}
	}
	return false
}

// snapshotOpen returns copies of every open loan.
func (lg *loanLedger) snapshotOpen() []Loan {
	lg.mu.RLock()
	defer lg.mu.RUnlock()
	out := make([]Loan, 0, len(lg.loans))
	for _, l := range lg.loans {
		if !l.Returned {
			out = append(out, *l)
		}
	}
	return out
}

func (lg *loanLedger) openCounts(now time.Time) (active, overdue int) {
	lg.mu.RLock()
	defer lg.mu.RUnlock()
	for _, l := range lg.loans {
		if l.Returned {
			continue
		}
		active++
		if l.DaysOverdueAt(now) > 0 {
			overdue++
		}
	}
	return active, overdue
}
