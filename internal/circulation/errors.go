// internal/circulation/errors.go
package circulation

import "errors"

// Business-rule rejections. All are terminal and non-retryable: the caller
// surfaces them verbatim, the core never retries.
var (
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("book is already on loan")
	ErrInvalidState         = errors.New("operation not valid for current state")
	ErrBookUnavailable      = errors.New("book is not available for loan")
	ErrMemberIneligible     = errors.New("member is not eligible to borrow")
	ErrAlreadyReturned      = errors.New("book already returned")
	ErrDuplicateReservation = errors.New("member already has an open reservation for this book")
	ErrBookAvailable        = errors.New("book is currently available, no reservation needed")
)
