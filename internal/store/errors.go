package store

import "errors"

// Error kinds. Every error returned by the store and the managers that is not
// an infrastructure failure wraps exactly one of these.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidToken = errors.New("invalid token")
	ErrConflict     = errors.New("conflict")
	ErrValidation   = errors.New("validation failed")
)

var (
	ErrStoreNotFound      = kindError(ErrNotFound, "store not found")
	ErrTicketNotFound     = kindError(ErrNotFound, "ticket not found")
	ErrSlotNotFound       = kindError(ErrNotFound, "timeslot not found")
	ErrUserNotFound       = kindError(ErrNotFound, "user not found")
	ErrCodeMismatch       = kindError(ErrValidation, "verification code mismatch")
	ErrInvalidPhone       = kindError(ErrValidation, "invalid phone number")
	ErrInvalidTicketCode  = kindError(ErrValidation, "invalid ticket code")
	ErrTooManyRequests    = kindError(ErrValidation, "too many requests")
	ErrInvalidCoordinates = kindError(ErrValidation, "invalid coordinates")
	ErrActiveTicketExists = kindError(ErrConflict, "user already holds a valid ticket")
	ErrInvalidState       = kindError(ErrConflict, "invalid ticket state")
	ErrSlotPassed         = kindError(ErrConflict, "timeslot already passed")
	ErrSlotFull           = kindError(ErrConflict, "timeslot fully booked")
	ErrStoreEmpty         = kindError(ErrConflict, "store is already empty")
)

type kindedError struct {
	kind error
	msg  string
}

func kindError(kind error, msg string) error {
	return &kindedError{kind: kind, msg: msg}
}

func (e *kindedError) Error() string { return e.msg }

func (e *kindedError) Unwrap() error { return e.kind }

// KindOf returns the error kind err belongs to, or nil for unclassified errors.
func KindOf(err error) error {
	for _, kind := range []error{ErrNotFound, ErrInvalidToken, ErrConflict, ErrValidation} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
