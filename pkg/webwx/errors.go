package webwx

import "errors"

var (
	// ErrSessionInvalid means the server revoked the session (synccheck
	// retcode 1102) or login could not be completed. The caller must log
	// in again.
	ErrSessionInvalid = errors.New("webwx: session invalid")

	ErrUnknownHost  = errors.New("webwx: unknown deployment host")
	ErrMissingField = errors.New("webwx: missing required field")
	ErrQRExpired    = errors.New("webwx: qr code expired")
	ErrInitRejected = errors.New("webwx: init rejected")
	ErrNotLoggedIn  = errors.New("webwx: not logged in")
)
