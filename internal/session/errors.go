package session

import "errors"

var (
	// ErrInvalidCode means the submitted code is not exactly the
	// required number of decimal digits. Transient; the session stays
	// in AwaitingCode.
	ErrInvalidCode = errors.New("session: code must be exactly 4 decimal digits")

	// ErrCodeAlreadySet means a code was already accepted for this
	// session. Codes are immutable once submitted.
	ErrCodeAlreadySet = errors.New("session: code already submitted")

	// ErrNoSession means no session is active.
	ErrNoSession = errors.New("session: no active session")

	// ErrSessionActive means a non-terminal session already exists.
	ErrSessionActive = errors.New("session: a session is already in progress")

	// ErrSessionTerminal means the operation needs a live session but
	// the current one already finished.
	ErrSessionTerminal = errors.New("session: session already finished")
)
