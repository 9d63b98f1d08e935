package session

import "github.com/pkg/errors"

var (
	// ErrSessionNotFound reports an operation on an unknown session id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrPairingTimeout reports that no pairing code arrived within the wait
	// window. Distinct from ErrSessionNotFound.
	ErrPairingTimeout = errors.New("pairing image timeout")
	// ErrSendFailure wraps protocol-layer send failures.
	ErrSendFailure = errors.New("send failure")
	// ErrLogoutFailure wraps protocol-layer logout failures.
	ErrLogoutFailure = errors.New("logout failure")
	// ErrRegistryClosed reports operations after Shutdown.
	ErrRegistryClosed = errors.New("session registry closed")
)
