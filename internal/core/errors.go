package core

import "errors"

var (
	// ErrUnauthenticated is returned when an operation needs a bound identity
	// and the session has none.
	ErrUnauthenticated = errors.New("no current user bound to session")
	// ErrUserNotFound is returned when the bound identity has no presence record.
	ErrUserNotFound = errors.New("current user has no presence record")
	// ErrForbidden is returned when the bound identity's role does not allow
	// the operation.
	ErrForbidden = errors.New("operation not allowed for current role")
)
