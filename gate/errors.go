package gate

import "errors"

var (
	// ErrUnauthenticated means the subject carries no user.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden means the user is known but not allowed.
	ErrForbidden = errors.New("forbidden")
)
