package access

import "errors"

var (
	ErrNotFound     = errors.New("access: not found")
	ErrInvalidInput = errors.New("access: invalid input")

	// ErrForbidden covers both a caller without the admin role and an
	// operation targeting the protected system owner.
	ErrForbidden = errors.New("access: forbidden")

	// ErrConflict is returned when an active record already satisfies the
	// requested transition (duplicate invitation, already-admin target).
	ErrConflict = errors.New("access: conflict")

	// ErrInvalidOrExpired deliberately collapses every accept failure
	// (wrong secret, already used, expired, unknown subject) into one
	// response so callers cannot probe invitation state.
	ErrInvalidOrExpired = errors.New("access: invitation invalid or expired")

	// ErrConfig signals unmet bootstrap preconditions. Fatal; requires
	// operator intervention.
	ErrConfig = errors.New("access: configuration error")
)
