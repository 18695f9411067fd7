// Package identity adapts the identity provider the control plane sits
// behind. The core only ever sees verified subject identifiers; this
// package owns registration, credential checks and token issuance.
package identity

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("identity: subject not found")
	ErrAlreadyExists = errors.New("identity: subject already exists")
	ErrInvalidInput  = errors.New("identity: invalid input")
	ErrBadCredential = errors.New("identity: bad credential")
)

// Subject is an authenticated principal. The control plane references
// subjects but does not own them.
type Subject struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Directory is the subject lookup and provisioning surface the access
// core depends on.
type Directory interface {
	Find(ctx context.Context, id string) (Subject, error)
	FindByEmail(ctx context.Context, email string) (Subject, error)
	// Register creates a subject with the given credential hash and a
	// default reader role row. Returns ErrAlreadyExists on duplicate email.
	Register(ctx context.Context, email, passwordHash string) (Subject, error)
	// CredentialHash returns the stored password hash for login checks.
	CredentialHash(ctx context.Context, email string) (Subject, string, error)
}
