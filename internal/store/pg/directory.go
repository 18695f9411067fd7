package pg

import (
	"context"
	"database/sql"
	"errors"

	"habar.org/internal/identity"
	"habar.org/internal/ids"
)

var _ identity.Directory = (*Store)(nil)

func (s *Store) Find(ctx context.Context, id string) (identity.Subject, error) {
	var sub identity.Subject
	err := s.db.QueryRowContext(ctx, `
		select id, email, created_at from subjects where id=$1
	`, id).Scan(&sub.ID, &sub.Email, &sub.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.Subject{}, identity.ErrNotFound
	}
	if err != nil {
		return identity.Subject{}, err
	}
	return sub, nil
}

func (s *Store) FindByEmail(ctx context.Context, email string) (identity.Subject, error) {
	var sub identity.Subject
	err := s.db.QueryRowContext(ctx, `
		select id, email, created_at from subjects where email=$1
	`, email).Scan(&sub.ID, &sub.Email, &sub.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.Subject{}, identity.ErrNotFound
	}
	if err != nil {
		return identity.Subject{}, err
	}
	return sub, nil
}

// Register creates the subject and its default reader role row in one
// transaction, so a registered subject always has a role assignment.
func (s *Store) Register(ctx context.Context, email, passwordHash string) (identity.Subject, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return identity.Subject{}, err
	}
	defer func() { _ = tx.Rollback() }()

	sub := identity.Subject{ID: ids.New(), Email: email}
	err = tx.QueryRowContext(ctx, `
		insert into subjects(id, email, password_hash)
		values ($1, $2, $3)
		returning created_at
	`, sub.ID, sub.Email, passwordHash).Scan(&sub.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return identity.Subject{}, identity.ErrAlreadyExists
		}
		return identity.Subject{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		insert into user_roles(subject_id, role)
		values ($1, 'reader')
		on conflict (subject_id) do nothing
	`, sub.ID); err != nil {
		return identity.Subject{}, err
	}
	if err := tx.Commit(); err != nil {
		return identity.Subject{}, err
	}
	return sub, nil
}

func (s *Store) CredentialHash(ctx context.Context, email string) (identity.Subject, string, error) {
	var (
		sub  identity.Subject
		hash string
	)
	err := s.db.QueryRowContext(ctx, `
		select id, email, created_at, password_hash from subjects where email=$1
	`, email).Scan(&sub.ID, &sub.Email, &sub.CreatedAt, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.Subject{}, "", identity.ErrNotFound
	}
	if err != nil {
		return identity.Subject{}, "", err
	}
	return sub, hash, nil
}
