package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"habar.org/internal/access"
	"habar.org/internal/audit"
)

var _ access.Store = (*Store)(nil)

const bootstrapSettingKey = "bootstrap_completed"

func (s *Store) Role(ctx context.Context, subjectID string) (access.RoleAssignment, error) {
	var ra access.RoleAssignment
	err := s.db.QueryRowContext(ctx, `
		select subject_id, role, is_system_owner, created_at, updated_at
		from user_roles where subject_id=$1
	`, subjectID).Scan(&ra.SubjectID, &ra.Role, &ra.IsSystemOwner, &ra.CreatedAt, &ra.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return access.RoleAssignment{}, access.ErrNotFound
	}
	if err != nil {
		return access.RoleAssignment{}, err
	}
	return ra, nil
}

// SetRole applies the role change and its audit entry in one
// transaction. The system-owner guard runs against a locked row so a
// concurrent owner promotion cannot slip past it.
func (s *Store) SetRole(ctx context.Context, subjectID string, newRole access.Role, entry *audit.Entry) (access.RoleAssignment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return access.RoleAssignment{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		prev  access.Role
		owner bool
	)
	err = tx.QueryRowContext(ctx, `
		select role, is_system_owner from user_roles where subject_id=$1 for update
	`, subjectID).Scan(&prev, &owner)
	if errors.Is(err, sql.ErrNoRows) {
		return access.RoleAssignment{}, access.ErrNotFound
	}
	if err != nil {
		return access.RoleAssignment{}, err
	}
	if owner && newRole != access.RoleAdmin {
		return access.RoleAssignment{}, fmt.Errorf("%w: system owner role is protected", access.ErrForbidden)
	}

	var ra access.RoleAssignment
	err = tx.QueryRowContext(ctx, `
		update user_roles set role=$2, updated_at=now()
		where subject_id=$1
		returning subject_id, role, is_system_owner, created_at, updated_at
	`, subjectID, newRole.String()).Scan(&ra.SubjectID, &ra.Role, &ra.IsSystemOwner, &ra.CreatedAt, &ra.UpdatedAt)
	if err != nil {
		return access.RoleAssignment{}, err
	}

	entry.Metadata["previous_role"] = prev.String()
	entry.Metadata["new_role"] = newRole.String()
	if err := insertAudit(ctx, tx, entry); err != nil {
		return access.RoleAssignment{}, err
	}
	if err := tx.Commit(); err != nil {
		return access.RoleAssignment{}, err
	}
	return ra, nil
}

// MarkSystemOwner promotes the subject, flips the bootstrap marker and
// appends the audit entry atomically. The partial unique index on
// is_system_owner turns the duplicate-owner race into a unique
// violation, which reads as "someone else won".
func (s *Store) MarkSystemOwner(ctx context.Context, subjectID string, entry *audit.Entry) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var existing string
	err = tx.QueryRowContext(ctx, `
		select subject_id from user_roles where is_system_owner limit 1
	`).Scan(&existing)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, err
	}

	if _, err := tx.ExecContext(ctx, `
		insert into user_roles(subject_id, role, is_system_owner)
		values ($1, 'admin', true)
		on conflict (subject_id) do update
		set role='admin', is_system_owner=true, updated_at=now()
	`, subjectID); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return false, nil
		}
		return false, err
	}

	if err := setSetting(ctx, tx, bootstrapSettingKey, json.RawMessage(`{"completed": true}`), subjectID); err != nil {
		return false, err
	}
	if err := insertAudit(ctx, tx, entry); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) AdminCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `select count(*) from user_roles where role='admin'`).Scan(&n)
	return n, err
}

func (s *Store) ListAdmins(ctx context.Context) ([]access.RoleAssignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		select subject_id, role, is_system_owner, created_at, updated_at
		from user_roles where role='admin'
		order by created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var admins []access.RoleAssignment
	for rows.Next() {
		var ra access.RoleAssignment
		if err := rows.Scan(&ra.SubjectID, &ra.Role, &ra.IsSystemOwner, &ra.CreatedAt, &ra.UpdatedAt); err != nil {
			return nil, err
		}
		admins = append(admins, ra)
	}
	return admins, rows.Err()
}

// ListSubjects joins subjects with their role rows, newest first, with
// the total count matching the filter. The filter role is matched with
// the same "empty means any" convention the audit query uses.
func (s *Store) ListSubjects(ctx context.Context, filter access.SubjectFilter) ([]access.SubjectRecord, int, error) {
	where := `where ($1 = '' or r.role = $1)`

	var total int
	if err := s.db.QueryRowContext(ctx, `
		select count(*) from subjects s
		join user_roles r on r.subject_id = s.id `+where,
		filter.Role.String(),
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	offset := (filter.Page - 1) * filter.Limit

	rows, err := s.db.QueryContext(ctx, `
		select s.id, s.email, r.role, r.is_system_owner, s.created_at
		from subjects s
		join user_roles r on r.subject_id = s.id `+where+`
		order by s.created_at desc, s.id
		limit $2 offset $3
	`, filter.Role.String(), filter.Limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var subjects []access.SubjectRecord
	for rows.Next() {
		var rec access.SubjectRecord
		if err := rows.Scan(&rec.SubjectID, &rec.Email, &rec.Role, &rec.IsSystemOwner, &rec.CreatedAt); err != nil {
			return nil, 0, err
		}
		subjects = append(subjects, rec)
	}
	return subjects, total, rows.Err()
}

func (s *Store) RoleCounts(ctx context.Context) (map[access.Role]int, error) {
	rows, err := s.db.QueryContext(ctx, `select role, count(*) from user_roles group by role`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[access.Role]int{
		access.RoleReader:     0,
		access.RoleJournalist: 0,
		access.RoleEditor:     0,
		access.RoleAdmin:      0,
	}
	for rows.Next() {
		var role access.Role
		var n int
		if err := rows.Scan(&role, &n); err != nil {
			return nil, err
		}
		counts[role] = n
	}
	return counts, rows.Err()
}

func (s *Store) IsAdminEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		select exists(
			select 1 from subjects s
			join user_roles r on r.subject_id = s.id
			where s.email=$1 and r.role='admin'
		)
	`, email).Scan(&exists)
	return exists, err
}

// CreateInvitation serializes writers per email with an advisory
// transaction lock, then inserts only if no active invitation exists.
// A predicate index cannot express "unexpired", so the check and the
// insert run under the lock instead.
func (s *Store) CreateInvitation(ctx context.Context, inv *access.Invitation, entry *audit.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `select pg_advisory_xact_lock(hashtext($1))`, inv.Email); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `
		insert into admin_invitations(id, email, token_digest, invited_by, created_at, expires_at)
		select $1, $2, $3, $4, $5, $6
		where not exists (
			select 1 from admin_invitations
			where email=$2 and used_at is null and expires_at > $5
		)
	`, inv.ID, inv.Email, inv.TokenDigest, inv.InvitedBy, inv.CreatedAt, inv.ExpiresAt)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: active invitation already exists", access.ErrConflict)
	}

	if err := insertAudit(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

// ConsumeInvitation flips used_at with a conditional update so exactly
// one of two racing accepts wins, then promotes the subject and writes
// the audit entry in the same transaction.
func (s *Store) ConsumeInvitation(ctx context.Context, email, tokenDigest, subjectID string, now time.Time, entry *audit.Entry) (access.Invitation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return access.Invitation{}, err
	}
	defer func() { _ = tx.Rollback() }()

	inv := access.Invitation{Email: email, TokenDigest: tokenDigest}
	err = tx.QueryRowContext(ctx, `
		update admin_invitations set used_at=$3
		where email=$1 and token_digest=$2 and used_at is null and expires_at > $3
		returning id, invited_by, created_at, expires_at, used_at
	`, email, tokenDigest, now).Scan(&inv.ID, &inv.InvitedBy, &inv.CreatedAt, &inv.ExpiresAt, &inv.UsedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return access.Invitation{}, access.ErrNotFound
	}
	if err != nil {
		return access.Invitation{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		insert into user_roles(subject_id, role)
		values ($1, 'admin')
		on conflict (subject_id) do update set role='admin', updated_at=now()
	`, subjectID); err != nil {
		return access.Invitation{}, err
	}

	entry.AdminID = inv.InvitedBy
	entry.Metadata["invitation_id"] = inv.ID
	if err := insertAudit(ctx, tx, entry); err != nil {
		return access.Invitation{}, err
	}
	if err := tx.Commit(); err != nil {
		return access.Invitation{}, err
	}
	return inv, nil
}

func (s *Store) ListInvitations(ctx context.Context) ([]access.Invitation, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, email, token_digest, invited_by, created_at, expires_at, used_at
		from admin_invitations
		order by created_at desc
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []access.Invitation
	for rows.Next() {
		var inv access.Invitation
		if err := rows.Scan(&inv.ID, &inv.Email, &inv.TokenDigest, &inv.InvitedBy, &inv.CreatedAt, &inv.ExpiresAt, &inv.UsedAt); err != nil {
			return nil, err
		}
		result = append(result, inv)
	}
	return result, rows.Err()
}

func (s *Store) InvitationCounts(ctx context.Context, now time.Time) (int, int, error) {
	var active, total int
	err := s.db.QueryRowContext(ctx, `
		select count(*) filter (where used_at is null and expires_at > $1), count(*)
		from admin_invitations
	`, now).Scan(&active, &total)
	return active, total, err
}

func (s *Store) BootstrapCompleted(ctx context.Context) (bool, error) {
	var completed bool
	err := s.db.QueryRowContext(ctx, `
		select coalesce(value->>'completed','false')::bool
		from admin_settings where key=$1
	`, bootstrapSettingKey).Scan(&completed)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return completed, err
}

func (s *Store) MarkBootstrapCompleted(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := setSetting(ctx, tx, bootstrapSettingKey, json.RawMessage(`{"completed": true}`), ""); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) Setting(ctx context.Context, key string) (json.RawMessage, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `select value from admin_settings where key=$1`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}

func (s *Store) UpdateSetting(ctx context.Context, key string, value json.RawMessage, entry *audit.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := setSetting(ctx, tx, key, value, entry.AdminID); err != nil {
		return err
	}
	if err := insertAudit(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) AuditCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `select count(*) from audit_log`).Scan(&n)
	return n, err
}

func setSetting(ctx context.Context, tx *sql.Tx, key string, value json.RawMessage, updatedBy string) error {
	_, err := tx.ExecContext(ctx, `
		insert into admin_settings(key, value, updated_by, updated_at)
		values ($1, $2, nullif($3,''), now())
		on conflict (key) do update
		set value=excluded.value, updated_by=excluded.updated_by, updated_at=now()
	`, key, []byte(value), updatedBy)
	return err
}
