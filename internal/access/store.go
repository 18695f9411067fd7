package access

import (
	"context"
	"encoding/json"
	"time"

	"habar.org/internal/audit"
)

// Store describes the persistence operations the control plane needs.
// Mutating methods take the prepared audit entry and commit it in the
// same transaction as the mutation: a privileged change can never
// become visible without its audit counterpart.
//
// Implementations may complete entry fields that are only known inside
// the transaction (previous role, invitation id, inviting admin).
type Store interface {
	// Role returns the authoritative role row for a subject.
	Role(ctx context.Context, subjectID string) (RoleAssignment, error)

	// SetRole updates a subject's role. Returns ErrForbidden when the
	// target is the system owner and newRole is not admin; the check and
	// the update are atomic.
	SetRole(ctx context.Context, subjectID string, newRole Role, entry *audit.Entry) (RoleAssignment, error)

	// MarkSystemOwner promotes the subject to admin with the owner flag
	// set, flips the bootstrap marker and appends the audit entry, all in
	// one transaction guarded by the single-owner constraint. Reports
	// false without error when an owner already exists.
	MarkSystemOwner(ctx context.Context, subjectID string, entry *audit.Entry) (bool, error)

	AdminCount(ctx context.Context) (int, error)
	ListAdmins(ctx context.Context) ([]RoleAssignment, error)
	RoleCounts(ctx context.Context) (map[Role]int, error)

	// ListSubjects returns directory subjects joined with their role
	// rows, newest first, plus the total count matching the filter.
	ListSubjects(ctx context.Context, filter SubjectFilter) ([]SubjectRecord, int, error)

	// IsAdminEmail reports whether the email resolves to a subject that
	// currently holds the admin role.
	IsAdminEmail(ctx context.Context, email string) (bool, error)

	// CreateInvitation inserts the invitation unless an active one
	// already exists for the email (ErrConflict). The uniqueness check
	// and the insert are serialized per email.
	CreateInvitation(ctx context.Context, inv *Invitation, entry *audit.Entry) error

	// ConsumeInvitation marks the matching live invitation used and
	// promotes the subject to admin in one transaction. The used_at flip
	// is conditional on used_at still being null, so concurrent accepts
	// have exactly one winner. Returns ErrNotFound when no live
	// invitation matches.
	ConsumeInvitation(ctx context.Context, email, tokenDigest, subjectID string, now time.Time, entry *audit.Entry) (Invitation, error)

	ListInvitations(ctx context.Context) ([]Invitation, error)
	InvitationCounts(ctx context.Context, now time.Time) (active, total int, err error)

	BootstrapCompleted(ctx context.Context) (bool, error)
	MarkBootstrapCompleted(ctx context.Context) error

	Setting(ctx context.Context, key string) (json.RawMessage, error)
	UpdateSetting(ctx context.Context, key string, value json.RawMessage, entry *audit.Entry) error

	AuditCount(ctx context.Context) (int, error)
}
