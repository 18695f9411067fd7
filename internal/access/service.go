// Package access implements the privileged-access control plane: it
// decides who is an administrator, how new administrators are invited
// and provisioned, and guarantees that every privileged mutation is
// authorized and audited.
package access

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"habar.org/internal/audit"
	"habar.org/internal/identity"
	"habar.org/internal/ids"
)

// Service provides every privileged operation. All mutating methods
// require an AdminContext minted by Authorize, except AcceptInvitation
// (driven by the invited subject) and Bootstrap (driven by operator
// configuration).
type Service struct {
	store     Store
	auditLog  audit.Store
	directory identity.Directory
	now       func() time.Time
	newSecret func() (string, error)
}

// Option configures Service behavior.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithSecretSource overrides invitation secret generation (tests only).
func WithSecretSource(fn func() (string, error)) Option {
	return func(s *Service) {
		if fn != nil {
			s.newSecret = fn
		}
	}
}

// NewService constructs the control plane service.
func NewService(store Store, auditLog audit.Store, directory identity.Directory, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("access store is required")
	}
	if auditLog == nil {
		return nil, errors.New("audit store is required")
	}
	if directory == nil {
		return nil, errors.New("identity directory is required")
	}
	svc := &Service{
		store:     store,
		auditLog:  auditLog,
		directory: directory,
		now:       time.Now,
		newSecret: NewSecret,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// InvitationGrant is the one-time response to a successful invite: the
// plaintext secret is returned here and nowhere else.
type InvitationGrant struct {
	Secret     string     `json:"secret"`
	Invitation Invitation `json:"invitation"`
}

// CreateInvitation issues a single-use admin invitation for the email.
// Conflict when the email already maps to an admin subject or an active
// invitation exists.
func (s *Service) CreateInvitation(ctx context.Context, admin AdminContext, email string) (InvitationGrant, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return InvitationGrant{}, err
	}

	isAdmin, err := s.store.IsAdminEmail(ctx, email)
	if err != nil {
		return InvitationGrant{}, fmt.Errorf("check admin email: %w", err)
	}
	if isAdmin {
		return InvitationGrant{}, fmt.Errorf("%w: subject is already an admin", ErrConflict)
	}

	secret, err := s.newSecret()
	if err != nil {
		return InvitationGrant{}, fmt.Errorf("generate secret: %w", err)
	}

	now := s.now().UTC()
	inv := Invitation{
		ID:          ids.New(),
		Email:       email,
		TokenDigest: Digest(secret),
		InvitedBy:   admin.SubjectID(),
		CreatedAt:   now,
		ExpiresAt:   now.Add(InvitationTTL),
	}
	entry := s.newEntry(admin.SubjectID(), audit.ActionInviteCreated, "", admin.Origin(), map[string]string{
		"email":         email,
		"invitation_id": inv.ID,
		"expires_at":    inv.ExpiresAt.Format(time.RFC3339),
	})
	if err := s.store.CreateInvitation(ctx, &inv, &entry); err != nil {
		return InvitationGrant{}, err
	}
	audit.LogEntry(entry)
	return InvitationGrant{Secret: secret, Invitation: inv}, nil
}

// AcceptInvitation redeems a live invitation and promotes the subject to
// admin. Every failure collapses to ErrInvalidOrExpired so the response
// never reveals which precondition failed.
func (s *Service) AcceptInvitation(ctx context.Context, email, secret string) (Invitation, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return Invitation{}, ErrInvalidOrExpired
	}
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return Invitation{}, ErrInvalidOrExpired
	}

	subject, err := s.directory.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return Invitation{}, ErrInvalidOrExpired
		}
		return Invitation{}, fmt.Errorf("resolve subject: %w", err)
	}

	now := s.now().UTC()
	// AdminID is the inviting admin; the store fills it from the matched
	// invitation inside the transaction.
	entry := s.newEntry("", audit.ActionInviteAccepted, subject.ID, "", map[string]string{
		"email": email,
	})
	inv, err := s.store.ConsumeInvitation(ctx, email, Digest(secret), subject.ID, now, &entry)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Invitation{}, ErrInvalidOrExpired
		}
		return Invitation{}, err
	}
	audit.LogEntry(entry)
	return inv, nil
}

// RevokeAdmin downgrades the target to reader. Forbidden when the
// target is the system owner.
func (s *Service) RevokeAdmin(ctx context.Context, admin AdminContext, targetID string) (RoleAssignment, error) {
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return RoleAssignment{}, fmt.Errorf("%w: target subject id is required", ErrInvalidInput)
	}
	entry := s.newEntry(admin.SubjectID(), audit.ActionAccessRevoked, targetID, admin.Origin(), nil)
	assignment, err := s.store.SetRole(ctx, targetID, RoleReader, &entry)
	if err != nil {
		return RoleAssignment{}, err
	}
	audit.LogEntry(entry)
	return assignment, nil
}

// ChangeRole sets the target's role. Forbidden when the target is the
// system owner and the new role is not admin.
func (s *Service) ChangeRole(ctx context.Context, admin AdminContext, targetID string, newRole Role) (RoleAssignment, error) {
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return RoleAssignment{}, fmt.Errorf("%w: target subject id is required", ErrInvalidInput)
	}
	entry := s.newEntry(admin.SubjectID(), audit.ActionRoleChanged, targetID, admin.Origin(), map[string]string{
		"new_role": newRole.String(),
	})
	assignment, err := s.store.SetRole(ctx, targetID, newRole, &entry)
	if err != nil {
		return RoleAssignment{}, err
	}
	audit.LogEntry(entry)
	return assignment, nil
}

// UpdateSetting writes a JSON settings value under the given key.
func (s *Service) UpdateSetting(ctx context.Context, admin AdminContext, key string, value json.RawMessage) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("%w: settings key is required", ErrInvalidInput)
	}
	if !json.Valid(value) {
		return fmt.Errorf("%w: settings value must be valid JSON", ErrInvalidInput)
	}
	entry := s.newEntry(admin.SubjectID(), audit.ActionSettingsUpdated, "", admin.Origin(), map[string]string{
		"key":   key,
		"value": string(value),
	})
	if err := s.store.UpdateSetting(ctx, key, value, &entry); err != nil {
		return err
	}
	audit.LogEntry(entry)
	return nil
}

// Setting reads a single settings value by key.
func (s *Service) Setting(ctx context.Context, _ AdminContext, key string) (json.RawMessage, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("%w: settings key is required", ErrInvalidInput)
	}
	return s.store.Setting(ctx, key)
}

// ListSubjects returns subjects with their roles so an administrator
// can locate targets for role changes and revocations.
func (s *Service) ListSubjects(ctx context.Context, _ AdminContext, filter SubjectFilter) ([]SubjectRecord, int, error) {
	filter.Page, filter.Limit = normalizePage(filter.Page, filter.Limit)
	return s.store.ListSubjects(ctx, filter)
}

// ListAudit returns ledger entries, newest first.
func (s *Service) ListAudit(ctx context.Context, _ AdminContext, filter audit.Filter) ([]audit.Entry, int, error) {
	filter.Page, filter.Limit = normalizePage(filter.Page, filter.Limit)
	return s.auditLog.Query(ctx, filter)
}

// normalizePage applies list paging defaults: page starts at 1, limit
// defaults to 50 and is capped at 200.
func normalizePage(page, limit int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	if page <= 0 {
		page = 1
	}
	return page, limit
}

// ListInvitations returns every invitation, newest first.
func (s *Service) ListInvitations(ctx context.Context, _ AdminContext) ([]Invitation, error) {
	return s.store.ListInvitations(ctx)
}

// ListAdmins returns the current admin role rows.
func (s *Service) ListAdmins(ctx context.Context, _ AdminContext) ([]RoleAssignment, error) {
	return s.store.ListAdmins(ctx)
}

// Overview is a read-only projection for the admin dashboard.
type Overview struct {
	RoleCounts        map[Role]int `json:"role_counts"`
	ActiveInvitations int          `json:"active_invitations"`
	TotalInvitations  int          `json:"total_invitations"`
	AuditEntries      int          `json:"audit_entries"`
}

// Overview aggregates control-plane counters. Read-only; not audited.
func (s *Service) Overview(ctx context.Context, _ AdminContext) (Overview, error) {
	counts, err := s.store.RoleCounts(ctx)
	if err != nil {
		return Overview{}, err
	}
	active, total, err := s.store.InvitationCounts(ctx, s.now().UTC())
	if err != nil {
		return Overview{}, err
	}
	auditTotal, err := s.store.AuditCount(ctx)
	if err != nil {
		return Overview{}, err
	}
	return Overview{
		RoleCounts:        counts,
		ActiveInvitations: active,
		TotalInvitations:  total,
		AuditEntries:      auditTotal,
	}, nil
}

func (s *Service) newEntry(actorID string, action audit.Action, target, origin string, meta map[string]string) audit.Entry {
	if meta == nil {
		meta = map[string]string{}
	}
	return audit.Entry{
		ID:              ids.New(),
		AdminID:         actorID,
		Action:          action,
		TargetSubjectID: target,
		Metadata:        meta,
		Origin:          origin,
		CreatedAt:       s.now().UTC(),
	}
}

func normalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return "", fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	return email, nil
}
