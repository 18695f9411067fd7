package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// AdminContext proves that a subject passed the authorization gate. The
// subject id is unexported so the only way to obtain a usable value is
// Service.Authorize; every privileged Service method demands one, which
// keeps the mutation entry points unreachable without a prior check.
type AdminContext struct {
	subjectID string
	origin    string
}

// SubjectID returns the acting admin's subject id.
func (a AdminContext) SubjectID() string { return a.subjectID }

// Origin returns the client origin address captured for audit metadata.
func (a AdminContext) Origin() string { return a.origin }

// Authorize is the single mandatory checkpoint for privileged
// operations. It succeeds only if the subject currently holds the admin
// role; on failure it performs no side effect and writes no audit entry.
func (s *Service) Authorize(ctx context.Context, subjectID, origin string) (AdminContext, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return AdminContext{}, ErrForbidden
	}
	assignment, err := s.store.Role(ctx, subjectID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return AdminContext{}, ErrForbidden
		}
		return AdminContext{}, fmt.Errorf("resolve role: %w", err)
	}
	if assignment.Role != RoleAdmin {
		return AdminContext{}, ErrForbidden
	}
	return AdminContext{subjectID: subjectID, origin: strings.TrimSpace(origin)}, nil
}
