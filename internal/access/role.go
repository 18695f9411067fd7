package access

import (
	"fmt"
	"strings"
	"time"
)

// Role is the closed set of roles a subject can hold.
type Role string

const (
	RoleReader     Role = "reader"
	RoleJournalist Role = "journalist"
	RoleEditor     Role = "editor"
	RoleAdmin      Role = "admin"
)

// ParseRole normalizes and validates a role name.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.TrimSpace(strings.ToLower(raw))) {
	case RoleReader:
		return RoleReader, nil
	case RoleJournalist:
		return RoleJournalist, nil
	case RoleEditor:
		return RoleEditor, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, raw)
	}
}

func (r Role) String() string { return string(r) }

// RoleAssignment is the single authoritative role row for a subject.
// Rows are never deleted; revocation downgrades the role to reader.
type RoleAssignment struct {
	SubjectID     string    `json:"subject_id"`
	Role          Role      `json:"role"`
	IsSystemOwner bool      `json:"is_system_owner"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
