package access

import "time"

// SubjectRecord joins a directory subject with its role row, the shape
// administrators browse when picking a target for a role change.
type SubjectRecord struct {
	SubjectID     string    `json:"subject_id"`
	Email         string    `json:"email"`
	Role          Role      `json:"role"`
	IsSystemOwner bool      `json:"is_system_owner"`
	CreatedAt     time.Time `json:"created_at"`
}

// SubjectFilter narrows a subject listing. Zero values mean "no
// constraint".
type SubjectFilter struct {
	Role  Role
	Page  int
	Limit int
}
