package access

import "time"

// InvitationTTL is the fixed validity window of an admin invitation.
const InvitationTTL = 24 * time.Hour

// Invitation is one admin invitation. Rows are kept forever for the
// audit trail; expiry is passive and checked on every read.
type Invitation struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	TokenDigest string     `json:"-"`
	InvitedBy   string     `json:"invited_by"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	UsedAt      *time.Time `json:"used_at,omitempty"`
}

// Active reports whether the invitation can still be accepted at now.
func (inv Invitation) Active(now time.Time) bool {
	return inv.UsedAt == nil && inv.ExpiresAt.After(now)
}
