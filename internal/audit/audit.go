// Package audit defines the append-only record of privileged actions.
// Entries are written in the same transaction as the mutation they
// describe; the public contract exposes no update or delete.
package audit

import (
	"context"
	"fmt"
	"time"
)

// Action is the closed set of auditable privileged actions.
type Action string

const (
	ActionBootstrap       Action = "bootstrap"
	ActionInviteCreated   Action = "invite.created"
	ActionInviteAccepted  Action = "invite.accepted"
	ActionAccessRevoked   Action = "access.revoked"
	ActionRoleChanged     Action = "role.changed"
	ActionSettingsUpdated Action = "settings.updated"
)

// ParseAction validates an action name supplied as a query filter.
func ParseAction(raw string) (Action, error) {
	switch Action(raw) {
	case ActionBootstrap, ActionInviteCreated, ActionInviteAccepted,
		ActionAccessRevoked, ActionRoleChanged, ActionSettingsUpdated:
		return Action(raw), nil
	default:
		return "", fmt.Errorf("unknown audit action %q", raw)
	}
}

func (a Action) String() string { return string(a) }

// Entry is one immutable record of a privileged action.
type Entry struct {
	ID              string            `json:"id"`
	AdminID         string            `json:"admin_id"`
	Action          Action            `json:"action"`
	TargetSubjectID string            `json:"target_subject_id,omitempty"`
	Metadata        map[string]string `json:"metadata"`
	Origin          string            `json:"origin,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// Filter narrows a ledger query. Zero values mean "no constraint".
type Filter struct {
	Action Action
	From   time.Time
	To     time.Time
	Page   int
	Limit  int
}

// Store is the durable ledger. Append is called only from storage
// transactions that also apply the corresponding mutation; Query is the
// sole read path and orders entries by created_at descending.
type Store interface {
	Query(ctx context.Context, filter Filter) ([]Entry, int, error)
}
