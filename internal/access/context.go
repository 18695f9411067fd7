package access

import (
	"context"
	"strings"
)

type ctxKey string

const (
	subjectIDKey    ctxKey = "access_subject_id"
	subjectEmailKey ctxKey = "access_subject_email"
)

// ContextWithSubject stores the verified subject identity in the context.
func ContextWithSubject(ctx context.Context, subjectID, email string) context.Context {
	ctx = context.WithValue(ctx, subjectIDKey, strings.TrimSpace(subjectID))
	email = strings.TrimSpace(strings.ToLower(email))
	if email != "" {
		ctx = context.WithValue(ctx, subjectEmailKey, email)
	}
	return ctx
}

// SubjectIDFromContext extracts the verified subject id from context.
func SubjectIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(subjectIDKey).(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// SubjectEmailFromContext returns the subject email if present.
func SubjectEmailFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(subjectEmailKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
