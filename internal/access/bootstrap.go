package access

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"habar.org/internal/audit"
	"habar.org/internal/identity"
)

const (
	envInitialAdminEmail    = "HABAR_INITIAL_ADMIN_EMAIL"
	envInitialAdminPassword = "HABAR_INITIAL_ADMIN_PASSWORD"

	minBootstrapPasswordLength = 8
)

// BootstrapCredential is the trusted out-of-band operator credential
// used exactly once to create the system owner.
type BootstrapCredential struct {
	Email    string
	Password string
}

// BootstrapCredentialFromEnv reads the operator credential. Validation
// happens inside Bootstrap so the idempotent short-circuit paths work
// even without configuration.
func BootstrapCredentialFromEnv() BootstrapCredential {
	return BootstrapCredential{
		Email:    os.Getenv(envInitialAdminEmail),
		Password: os.Getenv(envInitialAdminPassword),
	}
}

// BootstrapResult reports the outcome of a bootstrap attempt.
type BootstrapResult struct {
	Completed bool   `json:"completed"`
	Created   bool   `json:"created"`
	AdminID   string `json:"admin_id,omitempty"`
	Message   string `json:"message"`
}

// Bootstrap creates the first system-owner administrator. It is safe to
// run repeatedly and concurrently: completed runs and pre-existing
// admins short-circuit to success, and the single-owner constraint in
// the store closes the duplicate-owner race.
func (s *Service) Bootstrap(ctx context.Context, cred BootstrapCredential, origin string) (BootstrapResult, error) {
	completed, err := s.store.BootstrapCompleted(ctx)
	if err != nil {
		return BootstrapResult{}, fmt.Errorf("read bootstrap marker: %w", err)
	}
	if completed {
		return BootstrapResult{Completed: true, Message: "bootstrap already completed"}, nil
	}

	admins, err := s.store.AdminCount(ctx)
	if err != nil {
		return BootstrapResult{}, fmt.Errorf("count admins: %w", err)
	}
	if admins > 0 {
		if err := s.store.MarkBootstrapCompleted(ctx); err != nil {
			return BootstrapResult{}, fmt.Errorf("mark bootstrap completed: %w", err)
		}
		return BootstrapResult{Completed: true, Message: "admin already exists"}, nil
	}

	// Fail closed: never proceed with a missing or weak credential.
	email, err := validateBootstrapCredential(cred)
	if err != nil {
		return BootstrapResult{}, err
	}

	hash, err := identity.HashPassword(cred.Password)
	if err != nil {
		return BootstrapResult{}, fmt.Errorf("hash credential: %w", err)
	}

	subject, err := s.directory.FindByEmail(ctx, email)
	if errors.Is(err, identity.ErrNotFound) {
		subject, err = s.directory.Register(ctx, email, hash)
	}
	if err != nil {
		return BootstrapResult{}, fmt.Errorf("provision subject: %w", err)
	}

	entry := s.newEntry(subject.ID, audit.ActionBootstrap, subject.ID, origin, map[string]string{
		"email":           email,
		"is_system_owner": "true",
		"created_via":     "environment",
	})
	created, err := s.store.MarkSystemOwner(ctx, subject.ID, &entry)
	if err != nil {
		return BootstrapResult{}, fmt.Errorf("mark system owner: %w", err)
	}
	if !created {
		// A concurrent replica won the race; its transaction flipped the
		// marker and wrote the audit entry.
		return BootstrapResult{Completed: true, Message: "admin already exists"}, nil
	}
	audit.LogEntry(entry)
	return BootstrapResult{
		Completed: true,
		Created:   true,
		AdminID:   subject.ID,
		Message:   "system owner created",
	}, nil
}

func validateBootstrapCredential(cred BootstrapCredential) (string, error) {
	email := strings.TrimSpace(strings.ToLower(cred.Email))
	if email == "" || !strings.Contains(email, "@") {
		return "", fmt.Errorf("%w: %s is missing or invalid", ErrConfig, envInitialAdminEmail)
	}
	if len(cred.Password) < minBootstrapPasswordLength {
		return "", fmt.Errorf("%w: %s must be at least %d characters", ErrConfig, envInitialAdminPassword, minBootstrapPasswordLength)
	}
	return email, nil
}
