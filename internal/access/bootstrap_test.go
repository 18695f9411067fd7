package access

import (
	"context"
	"errors"
	"testing"

	"habar.org/internal/audit"
	"habar.org/internal/identity"
)

func validCredential() BootstrapCredential {
	return BootstrapCredential{Email: "owner@example.com", Password: "long-enough-password"}
}

func TestBootstrapShortCircuitsWhenCompleted(t *testing.T) {
	store := &stubStore{
		bootstrapDoneFn: func(context.Context) (bool, error) { return true, nil },
		markSystemOwnerFn: func(context.Context, string, *audit.Entry) (bool, error) {
			t.Fatal("must not attempt owner creation after completion")
			return false, nil
		},
	}
	svc := newTestService(t, store, nil, nil)

	// No credential needed on the short-circuit path.
	result, err := svc.Bootstrap(context.Background(), BootstrapCredential{}, "")
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if !result.Completed || result.Created {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestBootstrapMarksCompletedWhenAdminExists(t *testing.T) {
	marked := false
	store := &stubStore{
		adminCountFn:    func(context.Context) (int, error) { return 3, nil },
		markBootstrapFn: func(context.Context) error { marked = true; return nil },
	}
	svc := newTestService(t, store, nil, nil)

	result, err := svc.Bootstrap(context.Background(), BootstrapCredential{}, "")
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if !result.Completed || result.Created {
		t.Fatalf("unexpected result: %+v", result)
	}
	if !marked {
		t.Fatal("bootstrap marker was not set")
	}
}

func TestBootstrapFailsClosedOnBadCredential(t *testing.T) {
	svc := newTestService(t, &stubStore{}, nil, nil)

	cases := map[string]BootstrapCredential{
		"missing email":  {Password: "long-enough-password"},
		"invalid email":  {Email: "not-an-email", Password: "long-enough-password"},
		"short password": {Email: "owner@example.com", Password: "short"},
	}
	for name, cred := range cases {
		if _, err := svc.Bootstrap(context.Background(), cred, ""); !errors.Is(err, ErrConfig) {
			t.Fatalf("%s: expected ErrConfig, got %v", name, err)
		}
	}
}

func TestBootstrapCreatesSystemOwner(t *testing.T) {
	var registeredHash string
	dir := &stubDirectory{
		registerFn: func(_ context.Context, email, hash string) (identity.Subject, error) {
			registeredHash = hash
			return identity.Subject{ID: "owner-1", Email: email}, nil
		},
	}
	var entry *audit.Entry
	store := &stubStore{
		markSystemOwnerFn: func(_ context.Context, id string, e *audit.Entry) (bool, error) {
			if id != "owner-1" {
				t.Fatalf("unexpected owner subject %q", id)
			}
			entry = e
			return true, nil
		},
	}
	svc := newTestService(t, store, dir, nil)

	result, err := svc.Bootstrap(context.Background(), validCredential(), "127.0.0.1")
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if !result.Completed || !result.Created || result.AdminID != "owner-1" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if registeredHash == "" || registeredHash == "long-enough-password" {
		t.Fatalf("password must be stored hashed, got %q", registeredHash)
	}
	if entry == nil || entry.Action != audit.ActionBootstrap {
		t.Fatalf("missing bootstrap audit entry: %+v", entry)
	}
	if entry.Metadata["is_system_owner"] != "true" || entry.Metadata["created_via"] != "environment" {
		t.Fatalf("audit metadata incomplete: %+v", entry.Metadata)
	}
}

func TestBootstrapReusesExistingSubject(t *testing.T) {
	registered := false
	dir := &stubDirectory{
		findByEmailFn: func(_ context.Context, email string) (identity.Subject, error) {
			return identity.Subject{ID: "existing-1", Email: email}, nil
		},
		registerFn: func(context.Context, string, string) (identity.Subject, error) {
			registered = true
			return identity.Subject{}, nil
		},
	}
	svc := newTestService(t, &stubStore{}, dir, nil)

	result, err := svc.Bootstrap(context.Background(), validCredential(), "")
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if registered {
		t.Fatal("must not re-register an existing subject")
	}
	if result.AdminID != "existing-1" {
		t.Fatalf("unexpected admin id %q", result.AdminID)
	}
}

func TestBootstrapConcurrentLoserSucceedsQuietly(t *testing.T) {
	store := &stubStore{
		markSystemOwnerFn: func(context.Context, string, *audit.Entry) (bool, error) {
			// Another replica already installed the owner.
			return false, nil
		},
	}
	svc := newTestService(t, store, nil, nil)

	result, err := svc.Bootstrap(context.Background(), validCredential(), "")
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if !result.Completed || result.Created {
		t.Fatalf("loser must report completed without creation: %+v", result)
	}
}
