package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"habar.org/internal/access"
	"habar.org/internal/audit"
	"habar.org/internal/identity"
)

// fakeStore is an in-memory implementation of the store, audit ledger
// and directory surfaces, with the same transactional semantics the
// Postgres store provides.
type fakeStore struct {
	mu          sync.Mutex
	nextID      int
	roles       map[string]access.RoleAssignment
	invitations []*access.Invitation
	subjects    map[string]identity.Subject
	creds       map[string]string
	settings    map[string]json.RawMessage
	entries     []audit.Entry
	done        bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		roles:    map[string]access.RoleAssignment{},
		subjects: map[string]identity.Subject{},
		creds:    map[string]string{},
		settings: map[string]json.RawMessage{},
	}
}

func (f *fakeStore) addSubject(id, email string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects[email] = identity.Subject{ID: id, Email: email, CreatedAt: time.Now().UTC()}
	f.roles[id] = access.RoleAssignment{SubjectID: id, Role: access.RoleReader}
}

func (f *fakeStore) setRole(id string, role access.Role, owner bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ra := f.roles[id]
	ra.SubjectID = id
	ra.Role = role
	ra.IsSystemOwner = owner
	f.roles[id] = ra
}

// expireInvitation rewinds the stored expiry for the email so the
// invitation is past its window.
func (f *fakeStore) expireInvitation(email string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, inv := range f.invitations {
		if inv.Email == email {
			inv.ExpiresAt = time.Now().Add(-time.Minute)
		}
	}
}

func (f *fakeStore) Role(_ context.Context, subjectID string) (access.RoleAssignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ra, ok := f.roles[subjectID]
	if !ok {
		return access.RoleAssignment{}, access.ErrNotFound
	}
	return ra, nil
}

func (f *fakeStore) SetRole(_ context.Context, subjectID string, newRole access.Role, entry *audit.Entry) (access.RoleAssignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ra, ok := f.roles[subjectID]
	if !ok {
		return access.RoleAssignment{}, access.ErrNotFound
	}
	if ra.IsSystemOwner && newRole != access.RoleAdmin {
		return access.RoleAssignment{}, access.ErrForbidden
	}
	entry.Metadata["previous_role"] = ra.Role.String()
	entry.Metadata["new_role"] = newRole.String()
	ra.Role = newRole
	ra.UpdatedAt = time.Now().UTC()
	f.roles[subjectID] = ra
	f.entries = append(f.entries, *entry)
	return ra, nil
}

func (f *fakeStore) MarkSystemOwner(_ context.Context, subjectID string, entry *audit.Entry) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ra := range f.roles {
		if ra.IsSystemOwner {
			return false, nil
		}
	}
	f.roles[subjectID] = access.RoleAssignment{SubjectID: subjectID, Role: access.RoleAdmin, IsSystemOwner: true}
	f.done = true
	f.entries = append(f.entries, *entry)
	return true, nil
}

func (f *fakeStore) AdminCount(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ra := range f.roles {
		if ra.Role == access.RoleAdmin {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) ListAdmins(context.Context) ([]access.RoleAssignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var admins []access.RoleAssignment
	for _, ra := range f.roles {
		if ra.Role == access.RoleAdmin {
			admins = append(admins, ra)
		}
	}
	sort.Slice(admins, func(i, j int) bool { return admins[i].SubjectID < admins[j].SubjectID })
	return admins, nil
}

func (f *fakeStore) RoleCounts(context.Context) (map[access.Role]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := map[access.Role]int{}
	for _, ra := range f.roles {
		counts[ra.Role]++
	}
	return counts, nil
}

func (f *fakeStore) ListSubjects(_ context.Context, filter access.SubjectFilter) ([]access.SubjectRecord, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var records []access.SubjectRecord
	for _, sub := range f.subjects {
		ra := f.roles[sub.ID]
		if filter.Role != "" && ra.Role != filter.Role {
			continue
		}
		records = append(records, access.SubjectRecord{
			SubjectID:     sub.ID,
			Email:         sub.Email,
			Role:          ra.Role,
			IsSystemOwner: ra.IsSystemOwner,
			CreatedAt:     sub.CreatedAt,
		})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].SubjectID < records[j].SubjectID })
	total := len(records)
	offset := (filter.Page - 1) * filter.Limit
	if offset >= len(records) {
		return nil, total, nil
	}
	end := offset + filter.Limit
	if end > len(records) {
		end = len(records)
	}
	return records[offset:end], total, nil
}

func (f *fakeStore) IsAdminEmail(_ context.Context, email string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subjects[email]
	if !ok {
		return false, nil
	}
	return f.roles[sub.ID].Role == access.RoleAdmin, nil
}

func (f *fakeStore) CreateInvitation(_ context.Context, inv *access.Invitation, entry *audit.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.invitations {
		if existing.Email == inv.Email && existing.Active(inv.CreatedAt) {
			return access.ErrConflict
		}
	}
	clone := *inv
	f.invitations = append(f.invitations, &clone)
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *fakeStore) ConsumeInvitation(_ context.Context, email, tokenDigest, subjectID string, now time.Time, entry *audit.Entry) (access.Invitation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, inv := range f.invitations {
		if inv.Email == email && inv.TokenDigest == tokenDigest && inv.Active(now) {
			used := now
			inv.UsedAt = &used
			ra := f.roles[subjectID]
			ra.SubjectID = subjectID
			ra.Role = access.RoleAdmin
			f.roles[subjectID] = ra
			entry.AdminID = inv.InvitedBy
			entry.Metadata["invitation_id"] = inv.ID
			f.entries = append(f.entries, *entry)
			return *inv, nil
		}
	}
	return access.Invitation{}, access.ErrNotFound
}

func (f *fakeStore) ListInvitations(context.Context) ([]access.Invitation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := make([]access.Invitation, 0, len(f.invitations))
	for i := len(f.invitations) - 1; i >= 0; i-- {
		result = append(result, *f.invitations[i])
	}
	return result, nil
}

func (f *fakeStore) InvitationCounts(_ context.Context, now time.Time) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	active := 0
	for _, inv := range f.invitations {
		if inv.Active(now) {
			active++
		}
	}
	return active, len(f.invitations), nil
}

func (f *fakeStore) BootstrapCompleted(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done, nil
}

func (f *fakeStore) MarkBootstrapCompleted(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.done = true
	return nil
}

func (f *fakeStore) Setting(_ context.Context, key string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	value, ok := f.settings[key]
	if !ok {
		return nil, access.ErrNotFound
	}
	return value, nil
}

func (f *fakeStore) UpdateSetting(_ context.Context, key string, value json.RawMessage, entry *audit.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings[key] = value
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *fakeStore) AuditCount(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries), nil
}

func (f *fakeStore) Query(_ context.Context, filter audit.Filter) ([]audit.Entry, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matched []audit.Entry
	for i := len(f.entries) - 1; i >= 0; i-- {
		e := f.entries[i]
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		matched = append(matched, e)
	}
	total := len(matched)
	offset := (filter.Page - 1) * filter.Limit
	if offset >= len(matched) {
		return nil, total, nil
	}
	end := offset + filter.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

func (f *fakeStore) Find(_ context.Context, id string) (identity.Subject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subjects {
		if sub.ID == id {
			return sub, nil
		}
	}
	return identity.Subject{}, identity.ErrNotFound
}

func (f *fakeStore) FindByEmail(_ context.Context, email string) (identity.Subject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subjects[email]
	if !ok {
		return identity.Subject{}, identity.ErrNotFound
	}
	return sub, nil
}

func (f *fakeStore) Register(_ context.Context, email, passwordHash string) (identity.Subject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subjects[email]; ok {
		return identity.Subject{}, identity.ErrAlreadyExists
	}
	f.nextID++
	sub := identity.Subject{ID: fmt.Sprintf("sub-%d", f.nextID), Email: email, CreatedAt: time.Now().UTC()}
	f.subjects[email] = sub
	f.roles[sub.ID] = access.RoleAssignment{SubjectID: sub.ID, Role: access.RoleReader}
	f.creds[email] = passwordHash
	return sub, nil
}

func (f *fakeStore) CredentialHash(_ context.Context, email string) (identity.Subject, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subjects[email]
	if !ok {
		return identity.Subject{}, "", identity.ErrNotFound
	}
	return sub, f.creds[email], nil
}

type apiClient struct {
	baseURL string
	client  *http.Client
	store   *fakeStore
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	t.Setenv("HABAR_AUTH_SECRET", "test-secret")
	identity.ResetSecretForTests()
	t.Cleanup(identity.ResetSecretForTests)

	store := newFakeStore()
	svc, err := access.NewService(store, store, store)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	api := New(ReadyProbe{}, "test", svc, store)
	api.rateBurst = 100
	api.ratePerSec = 100

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		store:   store,
		t:       t,
	}
}

// adminToken provisions an admin subject and mints a bearer token for it.
func (c *apiClient) adminToken(id, email string) string {
	c.t.Helper()
	c.store.addSubject(id, email)
	c.store.setRole(id, access.RoleAdmin, false)
	return c.token(id, email)
}

func (c *apiClient) token(id, email string) string {
	c.t.Helper()
	token, err := identity.GenerateToken(id, email, time.Minute)
	if err != nil {
		c.t.Fatalf("generate token: %v", err)
	}
	return token
}

func authz(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) put(path string, body any, headers map[string]string) *http.Response {
	return c.do(http.MethodPut, path, body, headers)
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestHealthEndpointsArePublic(t *testing.T) {
	api := newTestAPI(t)

	for _, path := range []string{"/healthz", "/readyz", "/v1/info", "/openapi.yaml"} {
		resp := api.get(path, nil, nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, resp.StatusCode)
		}
	}
}

func TestRegisterAndLogin(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/auth/register", map[string]any{
		"email":    "Reader@Example.com",
		"password": "plenty-long-password",
	}, nil)
	payload := decode[map[string]any](t, resp)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	sub := payload["subject"].(map[string]any)
	if sub["email"] != "reader@example.com" {
		t.Fatalf("email not normalized: %v", sub["email"])
	}

	resp = api.post("/v1/auth/register", map[string]any{
		"email":    "reader@example.com",
		"password": "plenty-long-password",
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate email, got %d", resp.StatusCode)
	}

	resp = api.post("/v1/auth/token", map[string]any{
		"email":    "reader@example.com",
		"password": "plenty-long-password",
	}, nil)
	tokenPayload := decode[map[string]any](t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if tokenPayload["access_token"] == "" {
		t.Fatal("empty access token")
	}

	resp = api.post("/v1/auth/token", map[string]any{
		"email":    "reader@example.com",
		"password": "wrong-password",
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad password, got %d", resp.StatusCode)
	}
}

func TestAdminEndpointsRequireAdminRole(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/v1/admin/admins", nil, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	api.store.addSubject("reader-1", "reader@example.com")
	resp = api.get("/v1/admin/admins", nil, authz(api.token("reader-1", "reader@example.com")))
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for reader, got %d", resp.StatusCode)
	}
}

func TestInvitationLifecycle(t *testing.T) {
	api := newTestAPI(t)
	token := api.adminToken("admin-1", "admin@example.com")

	resp := api.post("/v1/admin/invitations", map[string]any{"email": "invitee@example.com"}, authz(token))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	grant := decode[struct {
		Secret     string            `json:"secret"`
		Invitation access.Invitation `json:"invitation"`
	}](t, resp)
	if grant.Secret == "" {
		t.Fatal("invite response must carry the one-time secret")
	}

	// The secret never appears in the listing.
	resp = api.get("/v1/admin/invitations", nil, authz(token))
	raw := decode[json.RawMessage](t, resp)
	if strings.Contains(string(raw), grant.Secret) {
		t.Fatal("plaintext secret leaked in listing")
	}

	// Duplicate active invitation conflicts.
	resp = api.post("/v1/admin/invitations", map[string]any{"email": "invitee@example.com"}, authz(token))
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}

	// The invitee registers an account, then redeems the secret with
	// their own bearer token.
	resp = api.post("/v1/auth/register", map[string]any{
		"email":    "invitee@example.com",
		"password": "plenty-long-password",
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register invitee: %d", resp.StatusCode)
	}
	invitee, err := api.store.FindByEmail(context.Background(), "invitee@example.com")
	if err != nil {
		t.Fatalf("find invitee: %v", err)
	}
	inviteeToken := api.token(invitee.ID, invitee.Email)

	resp = api.post("/v1/admin/invitations/accept", map[string]any{
		"email": "invitee@example.com",
		"token": grant.Secret,
	}, authz(inviteeToken))
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("accept invitation: %d", resp.StatusCode)
	}

	// Second redemption fails opaquely.
	resp = api.post("/v1/admin/invitations/accept", map[string]any{
		"email": "invitee@example.com",
		"token": grant.Secret,
	}, authz(inviteeToken))
	errPayload := decode[map[string]map[string]any](t, resp)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 on replay, got %d", resp.StatusCode)
	}
	if msg := errPayload["error"]["message"]; msg != "invalid or expired invitation" {
		t.Fatalf("replay response must stay opaque, got %v", msg)
	}

	// The invitee is now an admin.
	resp = api.get("/v1/admin/admins", nil, authz(inviteeToken))
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("promoted invitee should reach admin API, got %d", resp.StatusCode)
	}
}

func TestAcceptWithWrongSecretIsOpaque(t *testing.T) {
	api := newTestAPI(t)
	token := api.adminToken("admin-1", "admin@example.com")

	resp := api.post("/v1/admin/invitations", map[string]any{"email": "invitee@example.com"}, authz(token))
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create invitation: %d", resp.StatusCode)
	}
	api.store.addSubject("sub-x", "invitee@example.com")
	inviteeToken := api.token("sub-x", "invitee@example.com")

	resp = api.post("/v1/admin/invitations/accept", map[string]any{
		"email": "invitee@example.com",
		"token": "not-the-secret",
	}, authz(inviteeToken))
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for wrong secret, got %d", resp.StatusCode)
	}

	// Redeeming an invitation addressed to someone else fails the same way.
	api.store.addSubject("sub-y", "other@example.com")
	resp = api.post("/v1/admin/invitations/accept", map[string]any{
		"email": "invitee@example.com",
		"token": "whatever",
	}, authz(api.token("sub-y", "other@example.com")))
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for mismatched subject, got %d", resp.StatusCode)
	}
}

func TestAcceptExpiredInvitationIsOpaque(t *testing.T) {
	api := newTestAPI(t)
	token := api.adminToken("admin-1", "admin@example.com")

	resp := api.post("/v1/admin/invitations", map[string]any{"email": "invitee@example.com"}, authz(token))
	grant := decode[struct {
		Secret string `json:"secret"`
	}](t, resp)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create invitation: %d", resp.StatusCode)
	}
	api.store.addSubject("sub-x", "invitee@example.com")
	inviteeToken := api.token("sub-x", "invitee@example.com")

	// Past the 24h window even the correct secret must be refused, with
	// the same response an unknown secret gets.
	api.store.expireInvitation("invitee@example.com")

	resp = api.post("/v1/admin/invitations/accept", map[string]any{
		"email": "invitee@example.com",
		"token": grant.Secret,
	}, authz(inviteeToken))
	body := decode[struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}](t, resp)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for expired invitation, got %d", resp.StatusCode)
	}
	if body.Error.Message != "invalid or expired invitation" {
		t.Fatalf("expiry must not be distinguishable: %q", body.Error.Message)
	}
	if ra, err := api.store.Role(context.Background(), "sub-x"); err != nil || ra.Role == access.RoleAdmin {
		t.Fatalf("expired invitation must not promote: %+v %v", ra, err)
	}
}

func TestListSubjects(t *testing.T) {
	api := newTestAPI(t)
	token := api.adminToken("admin-1", "admin@example.com")
	api.store.addSubject("sub-2", "reader@example.com")
	api.store.addSubject("sub-3", "editor@example.com")
	api.store.setRole("sub-3", access.RoleEditor, false)

	type page struct {
		Subjects []access.SubjectRecord `json:"subjects"`
		Total    int                    `json:"total"`
		Page     int                    `json:"page"`
		Limit    int                    `json:"limit"`
	}

	resp := api.get("/v1/admin/subjects", nil, authz(token))
	all := decode[page](t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list subjects: %d", resp.StatusCode)
	}
	if all.Total != 3 || len(all.Subjects) != 3 {
		t.Fatalf("expected all three subjects, got %+v", all)
	}
	if all.Page != 1 || all.Limit != 50 {
		t.Fatalf("unexpected paging defaults: %+v", all)
	}

	resp = api.get("/v1/admin/subjects", url.Values{"role": {"editor"}}, authz(token))
	editors := decode[page](t, resp)
	if editors.Total != 1 || len(editors.Subjects) != 1 || editors.Subjects[0].Email != "editor@example.com" {
		t.Fatalf("role filter failed: %+v", editors)
	}

	resp = api.get("/v1/admin/subjects", url.Values{"page": {"2"}, "limit": {"2"}}, authz(token))
	second := decode[page](t, resp)
	if second.Total != 3 || len(second.Subjects) != 1 {
		t.Fatalf("expected one subject on page 2, got %+v", second)
	}

	resp = api.get("/v1/admin/subjects", url.Values{"role": {"superuser"}}, authz(token))
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown role, got %d", resp.StatusCode)
	}
}

func TestRevokeAndChangeRole(t *testing.T) {
	api := newTestAPI(t)
	token := api.adminToken("admin-1", "admin@example.com")
	api.store.addSubject("target-1", "target@example.com")
	api.store.setRole("target-1", access.RoleAdmin, false)

	resp := api.post("/v1/admin/subjects/target-1/revoke", nil, authz(token))
	payload := decode[map[string]access.RoleAssignment](t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("revoke: %d", resp.StatusCode)
	}
	if payload["assignment"].Role != access.RoleReader {
		t.Fatalf("revoked subject must become reader, got %s", payload["assignment"].Role)
	}

	resp = api.put("/v1/admin/subjects/target-1/role", map[string]any{"role": "editor"}, authz(token))
	payload = decode[map[string]access.RoleAssignment](t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("change role: %d", resp.StatusCode)
	}
	if payload["assignment"].Role != access.RoleEditor {
		t.Fatalf("unexpected role %s", payload["assignment"].Role)
	}

	resp = api.put("/v1/admin/subjects/target-1/role", map[string]any{"role": "superuser"}, authz(token))
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown role, got %d", resp.StatusCode)
	}

	// The system owner is untouchable.
	api.store.addSubject("owner-1", "owner@example.com")
	api.store.setRole("owner-1", access.RoleAdmin, true)
	resp = api.post("/v1/admin/subjects/owner-1/revoke", nil, authz(token))
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 revoking owner, got %d", resp.StatusCode)
	}
}

func TestBootstrapEndpoint(t *testing.T) {
	api := newTestAPI(t)
	t.Setenv("HABAR_INITIAL_ADMIN_EMAIL", "owner@example.com")
	t.Setenv("HABAR_INITIAL_ADMIN_PASSWORD", "long-enough-password")

	resp := api.post("/v1/admin/bootstrap", nil, nil)
	result := decode[access.BootstrapResult](t, resp)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if !result.Created || result.AdminID == "" {
		t.Fatalf("unexpected result: %+v", result)
	}

	resp = api.post("/v1/admin/bootstrap", nil, nil)
	result = decode[access.BootstrapResult](t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 on rerun, got %d", resp.StatusCode)
	}
	if result.Created || !result.Completed {
		t.Fatalf("rerun must be idempotent: %+v", result)
	}
}

func TestBootstrapFailsWithoutCredential(t *testing.T) {
	api := newTestAPI(t)
	t.Setenv("HABAR_INITIAL_ADMIN_EMAIL", "")
	t.Setenv("HABAR_INITIAL_ADMIN_PASSWORD", "")

	resp := api.post("/v1/admin/bootstrap", nil, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500 without credential, got %d", resp.StatusCode)
	}
}

func TestSettingsAndAuditTrail(t *testing.T) {
	api := newTestAPI(t)
	token := api.adminToken("admin-1", "admin@example.com")

	resp := api.put("/v1/admin/settings/ai_enabled", map[string]any{"value": false}, authz(token))
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update setting: %d", resp.StatusCode)
	}

	resp = api.put("/v1/admin/settings/ai_enabled", map[string]any{}, authz(token))
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing value, got %d", resp.StatusCode)
	}

	resp = api.get("/v1/admin/settings/ai_enabled", nil, authz(token))
	setting := decode[struct {
		Key   string          `json:"key"`
		Value json.RawMessage `json:"value"`
	}](t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("read setting: %d", resp.StatusCode)
	}
	if setting.Key != "ai_enabled" || string(setting.Value) != "false" {
		t.Fatalf("unexpected setting payload: %+v", setting)
	}

	resp = api.get("/v1/admin/settings/no_such_key", nil, authz(token))
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown key, got %d", resp.StatusCode)
	}

	resp = api.get("/v1/admin/audit", url.Values{"action": {"settings.updated"}}, authz(token))
	payload := decode[struct {
		Entries []audit.Entry `json:"entries"`
		Total   int           `json:"total"`
	}](t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list audit: %d", resp.StatusCode)
	}
	if payload.Total != 1 || len(payload.Entries) != 1 {
		t.Fatalf("expected one settings entry, got %+v", payload)
	}
	if payload.Entries[0].Metadata["key"] != "ai_enabled" {
		t.Fatalf("unexpected audit metadata: %v", payload.Entries[0].Metadata)
	}

	resp = api.get("/v1/admin/audit", url.Values{"action": {"nonsense"}}, authz(token))
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown action, got %d", resp.StatusCode)
	}
}

func TestOverviewEndpoint(t *testing.T) {
	api := newTestAPI(t)
	token := api.adminToken("admin-1", "admin@example.com")
	api.store.addSubject("reader-1", "reader@example.com")

	resp := api.post("/v1/admin/invitations", map[string]any{"email": "invitee@example.com"}, authz(token))
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create invitation: %d", resp.StatusCode)
	}

	resp = api.get("/v1/admin/overview", nil, authz(token))
	overview := decode[access.Overview](t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("overview: %d", resp.StatusCode)
	}
	if overview.ActiveInvitations != 1 || overview.TotalInvitations != 1 {
		t.Fatalf("unexpected invitation counts: %+v", overview)
	}
	if overview.RoleCounts[access.RoleAdmin] != 1 || overview.RoleCounts[access.RoleReader] != 1 {
		t.Fatalf("unexpected role counts: %+v", overview.RoleCounts)
	}
	if overview.AuditEntries != 1 {
		t.Fatalf("unexpected audit count: %+v", overview)
	}
}
