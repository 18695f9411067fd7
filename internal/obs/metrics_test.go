package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                    "/",
		"/metrics":                            "/metrics",
		"/v1/admin/subjects/abc/revoke":       "/v1/admin/subjects/:id/revoke",
		"/v1/admin/subjects/abc/role":         "/v1/admin/subjects/:id/role",
		"/v1/admin/subjects/abc/extra":        "/v1/admin/subjects/abc/extra",
		"/v1/admin/settings/ai_enabled":       "/v1/admin/settings/:key",
		"/v1/admin/invitations":               "/v1/admin/invitations",
		"/v1/admin/audit?action=invite.created": "/v1/admin/audit",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
