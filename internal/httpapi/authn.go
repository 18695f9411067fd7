package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"habar.org/internal/access"
	"habar.org/internal/identity"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/register",
	"/v1/auth/token",
	"/v1/admin/bootstrap",
	"/v1/info",
	"/metrics",
	"/healthz",
	"/readyz",
	"/openapi.yaml",
	"/",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}

		claims, err := identity.ParseAndValidate(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}

		ctx := access.ContextWithSubject(r.Context(), claims.Subject, claims.Email)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ensureAdmin resolves the authenticated subject through the gate. Every
// privileged handler obtains its AdminContext here and nowhere else.
func (a *API) ensureAdmin(w http.ResponseWriter, r *http.Request) (access.AdminContext, bool) {
	subjectID, ok := access.SubjectIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return access.AdminContext{}, false
	}
	admin, err := a.svc.Authorize(r.Context(), subjectID, clientIP(r))
	if err != nil {
		if errors.Is(err, access.ErrForbidden) {
			writeError(w, r, http.StatusForbidden, "forbidden", "admin access required")
			return access.AdminContext{}, false
		}
		writeError(w, r, http.StatusInternalServerError, "internal", "authorization error")
		return access.AdminContext{}, false
	}
	return admin, true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
