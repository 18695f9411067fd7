package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"habar.org/internal/access"
	"habar.org/internal/audit"
)

type inviteRequest struct {
	Email string `json:"email"`
}

type acceptInvitationRequest struct {
	Email string `json:"email"`
	Token string `json:"token"`
}

type changeRoleRequest struct {
	Role string `json:"role"`
}

type updateSettingRequest struct {
	Value json.RawMessage `json:"value"`
}

// handleAccessError maps control-plane sentinels to HTTP responses.
// Invitation failures stay opaque on purpose.
func handleAccessError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, access.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, access.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden", "operation not permitted")
	case errors.Is(err, access.ErrConflict):
		writeError(w, r, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, access.ErrInvalidOrExpired):
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid or expired invitation")
	case errors.Is(err, access.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, access.ErrConfig):
		writeError(w, r, http.StatusInternalServerError, "configuration_error", err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal", "internal error")
	}
}

func (a *API) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	result, err := a.svc.Bootstrap(r.Context(), access.BootstrapCredentialFromEnv(), clientIP(r))
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, result)
}

func (a *API) handleInvitations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createInvitation(w, r)
	case http.MethodGet:
		a.listInvitations(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) createInvitation(w http.ResponseWriter, r *http.Request) {
	admin, ok := a.ensureAdmin(w, r)
	if !ok {
		return
	}
	var req inviteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	grant, err := a.svc.CreateInvitation(r.Context(), admin, req.Email)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, grant)
}

func (a *API) listInvitations(w http.ResponseWriter, r *http.Request) {
	admin, ok := a.ensureAdmin(w, r)
	if !ok {
		return
	}
	invitations, err := a.svc.ListInvitations(r.Context(), admin)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invitations": invitations})
}

func (a *API) handleAcceptInvitation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req acceptInvitationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	// The caller may only redeem an invitation addressed to their own
	// verified email. Mismatches stay opaque like any other failure.
	authEmail, ok := access.SubjectEmailFromContext(r.Context())
	if !ok || !strings.EqualFold(strings.TrimSpace(req.Email), authEmail) {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid or expired invitation")
		return
	}
	inv, err := a.svc.AcceptInvitation(r.Context(), req.Email, req.Token)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invitation": inv})
}

// handleSubjectResource routes /v1/admin/subjects/{id}/revoke and
// /v1/admin/subjects/{id}/role.
func (a *API) handleSubjectResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/admin/subjects/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found")
		return
	}
	targetID := parts[0]
	switch parts[1] {
	case "revoke":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.revokeAdmin(w, r, targetID)
	case "role":
		if r.Method != http.MethodPut {
			methodNotAllowed(w, r, http.MethodPut)
			return
		}
		a.changeRole(w, r, targetID)
	default:
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found")
	}
}

func (a *API) revokeAdmin(w http.ResponseWriter, r *http.Request, targetID string) {
	admin, ok := a.ensureAdmin(w, r)
	if !ok {
		return
	}
	assignment, err := a.svc.RevokeAdmin(r.Context(), admin, targetID)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assignment": assignment})
}

func (a *API) changeRole(w http.ResponseWriter, r *http.Request, targetID string) {
	admin, ok := a.ensureAdmin(w, r)
	if !ok {
		return
	}
	var req changeRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	role, err := access.ParseRole(req.Role)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	assignment, err := a.svc.ChangeRole(r.Context(), admin, targetID, role)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assignment": assignment})
}

func (a *API) handleSettingResource(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/v1/admin/settings/")
	if key == "" || strings.Contains(key, "/") {
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found")
		return
	}
	admin, ok := a.ensureAdmin(w, r)
	if !ok {
		return
	}
	if r.Method == http.MethodGet {
		value, err := a.svc.Setting(r.Context(), admin, key)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"key": key, "value": value})
		return
	}
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
		return
	}
	var req updateSettingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if err := a.svc.UpdateSetting(r.Context(), admin, key, req.Value); err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "updated": true})
}

func (a *API) handleSubjects(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	admin, ok := a.ensureAdmin(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	filter := access.SubjectFilter{
		Page:  parsePositiveInt(q.Get("page"), 1),
		Limit: parsePositiveInt(q.Get("limit"), 50),
	}
	if raw := q.Get("role"); raw != "" {
		role, err := access.ParseRole(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "unknown role")
			return
		}
		filter.Role = role
	}

	subjects, total, err := a.svc.ListSubjects(r.Context(), admin, filter)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"subjects": subjects,
		"total":    total,
		"page":     filter.Page,
		"limit":    filter.Limit,
	})
}

func (a *API) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	admin, ok := a.ensureAdmin(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Page:  parsePositiveInt(q.Get("page"), 1),
		Limit: parsePositiveInt(q.Get("limit"), 50),
	}
	if raw := q.Get("action"); raw != "" {
		action, err := audit.ParseAction(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "unknown audit action")
			return
		}
		filter.Action = action
	}
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "from must be RFC3339")
			return
		}
		filter.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "to must be RFC3339")
			return
		}
		filter.To = t
	}

	entries, total, err := a.svc.ListAudit(r.Context(), admin, filter)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"total":   total,
		"page":    filter.Page,
		"limit":   filter.Limit,
	})
}

func (a *API) handleAdmins(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	admin, ok := a.ensureAdmin(w, r)
	if !ok {
		return
	}
	admins, err := a.svc.ListAdmins(r.Context(), admin)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"admins": admins})
}

func (a *API) handleOverview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	admin, ok := a.ensureAdmin(w, r)
	if !ok {
		return
	}
	overview, err := a.svc.Overview(r.Context(), admin)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}
