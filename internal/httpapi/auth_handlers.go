package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"habar.org/internal/identity"
)

const tokenTTL = 15 * time.Minute

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "valid email is required")
		return
	}
	if len(req.Password) < 8 {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "password must be at least 8 characters")
		return
	}

	hash, err := identity.HashPassword(req.Password)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal", "registration failed")
		return
	}
	subject, err := a.directory.Register(r.Context(), email, hash)
	if err != nil {
		if errors.Is(err, identity.ErrAlreadyExists) {
			writeError(w, r, http.StatusConflict, "conflict", "email is already registered")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal", "registration failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"subject": subject})
}

func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))
	if email == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	subject, hash, err := a.directory.CredentialHash(r.Context(), email)
	if err != nil {
		// Same response for unknown email and bad password.
		writeError(w, r, http.StatusUnauthorized, "unauthorized", "invalid credentials")
		return
	}
	if err := identity.VerifyPassword(hash, req.Password); err != nil {
		writeError(w, r, http.StatusUnauthorized, "unauthorized", "invalid credentials")
		return
	}

	token, err := identity.GenerateToken(subject.ID, subject.Email, tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal", "token issuance failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   int(tokenTTL.Seconds()),
	})
}
