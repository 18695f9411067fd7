// Package httpapi exposes the control plane over HTTP. Every privileged
// route resolves the caller through the authorization gate before any
// state is touched.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"habar.org/api/spec"
	"habar.org/internal/access"
	"habar.org/internal/identity"
	"habar.org/internal/obs"
)

// ReadyProbe reports whether dependencies (the database) are reachable.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	svc       *access.Service
	directory identity.Directory

	rateBurst  int
	ratePerSec int
}

func New(rp ReadyProbe, version string, svc *access.Service, directory identity.Directory) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		svc:        svc,
		directory:  directory,
		rateBurst:  20,
		ratePerSec: 10,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.HandleFunc("/openapi.yaml", a.OpenAPISpec)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	a.mux.HandleFunc("/v1/admin/bootstrap", a.handleBootstrap)
	a.mux.HandleFunc("/v1/admin/invitations", a.handleInvitations)
	a.mux.HandleFunc("/v1/admin/invitations/accept", a.handleAcceptInvitation)
	a.mux.HandleFunc("/v1/admin/subjects", a.handleSubjects)
	a.mux.HandleFunc("/v1/admin/subjects/", a.handleSubjectResource)
	a.mux.HandleFunc("/v1/admin/settings/", a.handleSettingResource)
	a.mux.HandleFunc("/v1/admin/audit", a.handleAuditLog)
	a.mux.HandleFunc("/v1/admin/admins", a.handleAdmins)
	a.mux.HandleFunc("/v1/admin/overview", a.handleOverview)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler assembles the middleware chain around the mux.
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = RequestID(h)
	h = Logging(h)
	return obs.Instrument(h)
}

// --- ops handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "habar-admin-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "habar-admin-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func (a *API) OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
	_, _ = w.Write(spec.OpenAPI)
}
