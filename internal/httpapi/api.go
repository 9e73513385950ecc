// Package httpapi is the HTTP layer: routing, authentication, policy
// enforcement and the JSON error taxonomy. Handlers translate requests into
// service calls and never contain workflow rules themselves.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"signalo.org/api/spec"
	"signalo.org/internal/audit"
	"signalo.org/internal/auth"
	"signalo.org/internal/notify"
	"signalo.org/internal/obs"
	"signalo.org/internal/organizations"
	"signalo.org/internal/policy"
	"signalo.org/internal/reporting"
)

// ReadyProbe checks the service's backing dependencies.
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

	reports *reporting.Service
	orgs    *organizations.Service
	users   auth.UserStore
	engine  *policy.Engine
	stream  *notify.Stream
	trail   audit.Store
}

// Config bundles the API dependencies.
type Config struct {
	ReadyProbe ReadyProbe
	Version    string

	Reports *reporting.Service
	Orgs    *organizations.Service
	Users   auth.UserStore
	Engine  *policy.Engine
	Stream  *notify.Stream
	Trail   audit.Store
}

// New wires the routes.
func New(cfg Config) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: cfg.ReadyProbe,
		version:    cfg.Version,
		reports:    cfg.Reports,
		orgs:       cfg.Orgs,
		users:      cfg.Users,
		engine:     cfg.Engine,
		stream:     cfg.Stream,
		trail:      cfg.Trail,
	}
	if a.engine == nil {
		a.engine = policy.NewEngine()
	}

	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.HandleFunc("GET /openapi.yaml", a.OpenAPISpec)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.HandleFunc("POST /v1/auth/token", a.handleAuthToken)

	a.mux.HandleFunc("POST /v1/reports", a.createReport)
	a.mux.HandleFunc("GET /v1/reports", a.listReports)
	a.mux.HandleFunc("GET /v1/reports/{id}", a.getReport)
	a.mux.HandleFunc("PATCH /v1/reports/{id}", a.updateReportFields)
	a.mux.HandleFunc("DELETE /v1/reports/{id}", a.discardReport)
	a.mux.HandleFunc("POST /v1/reports/{id}/undiscard", a.undiscardReport)
	a.mux.HandleFunc("POST /v1/reports/{id}/ready", a.markReportReady)
	a.mux.HandleFunc("POST /v1/reports/{id}/transmit", a.queueReport)
	a.mux.HandleFunc("POST /v1/reports/{id}/cancel", a.cancelReport)
	a.mux.HandleFunc("POST /v1/reports/{id}/acknowledge", a.acknowledgeReport)
	a.mux.HandleFunc("POST /v1/reports/{id}/accept", a.acceptReport)
	a.mux.HandleFunc("POST /v1/reports/{id}/reject", a.rejectReport)
	a.mux.HandleFunc("POST /v1/reports/{id}/assign", a.assignReport)
	a.mux.HandleFunc("POST /v1/reports/{id}/unassign", a.unassignReport)
	a.mux.HandleFunc("POST /v1/reports/{id}/resolve", a.resolveReport)
	a.mux.HandleFunc("POST /v1/reports/{id}/confirm", a.confirmReport)
	a.mux.HandleFunc("POST /v1/reports/{id}/undo-confirm", a.undoConfirmReport)

	a.mux.HandleFunc("POST /v1/reports/accept", a.bulkAcceptReports)
	a.mux.HandleFunc("POST /v1/reports/reject", a.bulkRejectReports)
	a.mux.HandleFunc("POST /v1/reports/assign", a.bulkAssignReports)

	a.mux.HandleFunc("POST /v1/packages", a.createPackage)
	a.mux.HandleFunc("GET /v1/packages", a.listPackages)
	a.mux.HandleFunc("GET /v1/packages/{id}", a.getPackage)
	a.mux.HandleFunc("POST /v1/packages/{id}/transmit", a.transmitPackage)
	a.mux.HandleFunc("POST /v1/packages/{id}/approve", a.approvePackage)
	a.mux.HandleFunc("POST /v1/packages/{id}/return", a.returnPackage)

	a.mux.HandleFunc("POST /v1/organizations", a.createOrganization)
	a.mux.HandleFunc("GET /v1/organizations", a.listOrganizations)
	a.mux.HandleFunc("GET /v1/organizations/{id}", a.getOrganization)
	a.mux.HandleFunc("POST /v1/offices", a.createOffice)
	a.mux.HandleFunc("GET /v1/offices/{id}", a.getOffice)
	a.mux.HandleFunc("PUT /v1/offices/{id}/communes", a.setOfficeCommunes)
	a.mux.HandleFunc("PUT /v1/offices/{id}/competences", a.setOfficeCompetences)

	a.mux.HandleFunc("GET /v1/audit", a.listAudit)
	a.mux.HandleFunc("GET /v1/events", a.StreamEvents)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	return a
}

// Handler returns the full middleware chain around the mux.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = RequestID(h)
	h = RateLimit(h, 100, 50)
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	return obs.Instrument(h)
}

// --- infra handlers --------------------------------------------------------

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "signalo-api",
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
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "signalo-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func (a *API) OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
	_, _ = w.Write(spec.OpenAPI)
}

// --- helpers ---------------------------------------------------------------

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{"error": msg}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleDomainError maps service errors onto the HTTP taxonomy. Not-found
// and out-of-scope are deliberately the same 404.
func handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var incomplete *reporting.IncompleteError
	switch {
	case errors.As(err, &incomplete):
		payload := map[string]any{
			"error":   "report is incomplete",
			"missing": incomplete.Missing,
		}
		if rid := RequestIDFromContext(r.Context()); rid != "" {
			payload["request_id"] = rid
		}
		writeJSON(w, http.StatusUnprocessableEntity, payload)
	case errors.Is(err, reporting.ErrInvalidInput), errors.Is(err, organizations.ErrInvalidInput):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, policy.ErrDenied):
		writeError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, reporting.ErrNotFound), errors.Is(err, organizations.ErrNotFound),
		errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, reporting.ErrInvalidTransition), errors.Is(err, reporting.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func trimmedList(values []string) []string {
	var res []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			res = append(res, v)
		}
	}
	return res
}
