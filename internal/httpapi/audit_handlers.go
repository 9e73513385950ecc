package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"signalo.org/internal/audit"
	"signalo.org/internal/policy"
)

type auditEntryView struct {
	ID             string    `json:"id"`
	Event          string    `json:"event"`
	ReportID       string    `json:"report_id,omitempty"`
	PackageID      string    `json:"package_id,omitempty"`
	CollectivityID string    `json:"collectivity_id,omitempty"`
	DDFIPID        string    `json:"ddfip_id,omitempty"`
	ActorID        string    `json:"actor_id,omitempty"`
	At             time.Time `json:"at"`
}

func (a *API) listAudit(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if err := a.engine.Require(actor, policy.ResourceAudit, policy.ActionView); err != nil {
		handleDomainError(w, r, err)
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		ReportID:  q.Get("report_id"),
		PackageID: q.Get("package_id"),
		ActorID:   q.Get("actor_id"),
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		filter.Since = since
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, r, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = limit
	}

	entries, err := a.trail.List(r.Context(), filter)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	views := make([]auditEntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, auditEntryView{
			ID:             e.ID,
			Event:          e.Event,
			ReportID:       e.ReportID,
			PackageID:      e.PackageID,
			CollectivityID: e.CollectivityID,
			DDFIPID:        e.DDFIPID,
			ActorID:        e.ActorID,
			At:             e.At,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": views})
}
