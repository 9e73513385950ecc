package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"signalo.org/internal/policy"
	"signalo.org/internal/reporting"
)

type eventView struct {
	Kind           string    `json:"kind"`
	ReportID       string    `json:"report_id,omitempty"`
	PackageID      string    `json:"package_id,omitempty"`
	CollectivityID string    `json:"collectivity_id,omitempty"`
	DDFIPID        string    `json:"ddfip_id,omitempty"`
	ActorID        string    `json:"actor_id,omitempty"`
	At             time.Time `json:"at"`
}

// StreamEvents serves the workflow event stream as server-sent events. The
// stream carries every organization's activity, so it is gated like the
// audit trail.
func (a *API) StreamEvents(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if err := a.engine.Require(actor, policy.ResourceAudit, policy.ActionView); err != nil {
		handleDomainError(w, r, err)
		return
	}
	if a.stream == nil {
		writeError(w, r, http.StatusServiceUnavailable, "event stream unavailable")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := a.stream.Subscribe(r.Context())
	keepalive := time.NewTicker(25 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case evt, open := <-events:
			if !open {
				return
			}
			if err := writeSSE(w, evt); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, evt reporting.Event) error {
	payload, err := json.Marshal(eventView{
		Kind:           evt.Kind,
		ReportID:       evt.ReportID,
		PackageID:      evt.PackageID,
		CollectivityID: evt.CollectivityID,
		DDFIPID:        evt.DDFIPID,
		ActorID:        evt.ActorID,
		At:             evt.At,
	})
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("event: " + evt.Kind + "\n")); err != nil {
		return err
	}
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	_, err = w.Write([]byte("\n\n"))
	return err
}
