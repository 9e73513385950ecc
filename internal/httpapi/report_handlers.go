package httpapi

import (
	"net/http"
	"time"

	"signalo.org/internal/organizations"
	"signalo.org/internal/policy"
	"signalo.org/internal/reporting"
)

// reportView is the wire shape of a report. State is derived on the way out;
// it is never accepted on the way in.
type reportView struct {
	ID             string `json:"id"`
	State          string `json:"state"`
	CollectivityID string `json:"collectivity_id"`
	PublisherID    string `json:"publisher_id,omitempty"`

	FormType     string            `json:"form_type"`
	Priority     string            `json:"priority"`
	CommuneCode  string            `json:"commune_code"`
	Anomalies    []string          `json:"anomalies"`
	Fields       map[string]string `json:"fields,omitempty"`
	Observations string            `json:"observations,omitempty"`

	TransmissionID string `json:"transmission_id,omitempty"`
	PackageID      string `json:"package_id,omitempty"`
	DDFIPID        string `json:"ddfip_id,omitempty"`
	OfficeID       string `json:"office_id,omitempty"`

	ReadyAt        *time.Time `json:"ready_at,omitempty"`
	TransmittedAt  *time.Time `json:"transmitted_at,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	AcceptedAt     *time.Time `json:"accepted_at,omitempty"`
	RejectedAt     *time.Time `json:"rejected_at,omitempty"`
	AssignedAt     *time.Time `json:"assigned_at,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ApprovedAt     *time.Time `json:"approved_at,omitempty"`
	ReturnedAt     *time.Time `json:"returned_at,omitempty"`
	CanceledAt     *time.Time `json:"canceled_at,omitempty"`
	DiscardedAt    *time.Time `json:"discarded_at,omitempty"`

	ResolutionKind    string `json:"resolution_kind,omitempty"`
	ResolutionMotif   string `json:"resolution_motif,omitempty"`
	ResolutionComment string `json:"resolution_comment,omitempty"`
	RejectionReason   string `json:"rejection_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

func renderReport(r *reporting.Report) reportView {
	return reportView{
		ID:             r.ID,
		State:          string(r.State()),
		CollectivityID: r.CollectivityID,
		PublisherID:    r.PublisherID,

		FormType:     r.FormType,
		Priority:     string(r.Priority),
		CommuneCode:  r.CommuneCode,
		Anomalies:    r.Anomalies,
		Fields:       r.Fields,
		Observations: r.Observations,

		TransmissionID: r.TransmissionID,
		PackageID:      r.PackageID,
		DDFIPID:        r.DDFIPID,
		OfficeID:       r.OfficeID,

		ReadyAt:        r.ReadyAt,
		TransmittedAt:  r.TransmittedAt,
		AcknowledgedAt: r.AcknowledgedAt,
		AcceptedAt:     r.AcceptedAt,
		RejectedAt:     r.RejectedAt,
		AssignedAt:     r.AssignedAt,
		ResolvedAt:     r.ResolvedAt,
		ApprovedAt:     r.ApprovedAt,
		ReturnedAt:     r.ReturnedAt,
		CanceledAt:     r.CanceledAt,
		DiscardedAt:    r.DiscardedAt,

		ResolutionKind:    string(r.ResolutionKind),
		ResolutionMotif:   r.ResolutionMotif,
		ResolutionComment: r.ResolutionComment,
		RejectionReason:   r.RejectionReason,

		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		Version:   r.Version,
	}
}

func renderReports(reports []*reporting.Report) []reportView {
	views := make([]reportView, 0, len(reports))
	for _, r := range reports {
		views = append(views, renderReport(r))
	}
	return views
}

// loadScopedReport resolves {id} within the actor's scope. Out-of-scope ids
// yield the same 404 as unknown ids.
func (a *API) loadScopedReport(w http.ResponseWriter, r *http.Request, actor policy.Actor) (*reporting.Report, bool) {
	rep, err := a.reports.FindReport(r.Context(), r.PathValue("id"))
	if err != nil {
		handleDomainError(w, r, err)
		return nil, false
	}
	if !actor.SuperAdmin && !policy.InScope(actor, rep) {
		writeError(w, r, http.StatusNotFound, "not found")
		return nil, false
	}
	return rep, true
}

func (a *API) createReport(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if err := a.engine.Require(actor, policy.ResourceReport, policy.ActionCreate); err != nil {
		handleDomainError(w, r, err)
		return
	}
	var req struct {
		CollectivityID string            `json:"collectivity_id,omitempty"`
		FormType       string            `json:"form_type"`
		Priority       string            `json:"priority"`
		CommuneCode    string            `json:"commune_code"`
		Anomalies      []string          `json:"anomalies"`
		Fields         map[string]string `json:"fields,omitempty"`
		Observations   string            `json:"observations,omitempty"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	rep := &reporting.Report{
		FormType:     req.FormType,
		Priority:     reporting.Priority(req.Priority),
		CommuneCode:  req.CommuneCode,
		Anomalies:    trimmedList(req.Anomalies),
		Fields:       req.Fields,
		Observations: req.Observations,
	}
	// Ownership comes from the actor, never from the payload, except for
	// publishers and super admins acting on behalf of a collectivity.
	switch {
	case actor.OrganizationKind == organizations.KindCollectivity:
		rep.CollectivityID = actor.OrganizationID
	case actor.OrganizationKind == organizations.KindPublisher:
		coll, err := a.orgs.FindOrganization(r.Context(), req.CollectivityID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		// A collectivity not linked to the publisher looks absent to it.
		if coll.Kind != organizations.KindCollectivity || coll.PublisherID != actor.OrganizationID {
			writeError(w, r, http.StatusNotFound, "not found")
			return
		}
		rep.CollectivityID = coll.ID
		rep.PublisherID = actor.OrganizationID
	default:
		rep.CollectivityID = req.CollectivityID
	}

	if err := a.reports.CreateReport(r.Context(), rep); err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, renderReport(rep))
}

func (a *API) listReports(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if err := a.engine.Require(actor, policy.ResourceReport, policy.ActionView); err != nil {
		handleDomainError(w, r, err)
		return
	}
	filter := policy.ReportScope(actor)
	q := r.URL.Query()
	filter.PackageID = q.Get("package_id")
	filter.TransmissionID = q.Get("transmission_id")
	if actor.SuperAdmin && q.Get("include_discarded") == "true" {
		filter.IncludeDiscarded = true
	}

	reports, err := a.reports.ListReports(r.Context(), filter)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": renderReports(reports)})
}

func (a *API) getReport(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if err := a.engine.Require(actor, policy.ResourceReport, policy.ActionView); err != nil {
		handleDomainError(w, r, err)
		return
	}
	rep, ok := a.loadScopedReport(w, r, actor)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, renderReport(rep))
}

func (a *API) updateReportFields(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if err := a.engine.Require(actor, policy.ResourceReport, policy.ActionUpdate); err != nil {
		handleDomainError(w, r, err)
		return
	}
	rep, ok := a.loadScopedReport(w, r, actor)
	if !ok {
		return
	}
	if !policy.CanUpdateReport(a.engine, actor, rep) {
		writeError(w, r, http.StatusConflict, "report can no longer be edited")
		return
	}
	var req struct {
		Fields map[string]string `json:"fields"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := a.reports.SetFields(r.Context(), rep.ID, req.Fields)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, renderReport(updated))
}

func (a *API) discardReport(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if err := a.engine.Require(actor, policy.ResourceReport, policy.ActionDestroy); err != nil {
		handleDomainError(w, r, err)
		return
	}
	rep, ok := a.loadScopedReport(w, r, actor)
	if !ok {
		return
	}
	if !policy.CanDestroyReport(a.engine, actor, rep) {
		writeError(w, r, http.StatusConflict, "report cannot be discarded in its current state")
		return
	}
	updated, err := a.reports.DiscardReport(r.Context(), rep.ID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, renderReport(updated))
}

func (a *API) undiscardReport(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if err := a.engine.Require(actor, policy.ResourceReport, policy.ActionDestroy); err != nil {
		handleDomainError(w, r, err)
		return
	}
	rep, ok := a.loadScopedReport(w, r, actor)
	if !ok {
		return
	}
	if !policy.CanUndiscardReport(a.engine, actor, rep) {
		writeError(w, r, http.StatusConflict, "report is not discarded")
		return
	}
	updated, err := a.reports.UndiscardReport(r.Context(), rep.ID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, renderReport(updated))
}

func (a *API) markReportReady(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, policy.ActionUpdate, func(id string) (*reporting.Report, error) {
		return a.reports.MarkReady(r.Context(), id)
	})
}

func (a *API) queueReport(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, policy.ActionTransmit, func(id string) (*reporting.Report, error) {
		return a.reports.AddToTransmission(r.Context(), id)
	})
}

func (a *API) cancelReport(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, policy.ActionCancel, func(id string) (*reporting.Report, error) {
		return a.reports.CancelReport(r.Context(), id)
	})
}

func (a *API) acknowledgeReport(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, policy.ActionAcknowledge, func(id string) (*reporting.Report, error) {
		return a.reports.AcknowledgeReport(r.Context(), id)
	})
}

func (a *API) acceptReport(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, policy.ActionAccept, func(id string) (*reporting.Report, error) {
		return a.reports.AcceptReport(r.Context(), id)
	})
}

func (a *API) rejectReport(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if err := a.engine.Require(actor, policy.ResourceReport, policy.ActionReject); err != nil {
		handleDomainError(w, r, err)
		return
	}
	rep, ok := a.loadScopedReport(w, r, actor)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := a.reports.RejectReport(r.Context(), rep.ID, req.Reason)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, renderReport(updated))
}

func (a *API) assignReport(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if err := a.engine.Require(actor, policy.ResourceReport, policy.ActionAssign); err != nil {
		handleDomainError(w, r, err)
		return
	}
	rep, ok := a.loadScopedReport(w, r, actor)
	if !ok {
		return
	}
	var req struct {
		OfficeID string `json:"office_id"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := a.reports.AssignReport(r.Context(), rep.ID, req.OfficeID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, renderReport(updated))
}

func (a *API) unassignReport(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, policy.ActionAssign, func(id string) (*reporting.Report, error) {
		return a.reports.UnassignReport(r.Context(), id)
	})
}

func (a *API) resolveReport(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if err := a.engine.Require(actor, policy.ResourceReport, policy.ActionResolve); err != nil {
		handleDomainError(w, r, err)
		return
	}
	rep, ok := a.loadScopedReport(w, r, actor)
	if !ok {
		return
	}
	var req struct {
		Kind    string `json:"kind"`
		Motif   string `json:"motif"`
		Comment string `json:"comment,omitempty"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := a.reports.ResolveReport(r.Context(), rep.ID, reporting.ResolutionKind(req.Kind), req.Motif, req.Comment)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, renderReport(updated))
}

func (a *API) confirmReport(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, policy.ActionConfirm, func(id string) (*reporting.Report, error) {
		return a.reports.ConfirmReport(r.Context(), id)
	})
}

func (a *API) undoConfirmReport(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, policy.ActionConfirm, func(id string) (*reporting.Report, error) {
		return a.reports.UndoConfirmReport(r.Context(), id)
	})
}

// transition factors the shared shape of the body-less lifecycle endpoints:
// rule check, scoped load, service call, rendered report.
func (a *API) transition(w http.ResponseWriter, r *http.Request, action string, op func(id string) (*reporting.Report, error)) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if err := a.engine.Require(actor, policy.ResourceReport, action); err != nil {
		handleDomainError(w, r, err)
		return
	}
	rep, ok := a.loadScopedReport(w, r, actor)
	if !ok {
		return
	}
	updated, err := op(rep.ID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, renderReport(updated))
}

// --- bulk endpoints --------------------------------------------------------

// scopeBulkIDs narrows the requested ids to those the actor can see. Missing
// and out-of-scope ids are reported identically.
func (a *API) scopeBulkIDs(r *http.Request, actor policy.Actor, ids []string) ([]string, map[string]string, error) {
	filter := policy.ReportScope(actor)
	filter.IDs = ids
	visible, err := a.reports.ListReports(r.Context(), filter)
	if err != nil {
		return nil, nil, err
	}
	seen := make(map[string]bool, len(visible))
	for _, rep := range visible {
		seen[rep.ID] = true
	}
	var kept []string
	skipped := make(map[string]string)
	for _, id := range ids {
		if seen[id] {
			kept = append(kept, id)
		} else {
			skipped[id] = "not found"
		}
	}
	return kept, skipped, nil
}

func renderBulkResult(res reporting.BulkResult, skipped map[string]string) map[string]any {
	reasons := make(map[string]string, len(res.Reasons)+len(skipped))
	for id, why := range res.Reasons {
		reasons[id] = why
	}
	for id, why := range skipped {
		reasons[id] = why
	}
	return map[string]any{
		"applied": res.Applied,
		"ignored": res.Ignored + len(skipped),
		"reasons": reasons,
	}
}

func (a *API) bulkAcceptReports(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if err := a.engine.Require(actor, policy.ResourceReport, policy.ActionAccept); err != nil {
		handleDomainError(w, r, err)
		return
	}
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ids, skipped, err := a.scopeBulkIDs(r, actor, trimmedList(req.IDs))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	res, err := a.reports.AcceptReports(r.Context(), ids)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, renderBulkResult(res, skipped))
}

func (a *API) bulkRejectReports(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if err := a.engine.Require(actor, policy.ResourceReport, policy.ActionReject); err != nil {
		handleDomainError(w, r, err)
		return
	}
	var req struct {
		IDs    []string `json:"ids"`
		Reason string   `json:"reason"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ids, skipped, err := a.scopeBulkIDs(r, actor, trimmedList(req.IDs))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	res, err := a.reports.RejectReports(r.Context(), ids, req.Reason)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, renderBulkResult(res, skipped))
}

func (a *API) bulkAssignReports(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if err := a.engine.Require(actor, policy.ResourceReport, policy.ActionAssign); err != nil {
		handleDomainError(w, r, err)
		return
	}
	var req struct {
		IDs      []string `json:"ids"`
		OfficeID string   `json:"office_id"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ids, skipped, err := a.scopeBulkIDs(r, actor, trimmedList(req.IDs))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	res, err := a.reports.AssignReports(r.Context(), ids, req.OfficeID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, renderBulkResult(res, skipped))
}
