package policy

import "signalo.org/internal/reporting"

// ReportScope builds the row-level filter bounding every report query the
// actor issues. The filter is combined with the caller's own criteria by
// the store, so records outside it behave exactly like absent records.
func ReportScope(a Actor) reporting.ReportFilter {
	switch {
	case a.SuperAdmin, a.isDGFIP():
		return reporting.ReportFilter{}
	case a.isCollectivity():
		return reporting.ReportFilter{CollectivityIDs: []string{a.OrganizationID}}
	case a.isPublisher():
		return reporting.ReportFilter{PublisherID: a.OrganizationID}
	case a.isDDFIP():
		if a.OrganizationAdmin || len(a.OfficeIDs) == 0 {
			return reporting.ReportFilter{DDFIPID: a.OrganizationID}
		}
		return reporting.ReportFilter{OfficeIDs: append([]string(nil), a.OfficeIDs...)}
	default:
		return reporting.ReportFilter{None: true}
	}
}

// PackageScope builds the row-level filter bounding every package query.
// DDFIP users only see packages once transmitted; before that the package
// is the collectivity's working set.
func PackageScope(a Actor) reporting.PackageFilter {
	switch {
	case a.SuperAdmin, a.isDGFIP():
		return reporting.PackageFilter{}
	case a.isCollectivity():
		return reporting.PackageFilter{CollectivityIDs: []string{a.OrganizationID}}
	case a.isPublisher():
		return reporting.PackageFilter{PublisherID: a.OrganizationID}
	case a.isDDFIP():
		return reporting.PackageFilter{DDFIPDepartment: a.DepartmentCode, TransmittedOnly: true}
	default:
		return reporting.PackageFilter{None: true}
	}
}

// InScope reports whether a loaded report falls inside the actor's scope.
// Handlers use it on single-record reads so an out-of-scope id yields the
// same not-found answer as an unknown id.
func InScope(a Actor, r *reporting.Report) bool {
	f := ReportScope(a)
	switch {
	case f.None:
		return false
	case len(f.CollectivityIDs) > 0:
		return r.CollectivityID == f.CollectivityIDs[0]
	case f.PublisherID != "":
		return r.PublisherID == f.PublisherID
	case f.DDFIPID != "":
		return r.DDFIPID == f.DDFIPID
	case len(f.OfficeIDs) > 0:
		for _, id := range f.OfficeIDs {
			if r.OfficeID == id {
				return true
			}
		}
		return false
	default:
		return true
	}
}

// CanDestroyReport combines the rule table with ownership and lifecycle:
// only the owning collectivity side may discard, and only before the report
// left its hands.
func CanDestroyReport(e *Engine, a Actor, r *reporting.Report) bool {
	if !e.Allowed(a, ResourceReport, ActionDestroy) {
		return false
	}
	if a.SuperAdmin {
		return true
	}
	if !InScope(a, r) {
		return false
	}
	switch r.State() {
	case reporting.StateDraft, reporting.StateReady, reporting.StateRejected, reporting.StateReturned:
		return true
	}
	return false
}

// CanUndiscardReport restores soft-deleted reports only: the destroy rule
// row applies, the record must be in scope and currently discarded.
func CanUndiscardReport(e *Engine, a Actor, r *reporting.Report) bool {
	if !e.Allowed(a, ResourceReport, ActionDestroy) {
		return false
	}
	if !a.SuperAdmin && !InScope(a, r) {
		return false
	}
	return r.DiscardedAt != nil
}

// CanUpdateReport allows field edits on the collectivity side while the
// report is still a draft or ready.
func CanUpdateReport(e *Engine, a Actor, r *reporting.Report) bool {
	if !e.Allowed(a, ResourceReport, ActionUpdate) {
		return false
	}
	if !a.SuperAdmin && !InScope(a, r) {
		return false
	}
	switch r.State() {
	case reporting.StateDraft, reporting.StateReady:
		return true
	}
	return false
}
