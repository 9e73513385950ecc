package httpapi

import (
	"context"
	"net/http"
	"time"

	"signalo.org/internal/organizations"
	"signalo.org/internal/policy"
	"signalo.org/internal/reporting"
)

type packageView struct {
	ID             string `json:"id"`
	Reference      string `json:"reference"`
	State          string `json:"state"`
	CollectivityID string `json:"collectivity_id"`
	PublisherID    string `json:"publisher_id,omitempty"`

	TransmittedAt *time.Time `json:"transmitted_at,omitempty"`
	ApprovedAt    *time.Time `json:"approved_at,omitempty"`
	ReturnedAt    *time.Time `json:"returned_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

func renderPackage(p *reporting.Package) packageView {
	return packageView{
		ID:             p.ID,
		Reference:      p.Reference,
		State:          string(p.State()),
		CollectivityID: p.CollectivityID,
		PublisherID:    p.PublisherID,
		TransmittedAt:  p.TransmittedAt,
		ApprovedAt:     p.ApprovedAt,
		ReturnedAt:     p.ReturnedAt,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
		Version:        p.Version,
	}
}

// packageInScope mirrors the row-level package filter for a single record.
// For DDFIP actors the package is visible once transmitted and only when one
// of its reports touches the actor's department.
func (a *API) packageInScope(r *http.Request, actor policy.Actor, p *reporting.Package) (bool, error) {
	f := policy.PackageScope(actor)
	switch {
	case f.None:
		return false, nil
	case len(f.CollectivityIDs) > 0:
		return p.CollectivityID == f.CollectivityIDs[0], nil
	case f.PublisherID != "":
		return p.PublisherID == f.PublisherID, nil
	case f.DDFIPDepartment != "":
		if p.TransmittedAt == nil {
			return false, nil
		}
		reports, err := a.reports.ListReports(r.Context(), reporting.ReportFilter{PackageID: p.ID})
		if err != nil {
			return false, err
		}
		for _, rep := range reports {
			if organizations.DepartmentOfCommune(rep.CommuneCode) == f.DDFIPDepartment {
				return true, nil
			}
		}
		return false, nil
	default:
		return true, nil
	}
}

// loadScopedPackage resolves {id} within the actor's scope.
func (a *API) loadScopedPackage(w http.ResponseWriter, r *http.Request, actor policy.Actor) (*reporting.Package, bool) {
	pkg, err := a.reports.FindPackage(r.Context(), r.PathValue("id"))
	if err != nil {
		handleDomainError(w, r, err)
		return nil, false
	}
	if !actor.SuperAdmin {
		visible, err := a.packageInScope(r, actor, pkg)
		if err != nil {
			handleDomainError(w, r, err)
			return nil, false
		}
		if !visible {
			writeError(w, r, http.StatusNotFound, "not found")
			return nil, false
		}
	}
	return pkg, true
}

func (a *API) createPackage(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if err := a.engine.Require(actor, policy.ResourcePackage, policy.ActionCreate); err != nil {
		handleDomainError(w, r, err)
		return
	}
	var req struct {
		TransmissionID string `json:"transmission_id"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	pkg, err := a.reports.CreatePackageFromTransmission(r.Context(), req.TransmissionID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, renderPackage(pkg))
}

func (a *API) listPackages(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if err := a.engine.Require(actor, policy.ResourcePackage, policy.ActionView); err != nil {
		handleDomainError(w, r, err)
		return
	}
	packages, err := a.reports.ListPackages(r.Context(), policy.PackageScope(actor))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	views := make([]packageView, 0, len(packages))
	for _, p := range packages {
		views = append(views, renderPackage(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"packages": views})
}

func (a *API) getPackage(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if err := a.engine.Require(actor, policy.ResourcePackage, policy.ActionView); err != nil {
		handleDomainError(w, r, err)
		return
	}
	pkg, ok := a.loadScopedPackage(w, r, actor)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, renderPackage(pkg))
}

func (a *API) transmitPackage(w http.ResponseWriter, r *http.Request) {
	a.packageTransition(w, r, policy.ActionTransmit, a.reports.TransmitPackage)
}

func (a *API) approvePackage(w http.ResponseWriter, r *http.Request) {
	a.packageTransition(w, r, policy.ActionApprove, a.reports.ApprovePackage)
}

func (a *API) returnPackage(w http.ResponseWriter, r *http.Request) {
	a.packageTransition(w, r, policy.ActionReturn, a.reports.ReturnPackage)
}

func (a *API) packageTransition(w http.ResponseWriter, r *http.Request, action string, op func(ctx context.Context, id string) (*reporting.Package, error)) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if err := a.engine.Require(actor, policy.ResourcePackage, action); err != nil {
		handleDomainError(w, r, err)
		return
	}
	pkg, ok := a.loadScopedPackage(w, r, actor)
	if !ok {
		return
	}
	updated, err := op(r.Context(), pkg.ID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, renderPackage(updated))
}
