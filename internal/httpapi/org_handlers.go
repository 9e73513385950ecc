package httpapi

import (
	"net/http"
	"time"

	"signalo.org/internal/organizations"
	"signalo.org/internal/policy"
)

type organizationView struct {
	ID                string    `json:"id"`
	Kind              string    `json:"kind"`
	Name              string    `json:"name"`
	ContactEmail      string    `json:"contact_email,omitempty"`
	DepartmentCode    string    `json:"department_code,omitempty"`
	PublisherID       string    `json:"publisher_id,omitempty"`
	AutoAssignReports bool      `json:"auto_assign_reports,omitempty"`
	AutoApprovePkgs   bool      `json:"auto_approve_packages,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func renderOrganization(o *organizations.Organization) organizationView {
	return organizationView{
		ID:                o.ID,
		Kind:              string(o.Kind),
		Name:              o.Name,
		ContactEmail:      o.ContactEmail,
		DepartmentCode:    o.DepartmentCode,
		PublisherID:       o.PublisherID,
		AutoAssignReports: o.AutoAssignReports,
		AutoApprovePkgs:   o.AutoApprovePkgs,
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
	}
}

type officeView struct {
	ID           string    `json:"id"`
	DDFIPID      string    `json:"ddfip_id"`
	Name         string    `json:"name"`
	Competences  []string  `json:"competences"`
	CommuneCodes []string  `json:"commune_codes"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func renderOffice(o *organizations.Office) officeView {
	return officeView{
		ID:           o.ID,
		DDFIPID:      o.DDFIPID,
		Name:         o.Name,
		Competences:  o.Competences,
		CommuneCodes: o.CommuneCodes,
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
	}
}

func (a *API) createOrganization(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if err := a.engine.Require(actor, policy.ResourceOrganization, policy.ActionCreate); err != nil {
		handleDomainError(w, r, err)
		return
	}
	var req struct {
		Kind              string `json:"kind"`
		Name              string `json:"name"`
		ContactEmail      string `json:"contact_email,omitempty"`
		DepartmentCode    string `json:"department_code,omitempty"`
		PublisherID       string `json:"publisher_id,omitempty"`
		AutoAssignReports bool   `json:"auto_assign_reports,omitempty"`
		AutoApprovePkgs   bool   `json:"auto_approve_packages,omitempty"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	org := &organizations.Organization{
		Kind:              organizations.Kind(req.Kind),
		Name:              req.Name,
		ContactEmail:      req.ContactEmail,
		DepartmentCode:    req.DepartmentCode,
		PublisherID:       req.PublisherID,
		AutoAssignReports: req.AutoAssignReports,
		AutoApprovePkgs:   req.AutoApprovePkgs,
	}
	if err := a.orgs.CreateOrganization(r.Context(), org); err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, renderOrganization(org))
}

func (a *API) listOrganizations(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if err := a.engine.Require(actor, policy.ResourceOrganization, policy.ActionView); err != nil {
		handleDomainError(w, r, err)
		return
	}
	kind := organizations.Kind(r.URL.Query().Get("kind"))
	orgs, err := a.orgs.ListOrganizations(r.Context(), kind)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	views := make([]organizationView, 0, len(orgs))
	for _, o := range orgs {
		views = append(views, renderOrganization(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"organizations": views})
}

func (a *API) getOrganization(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if err := a.engine.Require(actor, policy.ResourceOrganization, policy.ActionView); err != nil {
		handleDomainError(w, r, err)
		return
	}
	org, err := a.orgs.FindOrganization(r.Context(), r.PathValue("id"))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, renderOrganization(org))
}

func (a *API) createOffice(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if err := a.engine.Require(actor, policy.ResourceOffice, policy.ActionCreate); err != nil {
		handleDomainError(w, r, err)
		return
	}
	var req struct {
		DDFIPID      string   `json:"ddfip_id,omitempty"`
		Name         string   `json:"name"`
		Competences  []string `json:"competences"`
		CommuneCodes []string `json:"commune_codes,omitempty"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	office := &organizations.Office{
		DDFIPID:      req.DDFIPID,
		Name:         req.Name,
		Competences:  trimmedList(req.Competences),
		CommuneCodes: trimmedList(req.CommuneCodes),
	}
	// A DDFIP admin creates offices inside its own organization only.
	if !actor.SuperAdmin {
		office.DDFIPID = actor.OrganizationID
	}
	if err := a.orgs.CreateOffice(r.Context(), office); err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, renderOffice(office))
}

// loadScopedOffice resolves {id}; non-super actors only see offices of their
// own DDFIP.
func (a *API) loadScopedOffice(w http.ResponseWriter, r *http.Request, actor policy.Actor) (*organizations.Office, bool) {
	office, err := a.orgs.FindOffice(r.Context(), r.PathValue("id"))
	if err != nil {
		handleDomainError(w, r, err)
		return nil, false
	}
	if !actor.SuperAdmin && actor.OrganizationKind != organizations.KindDGFIP &&
		office.DDFIPID != actor.OrganizationID {
		writeError(w, r, http.StatusNotFound, "not found")
		return nil, false
	}
	return office, true
}

func (a *API) getOffice(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if err := a.engine.Require(actor, policy.ResourceOffice, policy.ActionView); err != nil {
		handleDomainError(w, r, err)
		return
	}
	office, ok := a.loadScopedOffice(w, r, actor)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, renderOffice(office))
}

func (a *API) setOfficeCommunes(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if err := a.engine.Require(actor, policy.ResourceOffice, policy.ActionUpdate); err != nil {
		handleDomainError(w, r, err)
		return
	}
	office, ok := a.loadScopedOffice(w, r, actor)
	if !ok {
		return
	}
	var req struct {
		CommuneCodes []string `json:"commune_codes"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.orgs.SetOfficeCommunes(r.Context(), office.ID, trimmedList(req.CommuneCodes)); err != nil {
		handleDomainError(w, r, err)
		return
	}
	updated, err := a.orgs.FindOffice(r.Context(), office.ID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, renderOffice(updated))
}

func (a *API) setOfficeCompetences(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if err := a.engine.Require(actor, policy.ResourceOffice, policy.ActionUpdate); err != nil {
		handleDomainError(w, r, err)
		return
	}
	office, ok := a.loadScopedOffice(w, r, actor)
	if !ok {
		return
	}
	var req struct {
		Competences []string `json:"competences"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.orgs.SetOfficeCompetences(r.Context(), office.ID, trimmedList(req.Competences)); err != nil {
		handleDomainError(w, r, err)
		return
	}
	updated, err := a.orgs.FindOffice(r.Context(), office.ID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, renderOffice(updated))
}
