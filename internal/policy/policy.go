// Package policy answers two questions for every request: may this actor
// perform this action (Allowed), and which rows may it see (the Scope
// functions). Rules deny by default; row-level scoping is enforced by
// feeding the returned filters to the stores, so out-of-scope records are
// indistinguishable from absent ones.
package policy

import "errors"

// ErrDenied is returned by Require when the rule tables deny an action.
var ErrDenied = errors.New("policy: denied")

// Resources known to the rule tables.
const (
	ResourceReport       = "report"
	ResourcePackage      = "package"
	ResourceOrganization = "organization"
	ResourceOffice       = "office"
	ResourceUser         = "user"
	ResourceAudit        = "audit"
)

// Actions known to the rule tables. ActionManage is an alias expanded at
// table construction into view/create/update/destroy.
const (
	ActionView    = "view"
	ActionCreate  = "create"
	ActionUpdate  = "update"
	ActionDestroy = "destroy"
	ActionManage  = "manage"

	ActionTransmit    = "transmit"
	ActionCancel      = "cancel"
	ActionAcknowledge = "acknowledge"
	ActionAccept      = "accept"
	ActionReject      = "reject"
	ActionAssign      = "assign"
	ActionResolve     = "resolve"
	ActionConfirm     = "confirm"
	ActionApprove     = "approve"
	ActionReturn      = "return"
)

var manageActions = []string{ActionView, ActionCreate, ActionUpdate, ActionDestroy}

// rule decides one (resource, action) pair for an actor.
type rule func(a Actor) bool

// Engine holds the expanded rule tables.
type Engine struct {
	rules map[string]map[string]rule
}

// NewEngine builds the rule tables. The tables are data: adding a capability
// means adding a row here, never editing call sites.
func NewEngine() *Engine {
	anyAdmin := func(a Actor) bool { return a.SuperAdmin }
	collectivitySide := func(a Actor) bool { return a.SuperAdmin || a.isCollectivity() || a.isPublisher() }
	ddfipSide := func(a Actor) bool { return a.SuperAdmin || a.isDDFIP() || a.isDGFIP() }
	ddfipUser := func(a Actor) bool { return a.SuperAdmin || a.isDDFIP() }
	ddfipAdmin := func(a Actor) bool { return a.SuperAdmin || (a.isDDFIP() && a.OrganizationAdmin) }
	officeSide := func(a Actor) bool { return a.SuperAdmin || a.isDGFIP() || a.isOfficeUser() || (a.isDDFIP() && a.OrganizationAdmin) }
	anyone := func(a Actor) bool { return true }
	orgAdmin := func(a Actor) bool { return a.SuperAdmin || a.OrganizationAdmin }

	e := &Engine{rules: make(map[string]map[string]rule)}
	e.add(ResourceReport, map[string]rule{
		ActionView:        anyone, // row scoping narrows what "view" returns
		ActionCreate:      collectivitySide,
		ActionUpdate:      collectivitySide,
		ActionDestroy:     collectivitySide,
		ActionTransmit:    collectivitySide,
		ActionCancel:      collectivitySide,
		// DGFIP oversight is read-only: mutating report actions belong to
		// the owning DDFIP, and taking charge is an admin decision.
		ActionAcknowledge: ddfipUser,
		ActionAccept:      ddfipAdmin,
		ActionReject:      ddfipAdmin,
		ActionAssign:      ddfipAdmin,
		ActionResolve:     officeSide,
		ActionConfirm:     officeSide,
	})
	e.add(ResourcePackage, map[string]rule{
		ActionView:     anyone,
		ActionCreate:   collectivitySide,
		ActionTransmit: collectivitySide,
		ActionApprove:  ddfipAdmin,
		ActionReturn:   ddfipAdmin,
	})
	e.add(ResourceOrganization, map[string]rule{
		ActionView:   anyone,
		ActionManage: anyAdmin,
	})
	e.add(ResourceOffice, map[string]rule{
		ActionView:   ddfipSide,
		ActionManage: ddfipAdmin,
	})
	e.add(ResourceUser, map[string]rule{
		ActionView:   orgAdmin,
		ActionManage: orgAdmin,
	})
	e.add(ResourceAudit, map[string]rule{
		ActionView: func(a Actor) bool { return a.SuperAdmin || a.isDGFIP() },
	})
	return e
}

// add installs a rule row, expanding the manage alias.
func (e *Engine) add(resource string, actions map[string]rule) {
	row := make(map[string]rule, len(actions))
	for action, r := range actions {
		if action == ActionManage {
			for _, expanded := range manageActions {
				if _, ok := actions[expanded]; !ok {
					row[expanded] = r
				}
			}
			continue
		}
		row[action] = r
	}
	e.rules[resource] = row
}

// Allowed reports whether the actor may perform the action on the resource
// kind. Unknown resources and actions are denied.
func (e *Engine) Allowed(a Actor, resource, action string) bool {
	row, ok := e.rules[resource]
	if !ok {
		return false
	}
	r, ok := row[action]
	if !ok {
		return false
	}
	return r(a)
}

// Require is Allowed as an error, for handler call sites.
func (e *Engine) Require(a Actor, resource, action string) error {
	if !e.Allowed(a, resource, action) {
		return ErrDenied
	}
	return nil
}
