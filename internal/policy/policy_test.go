package policy

import (
	"testing"
	"time"

	"signalo.org/internal/organizations"
	"signalo.org/internal/reporting"
)

func collectivityActor() Actor {
	return Actor{UserID: "u1", OrganizationID: "c1", OrganizationKind: organizations.KindCollectivity}
}

func ddfipAdminActor() Actor {
	return Actor{UserID: "u2", OrganizationID: "d1", OrganizationKind: organizations.KindDDFIP,
		DepartmentCode: "64", OrganizationAdmin: true}
}

func ddfipUserActor() Actor {
	return Actor{UserID: "u4", OrganizationID: "d1", OrganizationKind: organizations.KindDDFIP,
		DepartmentCode: "64"}
}

func dgfipActor() Actor {
	return Actor{UserID: "u5", OrganizationID: "g1", OrganizationKind: organizations.KindDGFIP}
}

func officeActor() Actor {
	return Actor{UserID: "u3", OrganizationID: "d1", OrganizationKind: organizations.KindDDFIP,
		DepartmentCode: "64", OfficeIDs: []string{"o1"}}
}

func TestRuleTableDecisions(t *testing.T) {
	e := NewEngine()
	cases := []struct {
		name     string
		actor    Actor
		resource string
		action   string
		want     bool
	}{
		{"collectivity creates reports", collectivityActor(), ResourceReport, ActionCreate, true},
		{"collectivity cannot accept", collectivityActor(), ResourceReport, ActionAccept, false},
		{"collectivity cannot approve packages", collectivityActor(), ResourcePackage, ActionApprove, false},
		{"ddfip admin accepts", ddfipAdminActor(), ResourceReport, ActionAccept, true},
		{"plain ddfip user acknowledges", ddfipUserActor(), ResourceReport, ActionAcknowledge, true},
		{"plain ddfip user cannot accept", ddfipUserActor(), ResourceReport, ActionAccept, false},
		{"plain ddfip user cannot reject", ddfipUserActor(), ResourceReport, ActionReject, false},
		{"dgfip cannot accept", dgfipActor(), ResourceReport, ActionAccept, false},
		{"dgfip cannot reject", dgfipActor(), ResourceReport, ActionReject, false},
		{"dgfip cannot acknowledge", dgfipActor(), ResourceReport, ActionAcknowledge, false},
		{"ddfip admin assigns", ddfipAdminActor(), ResourceReport, ActionAssign, true},
		{"ddfip admin cannot create reports", ddfipAdminActor(), ResourceReport, ActionCreate, false},
		{"office user resolves", officeActor(), ResourceReport, ActionResolve, true},
		{"office user cannot assign", officeActor(), ResourceReport, ActionAssign, false},
		{"office user cannot manage offices", officeActor(), ResourceOffice, ActionCreate, false},
		{"ddfip admin manages offices", ddfipAdminActor(), ResourceOffice, ActionCreate, true},
		{"super admin manages organizations", Actor{SuperAdmin: true}, ResourceOrganization, ActionDestroy, true},
		{"nobody matches unknown actions", ddfipAdminActor(), ResourceReport, "frobnicate", false},
		{"nobody matches unknown resources", Actor{SuperAdmin: true}, "widget", ActionView, false},
		{"audit is dgfip-only", ddfipAdminActor(), ResourceAudit, ActionView, false},
		{"dgfip reads audit", Actor{OrganizationKind: organizations.KindDGFIP}, ResourceAudit, ActionView, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := e.Allowed(tc.actor, tc.resource, tc.action); got != tc.want {
				t.Fatalf("Allowed = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestManageAliasExpansion(t *testing.T) {
	e := NewEngine()
	admin := Actor{SuperAdmin: true}
	for _, action := range []string{ActionView, ActionCreate, ActionUpdate, ActionDestroy} {
		if !e.Allowed(admin, ResourceOrganization, action) {
			t.Fatalf("manage alias must expand to %s", action)
		}
	}
	// The alias itself is not a callable action.
	if e.Allowed(admin, ResourceOrganization, ActionManage) {
		t.Fatal("manage must not be a callable action after expansion")
	}
}

// Out-of-scope records and absent records must be indistinguishable: the
// scope filter plus InScope give the same negative answer for both.
func TestScopePropertyOutOfScopeLooksAbsent(t *testing.T) {
	mine := &reporting.Report{ID: "r1", CollectivityID: "c1"}
	theirs := &reporting.Report{ID: "r2", CollectivityID: "c2"}

	a := collectivityActor()
	if !InScope(a, mine) {
		t.Fatal("own report must be in scope")
	}
	if InScope(a, theirs) {
		t.Fatal("foreign report must be out of scope")
	}

	f := ReportScope(a)
	if len(f.CollectivityIDs) != 1 || f.CollectivityIDs[0] != "c1" {
		t.Fatalf("collectivity scope = %+v", f)
	}
}

func TestReportScopePerKind(t *testing.T) {
	if f := ReportScope(Actor{SuperAdmin: true}); f.None || len(f.CollectivityIDs) != 0 {
		t.Fatalf("super admin scope must be unbounded, got %+v", f)
	}
	if f := ReportScope(Actor{OrganizationKind: organizations.KindPublisher, OrganizationID: "p1"}); f.PublisherID != "p1" {
		t.Fatalf("publisher scope = %+v", f)
	}
	if f := ReportScope(ddfipAdminActor()); f.DDFIPID != "d1" {
		t.Fatalf("ddfip admin scope = %+v", f)
	}
	if f := ReportScope(officeActor()); len(f.OfficeIDs) != 1 || f.OfficeIDs[0] != "o1" {
		t.Fatalf("office scope = %+v", f)
	}
	if f := ReportScope(Actor{}); !f.None {
		t.Fatalf("kindless actor must see nothing, got %+v", f)
	}
}

func TestPackageScopeDDFIPSeesTransmittedOnly(t *testing.T) {
	f := PackageScope(ddfipAdminActor())
	if !f.TransmittedOnly || f.DDFIPDepartment != "64" {
		t.Fatalf("ddfip package scope = %+v", f)
	}
}

func TestCanDestroyReportLifecycleGuard(t *testing.T) {
	e := NewEngine()
	a := collectivityActor()

	draft := &reporting.Report{ID: "r1", CollectivityID: "c1"}
	if !CanDestroyReport(e, a, draft) {
		t.Fatal("own draft must be destroyable")
	}

	now := draft.CreatedAt
	transmitted := &reporting.Report{ID: "r2", CollectivityID: "c1", ReadyAt: &now, TransmittedAt: &now}
	if CanDestroyReport(e, a, transmitted) {
		t.Fatal("transmitted report must not be destroyable by the collectivity")
	}

	foreign := &reporting.Report{ID: "r3", CollectivityID: "c2"}
	if CanDestroyReport(e, a, foreign) {
		t.Fatal("foreign report must not be destroyable")
	}
}

func TestCanUndiscardReportOnlyWhenDiscarded(t *testing.T) {
	e := NewEngine()
	a := collectivityActor()
	now := time.Now().UTC()

	discarded := &reporting.Report{ID: "r1", CollectivityID: "c1", DiscardedAt: &now}
	if !CanUndiscardReport(e, a, discarded) {
		t.Fatal("own discarded report must be restorable")
	}

	kept := &reporting.Report{ID: "r2", CollectivityID: "c1"}
	if CanUndiscardReport(e, a, kept) {
		t.Fatal("a kept report has nothing to restore")
	}

	foreign := &reporting.Report{ID: "r3", CollectivityID: "c2", DiscardedAt: &now}
	if CanUndiscardReport(e, a, foreign) {
		t.Fatal("foreign report must not be restorable")
	}
	if CanUndiscardReport(e, ddfipAdminActor(), discarded) {
		t.Fatal("the ddfip side never restores collectivity drafts")
	}
}
