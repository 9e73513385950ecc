package policy

import (
	"signalo.org/internal/auth"
	"signalo.org/internal/organizations"
)

// Actor is the authorization subject: a user flattened with the facts about
// its organization that the rule tables consult. It is assembled once per
// request, after authentication.
type Actor struct {
	UserID            string
	OrganizationID    string
	OrganizationKind  organizations.Kind
	DepartmentCode    string // DDFIP actors only
	OrganizationAdmin bool
	SuperAdmin        bool
	OfficeIDs         []string
}

// ActorFromUser flattens an authenticated user and its organization into an
// Actor.
func ActorFromUser(u *auth.User, org *organizations.Organization) Actor {
	a := Actor{
		UserID:            u.ID,
		OrganizationAdmin: u.OrganizationAdmin,
		SuperAdmin:        u.SuperAdmin,
		OfficeIDs:         append([]string(nil), u.OfficeIDs...),
	}
	if org != nil {
		a.OrganizationID = org.ID
		a.OrganizationKind = org.Kind
		a.DepartmentCode = org.DepartmentCode
	}
	return a
}

func (a Actor) isCollectivity() bool { return a.OrganizationKind == organizations.KindCollectivity }
func (a Actor) isPublisher() bool    { return a.OrganizationKind == organizations.KindPublisher }
func (a Actor) isDDFIP() bool        { return a.OrganizationKind == organizations.KindDDFIP }
func (a Actor) isDGFIP() bool        { return a.OrganizationKind == organizations.KindDGFIP }

func (a Actor) isOfficeUser() bool { return a.isDDFIP() && len(a.OfficeIDs) > 0 }
