package organizations

import "context"

// Store describes persistence operations for organizations and offices.
type Store interface {
	CreateOrganization(ctx context.Context, org *Organization) error
	FindOrganization(ctx context.Context, id string) (*Organization, error)
	ListOrganizations(ctx context.Context, kind Kind) ([]*Organization, error)
	// DDFIPsForDepartments returns the DDFIPs covering any of the given
	// department codes.
	DDFIPsForDepartments(ctx context.Context, departments []string) ([]*Organization, error)

	CreateOffice(ctx context.Context, office *Office) error
	FindOffice(ctx context.Context, id string) (*Office, error)
	ListOffices(ctx context.Context, ddfipID string) ([]*Office, error)
	// ReplaceOfficeCommunes applies a precomputed commune-set diff with one
	// bulk delete and one bulk insert.
	ReplaceOfficeCommunes(ctx context.Context, officeID string, removed, added []string) error
	SetOfficeCompetences(ctx context.Context, officeID string, competences []string) error
}
