package reporting

import (
	"context"
	"time"
)

// ReportFilter restricts report listings. Zero values mean "no restriction"
// except None, which short-circuits to an empty result. The filter doubles
// as the row-level scope predicate produced by the policy engine.
type ReportFilter struct {
	None             bool
	IDs              []string
	CollectivityIDs  []string
	PublisherID      string
	DDFIPID          string
	OfficeIDs        []string
	PackageID        string
	TransmissionID   string
	IncludeDiscarded bool
}

// PackageFilter restricts package listings, mirroring ReportFilter.
type PackageFilter struct {
	None            bool
	CollectivityIDs []string
	PublisherID     string
	DDFIPDepartment string
	TransmittedOnly bool
}

// Store describes persistence operations for reports, transmissions and
// packages. Each method is atomic; multi-row operations commit or roll back
// as a whole. UpdateReport and UpdatePackage implement optimistic locking on
// the Version column and return ErrConflict on a lost race.
type Store interface {
	CreateReport(ctx context.Context, r *Report) error
	FindReport(ctx context.Context, id string) (*Report, error)
	ListReports(ctx context.Context, f ReportFilter) ([]*Report, error)
	UpdateReport(ctx context.Context, r *Report) error
	PurgeDiscardedReports(ctx context.Context, before time.Time) (int64, error)

	// OpenTransmission finds the collectivity's open transmission or creates
	// one. Implementations serialize this per collectivity so a single
	// logical writer exists per collectivity transmission.
	OpenTransmission(ctx context.Context, collectivityID string) (*Transmission, error)
	FindTransmission(ctx context.Context, id string) (*Transmission, error)

	// CreatePackage persists the package and assigns its monthly reference
	// atomically; concurrent creations in the same month never collide.
	CreatePackage(ctx context.Context, p *Package) error
	FindPackage(ctx context.Context, id string) (*Package, error)
	ListPackages(ctx context.Context, f PackageFilter) ([]*Package, error)
	UpdatePackage(ctx context.Context, p *Package) error

	// AttachTransmission atomically moves every report of the transmission
	// into the package and closes the transmission.
	AttachTransmission(ctx context.Context, transmissionID, packageID string, at time.Time) error
	// MarkPackageTransmitted stamps the package and all its reports.
	MarkPackageTransmitted(ctx context.Context, packageID string, at time.Time) error
	// MarkPackageApproved stamps the package and sets each contained
	// report's DDFIP from its commune's department, in one transaction.
	MarkPackageApproved(ctx context.Context, packageID string, at time.Time, ddfipByDepartment map[string]string) error
	// MarkPackageReturned stamps the package and pushes every contained
	// report to returned.
	MarkPackageReturned(ctx context.Context, packageID string, at time.Time) error
}
