package reporting

import (
	"context"
	"fmt"
	"sort"

	"signalo.org/internal/obs"
	"signalo.org/internal/organizations"
)

// CreatePackageFromTransmission closes the collectivity's open transmission
// into a new reference-numbered package containing its reports.
func (s *Service) CreatePackageFromTransmission(ctx context.Context, transmissionID string) (*Package, error) {
	t, err := s.store.FindTransmission(ctx, transmissionID)
	if err != nil {
		return nil, err
	}
	if !t.Open() {
		return nil, fmt.Errorf("%w: transmission %s is closed", ErrInvalidTransition, t.ID)
	}
	reports, err := s.store.ListReports(ctx, ReportFilter{TransmissionID: t.ID})
	if err != nil {
		return nil, err
	}
	if len(reports) == 0 {
		return nil, fmt.Errorf("%w: transmission %s holds no reports", ErrInvalidInput, t.ID)
	}
	p := &Package{
		CollectivityID: t.CollectivityID,
		PublisherID:    reports[0].PublisherID,
	}
	if err := s.store.CreatePackage(ctx, p); err != nil {
		return nil, err
	}
	if err := s.store.AttachTransmission(ctx, t.ID, p.ID, s.now().UTC()); err != nil {
		return nil, err
	}
	s.emit(ctx, "package.created", nil, p)
	return p, nil
}

// FindPackage loads one package.
func (s *Service) FindPackage(ctx context.Context, id string) (*Package, error) {
	return s.store.FindPackage(ctx, id)
}

// ListPackages lists packages within the given (policy-produced) filter.
func (s *Service) ListPackages(ctx context.Context, f PackageFilter) ([]*Package, error) {
	return s.store.ListPackages(ctx, f)
}

// TransmitPackage sends the package to the administration, stamping the
// package and every contained report in one step. When every DDFIP covering
// the package's communes opted into automatic approval, the package is
// approved in the same call.
func (s *Service) TransmitPackage(ctx context.Context, packageID string) (*Package, error) {
	p, err := s.store.FindPackage(ctx, packageID)
	if err != nil {
		return nil, err
	}
	if p.State() != PackageOpen {
		return nil, packageTransitionError(p, string(PackageTransmitted))
	}
	if err := s.store.MarkPackageTransmitted(ctx, p.ID, s.now().UTC()); err != nil {
		return nil, err
	}
	p, err = s.store.FindPackage(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, "package.transmitted", nil, p)
	obs.ObservePackageTransmitted()

	ddfips, err := s.coveringDDFIPs(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if autoApprove(ddfips) {
		return s.ApprovePackage(ctx, p.ID)
	}
	return p, nil
}

// ApprovePackage accepts a transmitted package on behalf of the DDFIPs,
// stamping each report with its owning DDFIP and cascading automatic
// assignment where the DDFIP opted in.
func (s *Service) ApprovePackage(ctx context.Context, packageID string) (*Package, error) {
	p, err := s.store.FindPackage(ctx, packageID)
	if err != nil {
		return nil, err
	}
	if p.State() != PackageTransmitted {
		return nil, packageTransitionError(p, string(PackageApproved))
	}
	ddfips, err := s.coveringDDFIPs(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	byDepartment := make(map[string]string, len(ddfips))
	for _, d := range ddfips {
		byDepartment[d.DepartmentCode] = d.ID
	}
	if err := s.store.MarkPackageApproved(ctx, p.ID, s.now().UTC(), byDepartment); err != nil {
		return nil, err
	}
	p, err = s.store.FindPackage(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, "package.approved", nil, p)

	if _, err := s.AutoAssignPackage(ctx, p.ID); err != nil {
		return nil, err
	}
	return p, nil
}

// ReturnPackage sends the whole package back to the collectivity. Every
// contained report not already in a terminal state becomes returned.
func (s *Service) ReturnPackage(ctx context.Context, packageID string) (*Package, error) {
	p, err := s.store.FindPackage(ctx, packageID)
	if err != nil {
		return nil, err
	}
	if p.State() != PackageTransmitted {
		return nil, packageTransitionError(p, string(PackageReturned))
	}
	if err := s.store.MarkPackageReturned(ctx, p.ID, s.now().UTC()); err != nil {
		return nil, err
	}
	p, err = s.store.FindPackage(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, "package.returned", nil, p)
	return p, nil
}

// AutoAssignPackage accepts and assigns the package's reports for every
// DDFIP that opted into automatic assignment. A report with no covering
// office stays accepted; mixed outcomes never fail the batch.
func (s *Service) AutoAssignPackage(ctx context.Context, packageID string) (BulkResult, error) {
	res := BulkResult{Reasons: make(map[string]string)}
	reports, err := s.store.ListReports(ctx, ReportFilter{PackageID: packageID})
	if err != nil {
		return res, err
	}
	ddfips := make(map[string]*organizations.Organization)
	for _, r := range reports {
		switch r.State() {
		case StateTransmitted, StateAcknowledged, StateAccepted:
		default:
			continue
		}
		if r.DDFIPID == "" {
			res.Ignored++
			res.Reasons[r.ID] = "no covering ddfip"
			continue
		}
		d, ok := ddfips[r.DDFIPID]
		if !ok {
			d, err = s.orgs.FindOrganization(ctx, r.DDFIPID)
			if err != nil {
				return res, err
			}
			ddfips[r.DDFIPID] = d
		}
		if !d.AutoAssignReports {
			continue
		}
		if r.AcceptedAt == nil {
			accepted, err := s.acceptLoaded(ctx, r)
			if err != nil {
				res.Ignored++
				res.Reasons[r.ID] = err.Error()
				continue
			}
			r = accepted
		}
		offices, err := s.orgs.MatchingOffices(ctx, r.DDFIPID, r.CommuneCode, r.FormType)
		if err != nil {
			return res, err
		}
		if len(offices) == 0 {
			res.Ignored++
			res.Reasons[r.ID] = "no covering office"
			continue
		}
		sort.Slice(offices, func(i, j int) bool { return offices[i].Name < offices[j].Name })
		if _, err := s.AssignReport(ctx, r.ID, offices[0].ID); err != nil {
			res.Ignored++
			res.Reasons[r.ID] = err.Error()
			continue
		}
		res.Applied++
	}
	return res, nil
}

// coveringDDFIPs resolves the DDFIPs whose departments cover any commune of
// the package's reports.
func (s *Service) coveringDDFIPs(ctx context.Context, packageID string) ([]*organizations.Organization, error) {
	reports, err := s.store.ListReports(ctx, ReportFilter{PackageID: packageID})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var departments []string
	for _, r := range reports {
		d := organizations.DepartmentOfCommune(r.CommuneCode)
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		departments = append(departments, d)
	}
	return s.orgs.DDFIPsForDepartments(ctx, departments)
}

// autoApprove reports whether every covering DDFIP opted into automatic
// package approval. No covering DDFIP means no approval.
func autoApprove(ddfips []*organizations.Organization) bool {
	if len(ddfips) == 0 {
		return false
	}
	for _, d := range ddfips {
		if !d.AutoApprovePkgs {
			return false
		}
	}
	return true
}
