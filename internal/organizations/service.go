package organizations

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Service provides high level organization and office operations.
type Service struct {
	store Store
}

// NewService constructs a Service over the given store.
func NewService(store Store) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidInput)
	}
	return &Service{store: store}, nil
}

// CreateOrganization validates and persists a new organization.
func (s *Service) CreateOrganization(ctx context.Context, org *Organization) error {
	if org == nil {
		return fmt.Errorf("%w: organization is required", ErrInvalidInput)
	}
	org.Name = strings.TrimSpace(org.Name)
	if org.Name == "" {
		return fmt.Errorf("%w: organization name is required", ErrInvalidInput)
	}
	if !org.Kind.Valid() {
		return fmt.Errorf("%w: unsupported organization kind %q", ErrInvalidInput, org.Kind)
	}
	if org.Kind == KindDDFIP && strings.TrimSpace(org.DepartmentCode) == "" {
		return fmt.Errorf("%w: ddfip requires a department code", ErrInvalidInput)
	}
	if org.Kind != KindDDFIP && (org.AutoAssignReports || org.AutoApprovePkgs) {
		return fmt.Errorf("%w: auto flags are ddfip-only", ErrInvalidInput)
	}
	if org.Kind != KindCollectivity && org.PublisherID != "" {
		return fmt.Errorf("%w: only collectivities belong to a publisher", ErrInvalidInput)
	}
	return s.store.CreateOrganization(ctx, org)
}

// FindOrganization loads one organization by id.
func (s *Service) FindOrganization(ctx context.Context, id string) (*Organization, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: organization id is required", ErrInvalidInput)
	}
	return s.store.FindOrganization(ctx, id)
}

// ListOrganizations lists kept organizations of one kind.
func (s *Service) ListOrganizations(ctx context.Context, kind Kind) ([]*Organization, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unsupported organization kind %q", ErrInvalidInput, kind)
	}
	return s.store.ListOrganizations(ctx, kind)
}

// CreateOffice validates and persists a new DDFIP office.
func (s *Service) CreateOffice(ctx context.Context, office *Office) error {
	if office == nil {
		return fmt.Errorf("%w: office is required", ErrInvalidInput)
	}
	office.Name = strings.TrimSpace(office.Name)
	if office.Name == "" {
		return fmt.Errorf("%w: office name is required", ErrInvalidInput)
	}
	ddfip, err := s.store.FindOrganization(ctx, office.DDFIPID)
	if err != nil {
		return err
	}
	if ddfip.Kind != KindDDFIP {
		return fmt.Errorf("%w: offices belong to ddfips", ErrInvalidInput)
	}
	office.Competences = dedupe(office.Competences)
	office.CommuneCodes = dedupe(office.CommuneCodes)
	return s.store.CreateOffice(ctx, office)
}

// FindOffice loads one office by id.
func (s *Service) FindOffice(ctx context.Context, id string) (*Office, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: office id is required", ErrInvalidInput)
	}
	return s.store.FindOffice(ctx, id)
}

// ListOffices lists the DDFIP's offices.
func (s *Service) ListOffices(ctx context.Context, ddfipID string) ([]*Office, error) {
	return s.store.ListOffices(ctx, ddfipID)
}

// DDFIPsForDepartments returns the DDFIPs covering any of the departments.
func (s *Service) DDFIPsForDepartments(ctx context.Context, departments []string) ([]*Organization, error) {
	if len(departments) == 0 {
		return nil, nil
	}
	return s.store.DDFIPsForDepartments(ctx, departments)
}

// SetOfficeCommunes replaces the office's commune set. The symmetric
// difference against the current set is computed first so the store issues
// exactly one bulk delete and one bulk insert, never per-row updates.
func (s *Service) SetOfficeCommunes(ctx context.Context, officeID string, codes []string) error {
	office, err := s.store.FindOffice(ctx, officeID)
	if err != nil {
		return err
	}
	added, removed := DiffCommuneCodes(office.CommuneCodes, dedupe(codes))
	if len(added) == 0 && len(removed) == 0 {
		return nil
	}
	return s.store.ReplaceOfficeCommunes(ctx, officeID, removed, added)
}

// SetOfficeCompetences replaces the office's competence set.
func (s *Service) SetOfficeCompetences(ctx context.Context, officeID string, competences []string) error {
	if _, err := s.store.FindOffice(ctx, officeID); err != nil {
		return err
	}
	return s.store.SetOfficeCompetences(ctx, officeID, dedupe(competences))
}

// MatchingOffices returns the DDFIP's offices whose jurisdiction covers the
// given commune and form type.
func (s *Service) MatchingOffices(ctx context.Context, ddfipID, communeCode, formType string) ([]*Office, error) {
	offices, err := s.store.ListOffices(ctx, ddfipID)
	if err != nil {
		return nil, err
	}
	var matched []*Office
	for _, office := range offices {
		if office.Kept() && office.Covers(communeCode, formType) {
			matched = append(matched, office)
		}
	}
	return matched, nil
}

// DiffCommuneCodes computes the symmetric difference between the previous and
// next commune-code sets. Returned slices are sorted for deterministic SQL.
func DiffCommuneCodes(previous, next []string) (added, removed []string) {
	prevSet := make(map[string]struct{}, len(previous))
	for _, c := range previous {
		prevSet[c] = struct{}{}
	}
	nextSet := make(map[string]struct{}, len(next))
	for _, c := range next {
		nextSet[c] = struct{}{}
		if _, ok := prevSet[c]; !ok {
			added = append(added, c)
		}
	}
	for _, c := range previous {
		if _, ok := nextSet[c]; !ok {
			removed = append(removed, c)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
