package organizations

import (
	"context"
	"sync"
	"time"

	"signalo.org/internal/ids"
)

// InMemory implements Store with in-process concurrency safety.
// Used by tests and the smoke binary.
type InMemory struct {
	mu      sync.RWMutex
	orgs    map[string]*Organization
	offices map[string]*Office
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty in-memory store.
func NewInMemory() *InMemory {
	return &InMemory{
		orgs:    make(map[string]*Organization),
		offices: make(map[string]*Office),
	}
}

func (s *InMemory) CreateOrganization(ctx context.Context, org *Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if org.ID == "" {
		org.ID = ids.New()
	}
	now := time.Now().UTC()
	org.CreatedAt, org.UpdatedAt = now, now
	cp := *org
	s.orgs[org.ID] = &cp
	return nil
}

func (s *InMemory) FindOrganization(ctx context.Context, id string) (*Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	org, ok := s.orgs[id]
	if !ok || !org.Kept() {
		return nil, ErrNotFound
	}
	cp := *org
	return &cp, nil
}

func (s *InMemory) ListOrganizations(ctx context.Context, kind Kind) ([]*Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []*Organization
	for _, org := range s.orgs {
		if org.Kind == kind && org.Kept() {
			cp := *org
			res = append(res, &cp)
		}
	}
	return res, nil
}

func (s *InMemory) DDFIPsForDepartments(ctx context.Context, departments []string) ([]*Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wanted := make(map[string]struct{}, len(departments))
	for _, d := range departments {
		wanted[d] = struct{}{}
	}
	var res []*Organization
	for _, org := range s.orgs {
		if org.Kind != KindDDFIP || !org.Kept() {
			continue
		}
		if _, ok := wanted[org.DepartmentCode]; ok {
			cp := *org
			res = append(res, &cp)
		}
	}
	return res, nil
}

func (s *InMemory) CreateOffice(ctx context.Context, office *Office) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if office.ID == "" {
		office.ID = ids.New()
	}
	now := time.Now().UTC()
	office.CreatedAt, office.UpdatedAt = now, now
	cp := *office
	cp.Competences = append([]string(nil), office.Competences...)
	cp.CommuneCodes = append([]string(nil), office.CommuneCodes...)
	s.offices[office.ID] = &cp
	return nil
}

func (s *InMemory) FindOffice(ctx context.Context, id string) (*Office, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	office, ok := s.offices[id]
	if !ok || !office.Kept() {
		return nil, ErrNotFound
	}
	cp := *office
	cp.Competences = append([]string(nil), office.Competences...)
	cp.CommuneCodes = append([]string(nil), office.CommuneCodes...)
	return &cp, nil
}

func (s *InMemory) ListOffices(ctx context.Context, ddfipID string) ([]*Office, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []*Office
	for _, office := range s.offices {
		if office.DDFIPID != ddfipID || !office.Kept() {
			continue
		}
		cp := *office
		cp.Competences = append([]string(nil), office.Competences...)
		cp.CommuneCodes = append([]string(nil), office.CommuneCodes...)
		res = append(res, &cp)
	}
	return res, nil
}

func (s *InMemory) ReplaceOfficeCommunes(ctx context.Context, officeID string, removed, added []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	office, ok := s.offices[officeID]
	if !ok {
		return ErrNotFound
	}
	drop := make(map[string]struct{}, len(removed))
	for _, c := range removed {
		drop[c] = struct{}{}
	}
	var next []string
	for _, c := range office.CommuneCodes {
		if _, ok := drop[c]; !ok {
			next = append(next, c)
		}
	}
	next = append(next, added...)
	office.CommuneCodes = next
	office.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemory) SetOfficeCompetences(ctx context.Context, officeID string, competences []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	office, ok := s.offices[officeID]
	if !ok {
		return ErrNotFound
	}
	office.Competences = append([]string(nil), competences...)
	office.UpdatedAt = time.Now().UTC()
	return nil
}
