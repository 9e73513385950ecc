package reporting

import (
	"context"
	"sync"
	"time"

	"signalo.org/internal/ids"
	"signalo.org/internal/organizations"
)

// InMemory implements Store with in-process concurrency safety.
// Used by tests and the smoke binary; production runs on the Postgres store.
type InMemory struct {
	mu            sync.Mutex
	reports       map[string]*Report
	transmissions map[string]*Transmission
	packages      map[string]*Package
	refSeq        map[string]int // YYYY-MM -> last sequence
	now           func() time.Time
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty in-memory store.
func NewInMemory() *InMemory {
	return &InMemory{
		reports:       make(map[string]*Report),
		transmissions: make(map[string]*Transmission),
		packages:      make(map[string]*Package),
		refSeq:        make(map[string]int),
		now:           time.Now,
	}
}

// SetClock overrides the store's time source. Test helper.
func (s *InMemory) SetClock(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn != nil {
		s.now = fn
	}
}

func (s *InMemory) CreateReport(ctx context.Context, r *Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = ids.New()
	}
	now := s.now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now
	r.Version = 1
	s.reports[r.ID] = r.Clone()
	return nil
}

func (s *InMemory) FindReport(ctx context.Context, id string) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (s *InMemory) ListReports(ctx context.Context, f ReportFilter) ([]*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.None {
		return nil, nil
	}
	var res []*Report
	for _, r := range s.reports {
		if matchReport(r, f) {
			res = append(res, r.Clone())
		}
	}
	return res, nil
}

func matchReport(r *Report, f ReportFilter) bool {
	if !f.IncludeDiscarded && !r.Kept() {
		return false
	}
	if len(f.IDs) > 0 && !containsString(f.IDs, r.ID) {
		return false
	}
	if len(f.CollectivityIDs) > 0 && !containsString(f.CollectivityIDs, r.CollectivityID) {
		return false
	}
	if f.PublisherID != "" && r.PublisherID != f.PublisherID {
		return false
	}
	if f.DDFIPID != "" && r.DDFIPID != f.DDFIPID {
		return false
	}
	if len(f.OfficeIDs) > 0 && !containsString(f.OfficeIDs, r.OfficeID) {
		return false
	}
	if f.PackageID != "" && r.PackageID != f.PackageID {
		return false
	}
	if f.TransmissionID != "" && r.TransmissionID != f.TransmissionID {
		return false
	}
	return true
}

func (s *InMemory) UpdateReport(ctx context.Context, r *Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateReportLocked(r)
}

func (s *InMemory) updateReportLocked(r *Report) error {
	current, ok := s.reports[r.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != r.Version {
		return ErrConflict
	}
	cp := r.Clone()
	cp.Version++
	cp.UpdatedAt = s.now().UTC()
	s.reports[r.ID] = cp
	r.Version = cp.Version
	r.UpdatedAt = cp.UpdatedAt
	return nil
}

func (s *InMemory) PurgeDiscardedReports(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, r := range s.reports {
		if r.DiscardedAt != nil && r.DiscardedAt.Before(before) {
			delete(s.reports, id)
			n++
		}
	}
	return n, nil
}

func (s *InMemory) OpenTransmission(ctx context.Context, collectivityID string) (*Transmission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.transmissions {
		if t.CollectivityID == collectivityID && t.Open() {
			cp := *t
			return &cp, nil
		}
	}
	now := s.now().UTC()
	t := &Transmission{
		ID:             ids.New(),
		CollectivityID: collectivityID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.transmissions[t.ID] = t
	cp := *t
	return &cp, nil
}

func (s *InMemory) FindTransmission(ctx context.Context, id string) (*Transmission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transmissions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *InMemory) CreatePackage(ctx context.Context, p *Package) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = ids.New()
	}
	now := s.now().UTC()
	prefix := ReferencePrefix(now)
	s.refSeq[prefix]++
	p.Reference = FormatReference(prefix, s.refSeq[prefix])
	p.CreatedAt, p.UpdatedAt = now, now
	p.Version = 1
	s.packages[p.ID] = p.Clone()
	return nil
}

func (s *InMemory) FindPackage(ctx context.Context, id string) (*Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.packages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (s *InMemory) ListPackages(ctx context.Context, f PackageFilter) ([]*Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.None {
		return nil, nil
	}
	var res []*Package
	for _, p := range s.packages {
		if !p.Kept() {
			continue
		}
		if len(f.CollectivityIDs) > 0 && !containsString(f.CollectivityIDs, p.CollectivityID) {
			continue
		}
		if f.PublisherID != "" && p.PublisherID != f.PublisherID {
			continue
		}
		if f.TransmittedOnly && p.TransmittedAt == nil {
			continue
		}
		if f.DDFIPDepartment != "" && !s.packageTouchesDepartmentLocked(p.ID, f.DDFIPDepartment) {
			continue
		}
		res = append(res, p.Clone())
	}
	return res, nil
}

func (s *InMemory) packageTouchesDepartmentLocked(packageID, department string) bool {
	for _, r := range s.reports {
		if r.PackageID == packageID && organizations.DepartmentOfCommune(r.CommuneCode) == department {
			return true
		}
	}
	return false
}

func (s *InMemory) UpdatePackage(ctx context.Context, p *Package) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.packages[p.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != p.Version {
		return ErrConflict
	}
	cp := p.Clone()
	cp.Version++
	cp.UpdatedAt = s.now().UTC()
	s.packages[p.ID] = cp
	p.Version = cp.Version
	p.UpdatedAt = cp.UpdatedAt
	return nil
}

func (s *InMemory) AttachTransmission(ctx context.Context, transmissionID, packageID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transmissions[transmissionID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := s.packages[packageID]; !ok {
		return ErrNotFound
	}
	for _, r := range s.reports {
		if r.TransmissionID != transmissionID {
			continue
		}
		r.TransmissionID = ""
		r.PackageID = packageID
		r.UpdatedAt = at
		r.Version++
	}
	closed := at
	t.ClosedAt = &closed
	t.UpdatedAt = at
	return nil
}

func (s *InMemory) MarkPackageTransmitted(ctx context.Context, packageID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.packages[packageID]
	if !ok {
		return ErrNotFound
	}
	stamp := at
	p.TransmittedAt = &stamp
	p.UpdatedAt = at
	p.Version++
	for _, r := range s.reports {
		if r.PackageID != packageID {
			continue
		}
		ts := at
		r.TransmittedAt = &ts
		r.UpdatedAt = at
		r.Version++
	}
	return nil
}

func (s *InMemory) MarkPackageApproved(ctx context.Context, packageID string, at time.Time, ddfipByDepartment map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.packages[packageID]
	if !ok {
		return ErrNotFound
	}
	stamp := at
	p.ApprovedAt = &stamp
	p.UpdatedAt = at
	p.Version++
	for _, r := range s.reports {
		if r.PackageID != packageID {
			continue
		}
		ddfipID, ok := ddfipByDepartment[organizations.DepartmentOfCommune(r.CommuneCode)]
		if !ok || r.DDFIPID == ddfipID {
			continue
		}
		r.DDFIPID = ddfipID
		r.UpdatedAt = at
		r.Version++
	}
	return nil
}

func (s *InMemory) MarkPackageReturned(ctx context.Context, packageID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.packages[packageID]
	if !ok {
		return ErrNotFound
	}
	stamp := at
	p.ReturnedAt = &stamp
	p.UpdatedAt = at
	p.Version++
	for _, r := range s.reports {
		if r.PackageID != packageID || r.State().Terminal() {
			continue
		}
		ts := at
		r.ReturnedAt = &ts
		r.UpdatedAt = at
		r.Version++
	}
	return nil
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
