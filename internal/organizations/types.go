package organizations

import (
	"strings"
	"time"
)

// Kind discriminates the four mutually exclusive organization kinds.
type Kind string

const (
	KindCollectivity Kind = "collectivity"
	KindPublisher    Kind = "publisher"
	KindDDFIP        Kind = "ddfip"
	KindDGFIP        Kind = "dgfip"
)

// Valid reports whether the kind is one of the four known values.
func (k Kind) Valid() bool {
	switch k {
	case KindCollectivity, KindPublisher, KindDDFIP, KindDGFIP:
		return true
	}
	return false
}

// Organization is a collectivity, publisher, DDFIP or DGFIP.
// The auto-assign/auto-approve flags are only meaningful for DDFIPs.
type Organization struct {
	ID                string
	Kind              Kind
	Name              string
	ContactEmail      string
	DepartmentCode    string // DDFIP only: the department it covers
	PublisherID       string // collectivity only: optional owning publisher
	AutoAssignReports bool   // DDFIP only
	AutoApprovePkgs   bool   // DDFIP only
	CreatedAt         time.Time
	UpdatedAt         time.Time
	DiscardedAt       *time.Time
}

// Kept reports whether the organization has not been soft deleted.
func (o *Organization) Kept() bool { return o.DiscardedAt == nil }

// Office is a DDFIP subdivision scoped to a set of communes and competences.
type Office struct {
	ID           string
	DDFIPID      string
	Name         string
	Competences  []string // report form types the office may resolve
	CommuneCodes []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DiscardedAt  *time.Time
}

// Kept reports whether the office has not been soft deleted.
func (o *Office) Kept() bool { return o.DiscardedAt == nil }

// Covers reports whether the office may receive a report for the given
// commune and form type. Both conditions must hold.
func (o *Office) Covers(communeCode, formType string) bool {
	if !containsString(o.CommuneCodes, communeCode) {
		return false
	}
	return containsString(o.Competences, formType)
}

// DepartmentOfCommune derives the department code from an INSEE commune code.
// Overseas communes (97x) use a three-character department code.
func DepartmentOfCommune(code string) string {
	code = strings.TrimSpace(code)
	if len(code) < 2 {
		return ""
	}
	if strings.HasPrefix(code, "97") && len(code) >= 3 {
		return code[:3]
	}
	return code[:2]
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
