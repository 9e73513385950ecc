package reporting

import "time"

// Priority of a report.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether the priority is a known value.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Form types accepted by the administration. An office may only resolve
// reports whose form type is in its competence set.
const (
	FormEvaluationLocalHabitation    = "evaluation_local_habitation"
	FormEvaluationLocalProfessionnel = "evaluation_local_professionnel"
	FormCreationLocalHabitation      = "creation_local_habitation"
	FormCreationLocalProfessionnel   = "creation_local_professionnel"
	FormOccupationLocalHabitation    = "occupation_local_habitation"
	FormOccupationLocalProfessionnel = "occupation_local_professionnel"
)

// FormTypes lists every accepted form type.
var FormTypes = []string{
	FormEvaluationLocalHabitation,
	FormEvaluationLocalProfessionnel,
	FormCreationLocalHabitation,
	FormCreationLocalProfessionnel,
	FormOccupationLocalHabitation,
	FormOccupationLocalProfessionnel,
}

// AnomaliesByForm fixes the anomaly vocabulary per form type.
var AnomaliesByForm = map[string][]string{
	FormEvaluationLocalHabitation:    {"consistance", "affectation", "exoneration", "adresse", "correctif", "categorie"},
	FormEvaluationLocalProfessionnel: {"consistance", "affectation", "exoneration", "adresse", "correctif", "categorie"},
	FormCreationLocalHabitation:      {"omission_batie", "construction_neuve"},
	FormCreationLocalProfessionnel:   {"omission_batie", "construction_neuve"},
	FormOccupationLocalHabitation:    {"occupation"},
	FormOccupationLocalProfessionnel: {"occupation"},
}

// ResolutionKind distinguishes the two resolution outcomes.
type ResolutionKind string

const (
	ResolutionApplicable   ResolutionKind = "applicable"
	ResolutionInapplicable ResolutionKind = "inapplicable"
)

// Fixed motif vocabularies, one per resolution outcome.
var (
	ApplicableMotifs   = []string{"maj_local", "maj_exoneration", "maj_occupation"}
	InapplicableMotifs = []string{"absence_incoherence", "doublon", "maj_deja_integree"}
)

// MotifAllowed reports whether the motif belongs to the vocabulary of the
// given resolution kind.
func MotifAllowed(kind ResolutionKind, motif string) bool {
	var list []string
	switch kind {
	case ResolutionApplicable:
		list = ApplicableMotifs
	case ResolutionInapplicable:
		list = InapplicableMotifs
	default:
		return false
	}
	for _, m := range list {
		if m == motif {
			return true
		}
	}
	return false
}

// Report is the atomic unit of work: one fiscal anomaly signalement.
// Its lifecycle state is derived from the timestamps, never stored.
type Report struct {
	ID             string
	CollectivityID string
	PublisherID    string // set when submitted via API on behalf of the collectivity

	FormType    string
	Priority    Priority
	CommuneCode string
	Anomalies   []string
	// Fields holds the situation_* and proposition_* values whose required
	// subset depends on the form type and anomalies.
	Fields       map[string]string
	Observations string

	TransmissionID string
	PackageID      string
	DDFIPID        string
	OfficeID       string

	ReadyAt        *time.Time
	TransmittedAt  *time.Time
	AcknowledgedAt *time.Time
	AcceptedAt     *time.Time
	RejectedAt     *time.Time
	AssignedAt     *time.Time
	ResolvedAt     *time.Time
	ApprovedAt     *time.Time
	ReturnedAt     *time.Time
	CanceledAt     *time.Time

	ResolutionKind    ResolutionKind
	ResolutionMotif   string
	ResolutionComment string
	RejectionReason   string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	DiscardedAt *time.Time
	Version     int64
}

// Kept reports whether the report has not been soft deleted.
func (r *Report) Kept() bool { return r.DiscardedAt == nil }

// Clone returns a deep copy of the report.
func (r *Report) Clone() *Report {
	cp := *r
	cp.Anomalies = append([]string(nil), r.Anomalies...)
	if r.Fields != nil {
		cp.Fields = make(map[string]string, len(r.Fields))
		for k, v := range r.Fields {
			cp.Fields[k] = v
		}
	}
	cp.ReadyAt = cloneTime(r.ReadyAt)
	cp.TransmittedAt = cloneTime(r.TransmittedAt)
	cp.AcknowledgedAt = cloneTime(r.AcknowledgedAt)
	cp.AcceptedAt = cloneTime(r.AcceptedAt)
	cp.RejectedAt = cloneTime(r.RejectedAt)
	cp.AssignedAt = cloneTime(r.AssignedAt)
	cp.ResolvedAt = cloneTime(r.ResolvedAt)
	cp.ApprovedAt = cloneTime(r.ApprovedAt)
	cp.ReturnedAt = cloneTime(r.ReturnedAt)
	cp.CanceledAt = cloneTime(r.CanceledAt)
	cp.DiscardedAt = cloneTime(r.DiscardedAt)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

// Transmission is an in-progress, not-yet-sent batch of reports owned by one
// collectivity. At most one transmission is open per collectivity.
type Transmission struct {
	ID             string
	CollectivityID string
	ClosedAt       *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Open reports whether reports can still join this transmission.
func (t *Transmission) Open() bool { return t.ClosedAt == nil }

// Package is a reference-numbered batch of reports sent together.
type Package struct {
	ID             string
	Reference      string // YYYY-MM-NNNN, sequential per calendar month
	CollectivityID string
	PublisherID    string

	TransmittedAt *time.Time
	ApprovedAt    *time.Time
	ReturnedAt    *time.Time

	CreatedAt   time.Time
	UpdatedAt   time.Time
	DiscardedAt *time.Time
	Version     int64
}

// Kept reports whether the package has not been soft deleted.
func (p *Package) Kept() bool { return p.DiscardedAt == nil }

// Clone returns a deep copy of the package.
func (p *Package) Clone() *Package {
	cp := *p
	cp.TransmittedAt = cloneTime(p.TransmittedAt)
	cp.ApprovedAt = cloneTime(p.ApprovedAt)
	cp.ReturnedAt = cloneTime(p.ReturnedAt)
	cp.DiscardedAt = cloneTime(p.DiscardedAt)
	return &cp
}

// BulkResult reports the outcome of a bulk transition over a selection.
// Eligible reports transition independently; ineligible ones are skipped.
type BulkResult struct {
	Applied int
	Ignored int
	Reasons map[string]string // report id -> why it was skipped
}
