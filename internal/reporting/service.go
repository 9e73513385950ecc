package reporting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"signalo.org/internal/auth"
	"signalo.org/internal/obs"
	"signalo.org/internal/organizations"
)

// Event describes a committed workflow transition. Consumed by the audit
// recorder and the notification stream.
type Event struct {
	Kind           string
	ReportID       string
	PackageID      string
	CollectivityID string
	DDFIPID        string
	ActorID        string
	At             time.Time
}

// Notifier receives events after each committed transition.
type Notifier interface {
	Publish(evt Event)
}

type noopNotifier struct{}

func (noopNotifier) Publish(Event) {}

type multiNotifier []Notifier

func (m multiNotifier) Publish(evt Event) {
	for _, n := range m {
		n.Publish(evt)
	}
}

// CombineNotifiers fans each event out to every notifier in order. Used to
// feed the audit recorder synchronously while the lossy stream serves the
// SSE subscribers and background workers.
func CombineNotifiers(notifiers ...Notifier) Notifier {
	kept := make(multiNotifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			kept = append(kept, n)
		}
	}
	return kept
}

// Service drives the report and package state machines. Every transition is
// atomic: the store either commits all timestamp changes for a step or none.
type Service struct {
	store    Store
	orgs     *organizations.Service
	notifier Notifier
	now      func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithNotifier wires the event sink invoked after committed transitions.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the workflow service.
func NewService(store Store, orgs *organizations.Service, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidInput)
	}
	if orgs == nil {
		return nil, fmt.Errorf("%w: organizations service is required", ErrInvalidInput)
	}
	svc := &Service{store: store, orgs: orgs, notifier: noopNotifier{}, now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

func (s *Service) emit(ctx context.Context, kind string, r *Report, p *Package) {
	evt := Event{Kind: kind, At: s.now().UTC()}
	if r != nil {
		evt.ReportID = r.ID
		evt.CollectivityID = r.CollectivityID
		evt.DDFIPID = r.DDFIPID
	}
	if p != nil {
		evt.PackageID = p.ID
		evt.CollectivityID = p.CollectivityID
	}
	if actor, ok := auth.UserIDFromContext(ctx); ok {
		evt.ActorID = actor
	}
	s.notifier.Publish(evt)
	obs.ObserveTransition(kind)
}

// CreateReport validates vocabulary and persists a new draft report.
func (s *Service) CreateReport(ctx context.Context, r *Report) error {
	if r == nil {
		return fmt.Errorf("%w: report is required", ErrInvalidInput)
	}
	if strings.TrimSpace(r.CollectivityID) == "" {
		return fmt.Errorf("%w: collectivity is required", ErrInvalidInput)
	}
	allowed, ok := AnomaliesByForm[r.FormType]
	if !ok {
		return fmt.Errorf("%w: unsupported form type %q", ErrInvalidInput, r.FormType)
	}
	if r.Priority == "" {
		r.Priority = PriorityLow
	}
	if !r.Priority.Valid() {
		return fmt.Errorf("%w: unsupported priority %q", ErrInvalidInput, r.Priority)
	}
	if strings.TrimSpace(r.CommuneCode) == "" {
		return fmt.Errorf("%w: commune code is required", ErrInvalidInput)
	}
	if len(r.Anomalies) == 0 {
		return fmt.Errorf("%w: at least one anomaly is required", ErrInvalidInput)
	}
	for _, anomaly := range r.Anomalies {
		if !containsString(allowed, anomaly) {
			return fmt.Errorf("%w: anomaly %q not allowed on %s", ErrInvalidInput, anomaly, r.FormType)
		}
	}
	if err := s.store.CreateReport(ctx, r); err != nil {
		return err
	}
	s.emit(ctx, "report.created", r, nil)
	return nil
}

// FindReport loads a single report.
func (s *Service) FindReport(ctx context.Context, id string) (*Report, error) {
	return s.store.FindReport(ctx, id)
}

// ListReports lists reports within the given (policy-produced) filter.
func (s *Service) ListReports(ctx context.Context, f ReportFilter) ([]*Report, error) {
	return s.store.ListReports(ctx, f)
}

// SetFields merges field values into a draft or ready report. If a ready
// report becomes incomplete it drops back to draft.
func (s *Service) SetFields(ctx context.Context, reportID string, fields map[string]string) (*Report, error) {
	r, err := s.store.FindReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	switch r.State() {
	case StateDraft, StateReady:
	default:
		return nil, transitionError(r, "edit")
	}
	if r.Fields == nil {
		r.Fields = make(map[string]string, len(fields))
	}
	for k, v := range fields {
		if strings.TrimSpace(v) == "" {
			delete(r.Fields, k)
			continue
		}
		r.Fields[k] = v
	}
	if r.ReadyAt != nil && len(MissingFields(r)) > 0 {
		r.ReadyAt = nil
	}
	if err := s.store.UpdateReport(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// MarkReady promotes a complete draft to ready. Incomplete reports are left
// untouched and the missing fields are reported to the caller.
func (s *Service) MarkReady(ctx context.Context, reportID string) (*Report, error) {
	r, err := s.store.FindReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	switch r.State() {
	case StateReady:
		return r, nil
	case StateDraft:
	default:
		return nil, transitionError(r, string(StateReady))
	}
	if missing := MissingFields(r); len(missing) > 0 {
		return nil, &IncompleteError{ReportID: r.ID, Missing: missing}
	}
	now := s.now().UTC()
	r.ReadyAt = &now
	if err := s.store.UpdateReport(ctx, r); err != nil {
		return nil, err
	}
	s.emit(ctx, "report.ready", r, nil)
	return r, nil
}

// AddToTransmission places a ready report into the collectivity's open
// transmission, creating one when necessary.
func (s *Service) AddToTransmission(ctx context.Context, reportID string) (*Report, error) {
	r, err := s.store.FindReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if r.State() != StateReady {
		return nil, transitionError(r, string(StateInActiveTransmission))
	}
	t, err := s.store.OpenTransmission(ctx, r.CollectivityID)
	if err != nil {
		return nil, err
	}
	r.TransmissionID = t.ID
	if err := s.store.UpdateReport(ctx, r); err != nil {
		return nil, err
	}
	s.emit(ctx, "report.queued", r, nil)
	return r, nil
}

// CancelReport lets the collectivity withdraw a report it still controls.
// Once transmitted, only the DDFIP's reject/return paths apply.
func (s *Service) CancelReport(ctx context.Context, reportID string) (*Report, error) {
	r, err := s.store.FindReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	switch r.State() {
	case StateDraft, StateReady, StateInActiveTransmission:
	default:
		return nil, transitionError(r, string(StateCanceled))
	}
	now := s.now().UTC()
	r.CanceledAt = &now
	r.TransmissionID = ""
	if err := s.store.UpdateReport(ctx, r); err != nil {
		return nil, err
	}
	s.emit(ctx, "report.canceled", r, nil)
	return r, nil
}

// AcknowledgeReport records that the DDFIP has seen a transmitted report.
func (s *Service) AcknowledgeReport(ctx context.Context, reportID string) (*Report, error) {
	r, err := s.store.FindReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if r.State() != StateTransmitted {
		return nil, transitionError(r, string(StateAcknowledged))
	}
	now := s.now().UTC()
	r.AcknowledgedAt = &now
	if err := s.store.UpdateReport(ctx, r); err != nil {
		return nil, err
	}
	s.emit(ctx, "report.acknowledged", r, nil)
	return r, nil
}

// AcceptReport takes charge of a transmitted report. Acknowledgement is
// implied when the DDFIP accepts directly.
func (s *Service) AcceptReport(ctx context.Context, reportID string) (*Report, error) {
	r, err := s.store.FindReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	return s.acceptLoaded(ctx, r)
}

func (s *Service) acceptLoaded(ctx context.Context, r *Report) (*Report, error) {
	switch r.State() {
	case StateTransmitted, StateAcknowledged:
	default:
		return nil, transitionError(r, string(StateAccepted))
	}
	now := s.now().UTC()
	if r.AcknowledgedAt == nil {
		r.AcknowledgedAt = &now
	}
	r.AcceptedAt = &now
	if err := s.store.UpdateReport(ctx, r); err != nil {
		return nil, err
	}
	s.emit(ctx, "report.accepted", r, nil)
	return r, nil
}

// RejectReport declines a report; the reason is mandatory free text.
func (s *Service) RejectReport(ctx context.Context, reportID, reason string) (*Report, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: rejection reason is required", ErrInvalidInput)
	}
	r, err := s.store.FindReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	switch r.State() {
	case StateTransmitted, StateAcknowledged, StateAccepted:
	default:
		return nil, transitionError(r, string(StateRejected))
	}
	now := s.now().UTC()
	r.RejectedAt = &now
	r.RejectionReason = reason
	if err := s.store.UpdateReport(ctx, r); err != nil {
		return nil, err
	}
	s.emit(ctx, "report.rejected", r, nil)
	return r, nil
}

// AssignReport routes an accepted report to an office. The office must
// belong to the report's DDFIP and cover both the commune and the form
// type; anything else is a data error, not a user error.
func (s *Service) AssignReport(ctx context.Context, reportID, officeID string) (*Report, error) {
	r, err := s.store.FindReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if r.State() != StateAccepted {
		return nil, transitionError(r, string(StateAssigned))
	}
	office, err := s.orgs.FindOffice(ctx, officeID)
	if err != nil {
		return nil, err
	}
	if r.DDFIPID != "" && office.DDFIPID != r.DDFIPID {
		return nil, fmt.Errorf("%w: office %s belongs to another ddfip", ErrInvariant, office.ID)
	}
	if !office.Covers(r.CommuneCode, r.FormType) {
		return nil, fmt.Errorf("%w: office %s does not cover commune %s for %s",
			ErrInvariant, office.ID, r.CommuneCode, r.FormType)
	}
	now := s.now().UTC()
	r.AssignedAt = &now
	r.OfficeID = office.ID
	if r.DDFIPID == "" {
		r.DDFIPID = office.DDFIPID
	}
	if err := s.store.UpdateReport(ctx, r); err != nil {
		return nil, err
	}
	s.emit(ctx, "report.assigned", r, nil)
	return r, nil
}

// UnassignReport undoes an assignment before resolution, returning the
// report to accepted with the office reference cleared.
func (s *Service) UnassignReport(ctx context.Context, reportID string) (*Report, error) {
	r, err := s.store.FindReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if r.State() != StateAssigned {
		return nil, transitionError(r, string(StateAccepted))
	}
	r.AssignedAt = nil
	r.OfficeID = ""
	if err := s.store.UpdateReport(ctx, r); err != nil {
		return nil, err
	}
	s.emit(ctx, "report.unassigned", r, nil)
	return r, nil
}

// ResolveReport records the office's resolution with a motif from the fixed
// vocabulary of the chosen outcome.
func (s *Service) ResolveReport(ctx context.Context, reportID string, kind ResolutionKind, motif, comment string) (*Report, error) {
	if !MotifAllowed(kind, motif) {
		return nil, fmt.Errorf("%w: motif %q not allowed for %s resolution", ErrInvalidInput, motif, kind)
	}
	r, err := s.store.FindReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if r.State() != StateAssigned {
		return nil, transitionError(r, string(kind))
	}
	now := s.now().UTC()
	r.ResolvedAt = &now
	r.ResolutionKind = kind
	r.ResolutionMotif = motif
	r.ResolutionComment = strings.TrimSpace(comment)
	if err := s.store.UpdateReport(ctx, r); err != nil {
		return nil, err
	}
	s.emit(ctx, "report.resolved", r, nil)
	return r, nil
}

// ConfirmReport transmits the resolution back to the collectivity.
// Confirming an already approved report is a no-op.
func (s *Service) ConfirmReport(ctx context.Context, reportID string) (*Report, error) {
	r, err := s.store.FindReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	switch r.State() {
	case StateApproved:
		return r, nil
	case StateApplicable, StateInapplicable:
	default:
		return nil, transitionError(r, string(StateApproved))
	}
	now := s.now().UTC()
	r.ApprovedAt = &now
	if err := s.store.UpdateReport(ctx, r); err != nil {
		return nil, err
	}
	s.emit(ctx, "report.approved", r, nil)
	return r, nil
}

// UndoConfirmReport reopens an approved report to assigned so the office can
// resolve it again.
func (s *Service) UndoConfirmReport(ctx context.Context, reportID string) (*Report, error) {
	r, err := s.store.FindReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if r.State() != StateApproved {
		return nil, transitionError(r, string(StateAssigned))
	}
	r.ApprovedAt = nil
	r.ResolvedAt = nil
	r.ResolutionKind = ""
	r.ResolutionMotif = ""
	r.ResolutionComment = ""
	if err := s.store.UpdateReport(ctx, r); err != nil {
		return nil, err
	}
	s.emit(ctx, "report.reopened", r, nil)
	return r, nil
}

// DiscardReport soft-deletes a report; the sweeper hard-deletes it after the
// grace period.
func (s *Service) DiscardReport(ctx context.Context, reportID string) (*Report, error) {
	r, err := s.store.FindReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if r.DiscardedAt != nil {
		return r, nil
	}
	now := s.now().UTC()
	r.DiscardedAt = &now
	if err := s.store.UpdateReport(ctx, r); err != nil {
		return nil, err
	}
	s.emit(ctx, "report.discarded", r, nil)
	return r, nil
}

// UndiscardReport restores a soft-deleted report.
func (s *Service) UndiscardReport(ctx context.Context, reportID string) (*Report, error) {
	r, err := s.store.FindReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if r.DiscardedAt == nil {
		return r, nil
	}
	r.DiscardedAt = nil
	if err := s.store.UpdateReport(ctx, r); err != nil {
		return nil, err
	}
	s.emit(ctx, "report.undiscarded", r, nil)
	return r, nil
}

// PurgeDiscardedReports hard-deletes reports discarded before the cutoff.
func (s *Service) PurgeDiscardedReports(ctx context.Context, before time.Time) (int64, error) {
	return s.store.PurgeDiscardedReports(ctx, before)
}

// --- bulk operations -------------------------------------------------------

// AcceptReports applies AcceptReport to each selected report independently.
// Ineligible reports are skipped with a reason, never failing the batch.
func (s *Service) AcceptReports(ctx context.Context, reportIDs []string) (BulkResult, error) {
	return s.bulk(ctx, reportIDs, func(ctx context.Context, id string) error {
		_, err := s.AcceptReport(ctx, id)
		return err
	})
}

// RejectReports applies RejectReport with a shared reason to each selection.
func (s *Service) RejectReports(ctx context.Context, reportIDs []string, reason string) (BulkResult, error) {
	if strings.TrimSpace(reason) == "" {
		return BulkResult{}, fmt.Errorf("%w: rejection reason is required", ErrInvalidInput)
	}
	return s.bulk(ctx, reportIDs, func(ctx context.Context, id string) error {
		_, err := s.RejectReport(ctx, id, reason)
		return err
	})
}

// AssignReports routes each selected report to the same office.
func (s *Service) AssignReports(ctx context.Context, reportIDs []string, officeID string) (BulkResult, error) {
	return s.bulk(ctx, reportIDs, func(ctx context.Context, id string) error {
		_, err := s.AssignReport(ctx, id, officeID)
		return err
	})
}

func (s *Service) bulk(ctx context.Context, ids []string, op func(context.Context, string) error) (BulkResult, error) {
	res := BulkResult{Reasons: make(map[string]string)}
	for _, id := range ids {
		if err := op(ctx, id); err != nil {
			res.Ignored++
			res.Reasons[id] = err.Error()
			continue
		}
		res.Applied++
	}
	return res, nil
}
