package reporting

import (
	"fmt"
	"time"
)

// State is the derived lifecycle position of a report. It is a pure
// projection over the report's timestamps; the timestamps remain the source
// of truth for audit and history purposes.
type State string

const (
	StateDraft                State = "draft"
	StateReady                State = "ready"
	StateInActiveTransmission State = "in_active_transmission"
	StateTransmitted          State = "transmitted"
	StateAcknowledged         State = "acknowledged"
	StateAccepted             State = "accepted"
	StateAssigned             State = "assigned"
	StateApplicable           State = "applicable"
	StateInapplicable         State = "inapplicable"
	StateApproved             State = "approved"
	StateRejected             State = "rejected"
	StateCanceled             State = "canceled"
	StateReturned             State = "returned"
)

// Terminal reports whether no further transition can leave this state.
func (s State) Terminal() bool {
	switch s {
	case StateApproved, StateRejected, StateCanceled, StateReturned:
		return true
	}
	return false
}

// State derives the report's lifecycle state from its timestamps.
// Terminal markers take precedence, then the most advanced lifecycle step.
func (r *Report) State() State {
	switch {
	case r.CanceledAt != nil:
		return StateCanceled
	case r.ReturnedAt != nil:
		return StateReturned
	case r.RejectedAt != nil:
		return StateRejected
	case r.ApprovedAt != nil:
		return StateApproved
	case r.ResolvedAt != nil:
		if r.ResolutionKind == ResolutionInapplicable {
			return StateInapplicable
		}
		return StateApplicable
	case r.AssignedAt != nil:
		return StateAssigned
	case r.AcceptedAt != nil:
		return StateAccepted
	case r.AcknowledgedAt != nil:
		return StateAcknowledged
	case r.TransmittedAt != nil:
		return StateTransmitted
	case r.TransmissionID != "":
		return StateInActiveTransmission
	case r.ReadyAt != nil:
		return StateReady
	default:
		return StateDraft
	}
}

// CheckInvariants verifies that terminal markers are mutually exclusive and
// that timestamps respect lifecycle order. A violation is a programming or
// data error, never a user error.
func (r *Report) CheckInvariants() error {
	terminals := 0
	if r.RejectedAt != nil {
		terminals++
	}
	if r.CanceledAt != nil {
		terminals++
	}
	if r.ApprovedAt != nil {
		terminals++
	}
	if r.ReturnedAt != nil {
		terminals++
	}
	if terminals > 1 {
		return fmt.Errorf("%w: report %s carries %d terminal markers", ErrInvariant, r.ID, terminals)
	}

	pairs := []struct {
		earlier, later string
		ok             bool
	}{
		{"ready_at", "transmitted_at", ordered(r.ReadyAt, r.TransmittedAt)},
		{"transmitted_at", "acknowledged_at", ordered(r.TransmittedAt, r.AcknowledgedAt)},
		{"acknowledged_at", "accepted_at", ordered(r.AcknowledgedAt, r.AcceptedAt)},
		{"accepted_at", "assigned_at", ordered(r.AcceptedAt, r.AssignedAt)},
		{"assigned_at", "resolved_at", ordered(r.AssignedAt, r.ResolvedAt)},
		{"resolved_at", "approved_at", ordered(r.ResolvedAt, r.ApprovedAt)},
	}
	for _, p := range pairs {
		if !p.ok {
			return fmt.Errorf("%w: report %s breaks timestamp order between %s and %s", ErrInvariant, r.ID, p.earlier, p.later)
		}
	}
	return nil
}

// ordered reports whether later is unset, or earlier is set and not after later.
func ordered(earlier, later *time.Time) bool {
	if later == nil {
		return true
	}
	if earlier == nil {
		return false
	}
	return !earlier.After(*later)
}

// PackageState is the derived lifecycle position of a package.
type PackageState string

const (
	PackageOpen        PackageState = "open"
	PackageTransmitted PackageState = "transmitted"
	PackageApproved    PackageState = "approved"
	PackageReturned    PackageState = "returned"
)

// State derives the package's lifecycle state from its timestamps.
func (p *Package) State() PackageState {
	switch {
	case p.ReturnedAt != nil:
		return PackageReturned
	case p.ApprovedAt != nil:
		return PackageApproved
	case p.TransmittedAt != nil:
		return PackageTransmitted
	default:
		return PackageOpen
	}
}
