package reporting

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound          = errors.New("reporting: not found")
	ErrInvalidInput      = errors.New("reporting: invalid input")
	ErrInvalidTransition = errors.New("reporting: invalid transition")
	ErrConflict          = errors.New("reporting: concurrent update conflict")
	ErrInvariant         = errors.New("reporting: invariant violation")
)

// IncompleteError lists the mandatory fields still missing on a report.
// It gates the draft -> ready transition.
type IncompleteError struct {
	ReportID string
	Missing  []string
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("report %s is incomplete: missing %s", e.ReportID, strings.Join(e.Missing, ", "))
}

// transitionError builds a consistent invalid-transition error.
func transitionError(r *Report, to string) error {
	return fmt.Errorf("%w: report %s cannot move from %s to %s", ErrInvalidTransition, r.ID, r.State(), to)
}

func packageTransitionError(p *Package, to string) error {
	return fmt.Errorf("%w: package %s cannot move from %s to %s", ErrInvalidTransition, p.Reference, p.State(), to)
}
