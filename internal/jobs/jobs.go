// Package jobs hosts the background workers: the sweeper that hard-deletes
// soft-deleted records after their grace period, and the assigner that
// retries office routing for approved packages.
package jobs

import (
	"context"
	"time"

	"signalo.org/internal/audit"
	"signalo.org/internal/notify"
	"signalo.org/internal/reporting"
)

// DefaultGrace is how long discarded records stay recoverable.
const DefaultGrace = 30 * 24 * time.Hour

// Sweeper periodically purges reports discarded before the grace period.
type Sweeper struct {
	reports  *reporting.Service
	grace    time.Duration
	interval time.Duration
	now      func() time.Time
}

// NewSweeper builds a sweeper. Non-positive grace or interval fall back to
// defaults.
func NewSweeper(reports *reporting.Service, grace, interval time.Duration) *Sweeper {
	if grace <= 0 {
		grace = DefaultGrace
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{reports: reports, grace: grace, interval: interval, now: time.Now}
}

// SweepOnce purges everything past the grace period and returns the count.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	cutoff := s.now().UTC().Add(-s.grace)
	return s.reports.PurgeDiscardedReports(ctx, cutoff)
}

// Run sweeps on the configured interval until the context ends.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.SweepOnce(ctx)
			if err != nil {
				audit.LogEvent(ctx, "jobs.sweep_failed", map[string]any{"error": err.Error()})
				continue
			}
			if n > 0 {
				audit.LogEvent(ctx, "jobs.sweep", map[string]any{"purged": n})
			}
		}
	}
}

// Assigner listens for package approvals and re-runs the automatic
// assignment cascade. The cascade is idempotent, so replaying an approval
// only picks up reports still waiting for an office.
type Assigner struct {
	reports *reporting.Service
	stream  *notify.Stream
}

// NewAssigner builds an assigner over the event stream.
func NewAssigner(reports *reporting.Service, stream *notify.Stream) *Assigner {
	return &Assigner{reports: reports, stream: stream}
}

// Run consumes approval events until the context ends.
func (a *Assigner) Run(ctx context.Context) {
	events := a.stream.Subscribe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if evt.Kind != "package.approved" {
				continue
			}
			if _, err := a.reports.AutoAssignPackage(ctx, evt.PackageID); err != nil {
				audit.LogEvent(ctx, "jobs.auto_assign_failed", map[string]any{
					"package_id": evt.PackageID,
					"error":      err.Error(),
				})
			}
		}
	}
}
