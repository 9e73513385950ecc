package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"signalo.org/internal/organizations"
	"signalo.org/internal/reporting"
)

func newReportingService(t *testing.T) (*reporting.Service, *reporting.InMemory) {
	t.Helper()
	orgSvc, err := organizations.NewService(organizations.NewInMemory())
	if err != nil {
		t.Fatalf("organizations.NewService: %v", err)
	}
	store := reporting.NewInMemory()
	svc, err := reporting.NewService(store, orgSvc)
	if err != nil {
		t.Fatalf("reporting.NewService: %v", err)
	}
	return svc, store
}

func seedReport(t *testing.T, svc *reporting.Service) *reporting.Report {
	t.Helper()
	r := &reporting.Report{
		CollectivityID: "c1",
		FormType:       reporting.FormEvaluationLocalHabitation,
		CommuneCode:    "64445",
		Anomalies:      []string{"categorie"},
	}
	if err := svc.CreateReport(context.Background(), r); err != nil {
		t.Fatalf("CreateReport: %v", err)
	}
	return r
}

func TestSweepOncePurgesPastGrace(t *testing.T) {
	svc, _ := newReportingService(t)
	ctx := context.Background()

	first := seedReport(t, svc)
	second := seedReport(t, svc)
	for _, id := range []string{first.ID, second.ID} {
		if _, err := svc.DiscardReport(ctx, id); err != nil {
			t.Fatalf("DiscardReport: %v", err)
		}
	}

	sweeper := NewSweeper(svc, 24*time.Hour, time.Hour)
	// Pretend the grace period has elapsed.
	sweeper.now = func() time.Time { return time.Now().Add(25 * time.Hour) }

	n, err := sweeper.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if n != 2 {
		t.Fatalf("purged %d, want 2", n)
	}
	if _, err := svc.FindReport(ctx, first.ID); !errors.Is(err, reporting.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSweepOnceKeepsRecentDiscards(t *testing.T) {
	svc, _ := newReportingService(t)
	ctx := context.Background()

	r := seedReport(t, svc)
	if _, err := svc.DiscardReport(ctx, r.ID); err != nil {
		t.Fatalf("DiscardReport: %v", err)
	}

	sweeper := NewSweeper(svc, 24*time.Hour, time.Hour)
	n, err := sweeper.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if n != 0 {
		t.Fatalf("purged %d, want 0", n)
	}
	if _, err := svc.FindReport(ctx, r.ID); err != nil {
		t.Fatalf("recently discarded report must survive the sweep: %v", err)
	}
}

func TestNewSweeperDefaults(t *testing.T) {
	svc, _ := newReportingService(t)
	s := NewSweeper(svc, 0, 0)
	if s.grace != DefaultGrace {
		t.Fatalf("grace = %v, want %v", s.grace, DefaultGrace)
	}
	if s.interval != time.Hour {
		t.Fatalf("interval = %v, want 1h", s.interval)
	}
}
