// Package audit records every committed workflow transition. The trail is
// append-only: entries are written by observing events after commit and are
// never updated or deleted.
package audit

import (
	"context"
	"sync"
	"time"

	"signalo.org/internal/ids"
	"signalo.org/internal/reporting"
)

// Entry is one immutable line of the audit trail.
type Entry struct {
	ID             string
	Event          string
	ReportID       string
	PackageID      string
	CollectivityID string
	DDFIPID        string
	ActorID        string
	At             time.Time
}

// Filter restricts trail queries.
type Filter struct {
	ReportID  string
	PackageID string
	ActorID   string
	Since     time.Time
	Limit     int
}

// Store persists audit entries.
type Store interface {
	Append(ctx context.Context, e *Entry) error
	List(ctx context.Context, f Filter) ([]*Entry, error)
}

// InMemory implements Store for tests and the smoke binary.
type InMemory struct {
	mu      sync.Mutex
	entries []*Entry
}

// NewInMemory creates an empty in-memory trail.
func NewInMemory() *InMemory {
	return &InMemory{}
}

var _ Store = (*InMemory)(nil)

func (s *InMemory) Append(ctx context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = ids.New()
	}
	cp := *e
	s.entries = append(s.entries, &cp)
	return nil
}

func (s *InMemory) List(ctx context.Context, f Filter) ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []*Entry
	for _, e := range s.entries {
		if f.ReportID != "" && e.ReportID != f.ReportID {
			continue
		}
		if f.PackageID != "" && e.PackageID != f.PackageID {
			continue
		}
		if f.ActorID != "" && e.ActorID != f.ActorID {
			continue
		}
		if !f.Since.IsZero() && e.At.Before(f.Since) {
			continue
		}
		cp := *e
		res = append(res, &cp)
		if f.Limit > 0 && len(res) == f.Limit {
			break
		}
	}
	return res, nil
}

// Recorder turns workflow events into trail entries and structured log lines.
// It is wired into the workflow service as a notifier, so every committed
// transition reaches the trail regardless of how far stream subscribers lag.
type Recorder struct {
	store Store
}

// NewRecorder builds a Recorder over the given store.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

var _ reporting.Notifier = (*Recorder)(nil)

// Record persists one event. Errors are returned so the caller decides
// whether to log and continue or stop.
func (r *Recorder) Record(ctx context.Context, evt reporting.Event) error {
	entry := &Entry{
		Event:          evt.Kind,
		ReportID:       evt.ReportID,
		PackageID:      evt.PackageID,
		CollectivityID: evt.CollectivityID,
		DDFIPID:        evt.DDFIPID,
		ActorID:        evt.ActorID,
		At:             evt.At,
	}
	if err := r.store.Append(ctx, entry); err != nil {
		return err
	}
	return LogEvent(ctx, evt.Kind, map[string]any{
		"report_id":  evt.ReportID,
		"package_id": evt.PackageID,
		"actor_id":   evt.ActorID,
	})
}

// Publish implements reporting.Notifier. Store failures are logged and
// skipped; the trail must never stall the workflow.
func (r *Recorder) Publish(evt reporting.Event) {
	ctx := context.Background()
	if err := r.Record(ctx, evt); err != nil {
		LogEvent(ctx, "audit.append_failed", map[string]any{"error": err.Error()})
	}
}
