package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"signalo.org/internal/notify"
	"signalo.org/internal/obs"
	"signalo.org/internal/reporting"
)

func TestRecorderAppendsAndLogs(t *testing.T) {
	logger := obs.Logger()
	original := logger.Writer()
	logger.SetFlags(0)
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	store := NewInMemory()
	rec := NewRecorder(store)
	evt := reporting.Event{
		Kind:     "report.accepted",
		ReportID: "r1",
		ActorID:  "u1",
		At:       time.Now().UTC(),
	}
	if err := rec.Record(context.Background(), evt); err != nil {
		t.Fatalf("Record: %v", err)
	}

	entries, err := store.List(context.Background(), Filter{ReportID: "r1"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Event != "report.accepted" || entries[0].ActorID != "u1" {
		t.Fatalf("unexpected entry %+v", entries[0])
	}

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if line["event"] != "report.accepted" {
		t.Fatalf("unexpected log event: %v", line["event"])
	}
}

// The recorder takes events synchronously from the workflow service, so the
// trail must stay complete even when a stream subscriber stops draining and
// the stream starts dropping.
func TestTrailStaysCompleteBehindStalledStreamSubscriber(t *testing.T) {
	logger := obs.Logger()
	original := logger.Writer()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	store := NewInMemory()
	stream := notify.NewStream()
	defer stream.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream.Subscribe(ctx) // never drained

	notifier := reporting.CombineNotifiers(NewRecorder(store), stream)
	const n = 200
	for i := 0; i < n; i++ {
		notifier.Publish(reporting.Event{Kind: "report.ready", ReportID: "r1", At: time.Now().UTC()})
	}

	entries, err := store.List(context.Background(), Filter{ReportID: "r1"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != n {
		t.Fatalf("got %d entries, want %d", len(entries), n)
	}
}

func TestListFilters(t *testing.T) {
	store := NewInMemory()
	ctx := context.Background()
	now := time.Now().UTC()
	for _, e := range []*Entry{
		{Event: "report.ready", ReportID: "r1", ActorID: "u1", At: now.Add(-2 * time.Hour)},
		{Event: "report.accepted", ReportID: "r1", ActorID: "u2", At: now},
		{Event: "package.transmitted", PackageID: "p1", ActorID: "u1", At: now},
	} {
		if err := store.Append(ctx, e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := store.List(ctx, Filter{ReportID: "r1", Since: now.Add(-time.Hour)})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || got[0].Event != "report.accepted" {
		t.Fatalf("unexpected entries %+v", got)
	}

	got, err = store.List(ctx, Filter{ActorID: "u1", Limit: 1})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("limit ignored, got %d entries", len(got))
	}
}
