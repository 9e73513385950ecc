package notify

import (
	"context"
	"testing"
	"time"

	"signalo.org/internal/reporting"
)

func TestStreamFanOut(t *testing.T) {
	s := NewStream()
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	first := s.Subscribe(ctx)
	second := s.Subscribe(ctx)

	evt := reporting.Event{Kind: "report.ready", ReportID: "r1"}
	s.Publish(evt)

	for _, ch := range []<-chan reporting.Event{first, second} {
		select {
		case got := <-ch:
			if got.Kind != "report.ready" || got.ReportID != "r1" {
				t.Fatalf("unexpected event %+v", got)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestStreamUnsubscribesOnContextCancel(t *testing.T) {
	s := NewStream()
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel, got event")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after context cancel")
	}

	// Publishing after the cancellation must not panic or block.
	s.Publish(reporting.Event{Kind: "report.ready"})
}

func TestStreamDropsForSlowSubscriber(t *testing.T) {
	s := NewStream()
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := s.Subscribe(ctx)

	for i := 0; i < defaultBuffer+10; i++ {
		s.Publish(reporting.Event{Kind: "report.ready"})
	}
	if len(ch) != defaultBuffer {
		t.Fatalf("buffered %d events, want %d", len(ch), defaultBuffer)
	}
}

func TestClosedStreamYieldsClosedSubscription(t *testing.T) {
	s := NewStream()
	s.Close()
	ch := s.Subscribe(context.Background())
	if _, ok := <-ch; ok {
		t.Fatal("subscription on closed stream must be closed")
	}
}
