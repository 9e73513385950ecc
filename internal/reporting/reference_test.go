package reporting

import (
	"context"
	"testing"
	"time"
)

func TestFormatReference(t *testing.T) {
	may := time.Date(2023, time.May, 20, 0, 0, 0, 0, time.UTC)
	if got := FormatReference(ReferencePrefix(may), 4); got != "2023-05-0004" {
		t.Fatalf("reference = %s, want 2023-05-0004", got)
	}
}

func TestSequenceOf(t *testing.T) {
	if got := SequenceOf("2023-05-0004"); got != 4 {
		t.Fatalf("sequence = %d, want 4", got)
	}
	if got := SequenceOf("not-a-reference"); got != 0 {
		t.Fatalf("sequence = %d, want 0", got)
	}
}

func TestMonthlyReferenceSequenceResets(t *testing.T) {
	store := NewInMemory()
	clock := time.Date(2023, time.May, 2, 9, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return clock })

	ctx := context.Background()
	var last *Package
	for i := 0; i < 4; i++ {
		last = &Package{CollectivityID: "c1"}
		if err := store.CreatePackage(ctx, last); err != nil {
			t.Fatalf("CreatePackage: %v", err)
		}
	}
	if last.Reference != "2023-05-0004" {
		t.Fatalf("fourth May reference = %s, want 2023-05-0004", last.Reference)
	}

	clock = time.Date(2023, time.June, 1, 9, 0, 0, 0, time.UTC)
	p := &Package{CollectivityID: "c1"}
	if err := store.CreatePackage(ctx, p); err != nil {
		t.Fatalf("CreatePackage: %v", err)
	}
	if p.Reference != "2023-06-0001" {
		t.Fatalf("first June reference = %s, want 2023-06-0001", p.Reference)
	}
}
