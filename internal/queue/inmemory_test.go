package queue

import (
	"context"
	"testing"
	"time"
)

func TestUpsertKeepsOneEntryPerPair(t *testing.T) {
	q := NewInMemoryQueue()
	ctx := context.Background()
	base := time.Now().UTC()

	first := Entry{CampaignID: "camp-1", ContactID: "cont-1", Priority: 10, ScheduledAt: base, Status: StatusPending, Attempts: 1}
	second := first
	second.Priority = 9
	second.Attempts = 2
	second.ScheduledAt = base.Add(4 * time.Minute)

	if err := q.Upsert(ctx, first); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := q.Upsert(ctx, second); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	if got := q.Len(); got != 1 {
		t.Fatalf("entries = %d, want 1", got)
	}
	e, err := q.Get(ctx, "camp-1", "cont-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if e.Attempts != 2 || e.Priority != 9 {
		t.Fatalf("entry = %+v, want attempts 2 priority 9", e)
	}
}

func TestClaimDueOrdersByPriorityAndMarksProcessing(t *testing.T) {
	q := NewInMemoryQueue()
	ctx := context.Background()
	now := time.Now().UTC()

	entries := []Entry{
		{CampaignID: "c", ContactID: "low", Priority: 3, ScheduledAt: now.Add(-time.Minute), Status: StatusPending},
		{CampaignID: "c", ContactID: "high", Priority: 10, ScheduledAt: now.Add(-time.Minute), Status: StatusPending},
		{CampaignID: "c", ContactID: "future", Priority: 10, ScheduledAt: now.Add(time.Hour), Status: StatusPending},
	}
	for _, e := range entries {
		if err := q.Upsert(ctx, e); err != nil {
			t.Fatalf("upsert %s: %v", e.ContactID, err)
		}
	}

	claimed, err := q.ClaimDue(ctx, now, 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("claimed %d entries, want 2", len(claimed))
	}
	if claimed[0].ContactID != "high" {
		t.Fatalf("first claimed = %s, want high", claimed[0].ContactID)
	}

	// A second claim must not hand out the same entries again.
	again, err := q.ClaimDue(ctx, now, 10)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("second claim returned %d entries, want 0", len(again))
	}
}

func TestMarkFailedMissingEntry(t *testing.T) {
	q := NewInMemoryQueue()
	if err := q.MarkFailed(context.Background(), "c", "nope", "boom"); err != ErrNotFound {
		t.Fatalf("MarkFailed = %v, want ErrNotFound", err)
	}
}
