package audit

import (
	"context"
	"testing"
	"time"

	"github.com/SiwatS/chronocrypt-kms/internal/model"
	"github.com/SiwatS/chronocrypt-kms/internal/store"
)

func newTestTrail(t *testing.T) *Trail {
	t.Helper()
	st, err := store.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewTrail(st)
}

func TestAppendFillsIDAndTimestamp(t *testing.T) {
	trail := newTestTrail(t)
	ctx := context.Background()

	e := &model.AuditEvent{
		EventType: model.EventRequestSubmitted,
		Actor:     "alpha",
		Success:   true,
	}
	if err := trail.Append(ctx, e); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if e.ID == "" {
		t.Error("expected Append to assign an ID")
	}
	if e.Timestamp.IsZero() {
		t.Error("expected Append to assign a timestamp")
	}

	// Preset fields are left alone.
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	preset := &model.AuditEvent{
		ID:        "custom-id",
		Timestamp: ts,
		EventType: model.EventAccessGranted,
		Actor:     "key-holder",
		Success:   true,
	}
	if err := trail.Append(ctx, preset); err != nil {
		t.Fatalf("Append preset: %v", err)
	}
	if preset.ID != "custom-id" || !preset.Timestamp.Equal(ts) {
		t.Errorf("Append overwrote preset fields: %+v", preset)
	}
}

func TestAppendIDsAreOrdered(t *testing.T) {
	trail := newTestTrail(t)
	ctx := context.Background()

	// Sequential appends get monotonically increasing UUIDv7 IDs, so the
	// (timestamp, id) sort order matches insertion order even when the
	// timestamps collide.
	var prev string
	for i := 0; i < 10; i++ {
		e := &model.AuditEvent{EventType: model.EventRequestSubmitted, Actor: "alpha", Success: true}
		if err := trail.Append(ctx, e); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
		if prev != "" && e.ID <= prev {
			t.Fatalf("ID %q not greater than previous %q", e.ID, prev)
		}
		prev = e.ID
	}
}

func TestStatistics(t *testing.T) {
	trail := newTestTrail(t)
	ctx := context.Background()

	events := []*model.AuditEvent{
		{EventType: model.EventRequestSubmitted, Actor: "alpha", Success: true},
		{EventType: model.EventAccessGranted, Actor: "key-holder", Target: "alpha", Success: true},
		{EventType: model.EventRequestSubmitted, Actor: "beta", Success: true},
		{EventType: model.EventAccessDenied, Actor: "key-holder", Target: "beta", Success: false},
	}
	for _, e := range events {
		if err := trail.Append(ctx, e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	stats, err := trail.Statistics(ctx, store.AuditFilter{})
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	if stats.TotalEntries != 4 {
		t.Errorf("got %d entries, want 4", stats.TotalEntries)
	}
	if stats.EntriesByType[model.EventRequestSubmitted] != 2 {
		t.Errorf("got %d submissions, want 2", stats.EntriesByType[model.EventRequestSubmitted])
	}
	if stats.EntriesByActor["key-holder"] != 2 {
		t.Errorf("got %d key-holder entries, want 2", stats.EntriesByActor["key-holder"])
	}
	if stats.SuccessRate != 0.75 {
		t.Errorf("got success rate %v, want 0.75", stats.SuccessRate)
	}
}

func TestStatisticsEmpty(t *testing.T) {
	trail := newTestTrail(t)

	stats, err := trail.Statistics(context.Background(), store.AuditFilter{})
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	if stats.TotalEntries != 0 {
		t.Errorf("got %d entries, want 0", stats.TotalEntries)
	}
	// Zero, not NaN.
	if stats.SuccessRate != 0 {
		t.Errorf("got success rate %v, want 0", stats.SuccessRate)
	}
}
