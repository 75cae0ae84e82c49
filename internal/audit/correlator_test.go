package audit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/SiwatS/chronocrypt-kms/internal/model"
	"github.com/SiwatS/chronocrypt-kms/internal/store"
)

var correlatorBase = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// appendAt writes an event with an explicit offset so correlation scenarios
// are deterministic. IDs encode the sequence number to keep tie-breaks stable.
func appendAt(t *testing.T, trail *Trail, seq int, offset time.Duration, eventType, actor, target string, success bool) {
	t.Helper()
	err := trail.Append(context.Background(), &model.AuditEvent{
		ID:        fmt.Sprintf("%04d", seq),
		Timestamp: correlatorBase.Add(offset),
		EventType: eventType,
		Actor:     actor,
		Target:    target,
		Success:   success,
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
}

func TestCorrelateGrantAndDenial(t *testing.T) {
	trail := newTestTrail(t)
	corr := NewCorrelator(trail)

	appendAt(t, trail, 1, 0, model.EventRequestSubmitted, "alpha", "", true)
	appendAt(t, trail, 2, time.Second, model.EventAccessGranted, "key-holder", "alpha", true)
	appendAt(t, trail, 3, 2*time.Second, model.EventRequestSubmitted, "beta", "", true)
	appendAt(t, trail, 4, 3*time.Second, model.EventAccessDenied, "key-holder", "beta", false)

	out, err := corr.Correlate(context.Background(), store.AuditFilter{})
	if err != nil {
		t.Fatalf("Correlate: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d correlated requests, want 2", len(out))
	}

	if out[0].RequesterID != "alpha" || out[0].Status != model.StatusGranted {
		t.Errorf("got %+v, want alpha granted", out[0])
	}
	if out[0].OutcomeID != "0002" {
		t.Errorf("alpha outcome ID %q, want 0002", out[0].OutcomeID)
	}
	if out[0].ResolvedAt == nil || !out[0].ResolvedAt.Equal(correlatorBase.Add(time.Second)) {
		t.Errorf("alpha resolved at %v", out[0].ResolvedAt)
	}

	if out[1].RequesterID != "beta" || out[1].Status != model.StatusDenied {
		t.Errorf("got %+v, want beta denied", out[1])
	}
}

func TestCorrelatePending(t *testing.T) {
	trail := newTestTrail(t)
	corr := NewCorrelator(trail)

	appendAt(t, trail, 1, 0, model.EventRequestSubmitted, "alpha", "", true)

	out, err := corr.Correlate(context.Background(), store.AuditFilter{})
	if err != nil {
		t.Fatalf("Correlate: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d requests, want 1", len(out))
	}
	// No outcome in the window: pending, not denied.
	if out[0].Status != model.StatusPending {
		t.Errorf("got status %q, want pending", out[0].Status)
	}
	if out[0].OutcomeID != "" || out[0].ResolvedAt != nil {
		t.Errorf("pending request must carry no outcome: %+v", out[0])
	}
}

func TestCorrelateOutcomeConsumedOnce(t *testing.T) {
	trail := newTestTrail(t)
	corr := NewCorrelator(trail)

	// Two requests from the same requester, one outcome. The outcome must
	// resolve exactly one request; the other stays pending.
	appendAt(t, trail, 1, 0, model.EventRequestSubmitted, "alpha", "", true)
	appendAt(t, trail, 2, time.Second, model.EventRequestSubmitted, "alpha", "", true)
	appendAt(t, trail, 3, 2*time.Second, model.EventAccessGranted, "key-holder", "alpha", true)

	out, err := corr.Correlate(context.Background(), store.AuditFilter{})
	if err != nil {
		t.Fatalf("Correlate: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d requests, want 2", len(out))
	}

	resolved := 0
	for _, r := range out {
		if r.Status != model.StatusPending {
			resolved++
			if r.OutcomeID != "0003" {
				t.Errorf("resolved with outcome %q, want 0003", r.OutcomeID)
			}
		}
	}
	if resolved != 1 {
		t.Errorf("outcome attributed to %d requests, want exactly 1", resolved)
	}
}

func TestCorrelateRequesterIsolation(t *testing.T) {
	trail := newTestTrail(t)
	corr := NewCorrelator(trail)

	// Beta's outcome must not resolve alpha's request.
	appendAt(t, trail, 1, 0, model.EventRequestSubmitted, "alpha", "", true)
	appendAt(t, trail, 2, time.Second, model.EventAccessGranted, "key-holder", "beta", true)

	out, err := corr.Correlate(context.Background(), store.AuditFilter{})
	if err != nil {
		t.Fatalf("Correlate: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d requests, want 1", len(out))
	}
	if out[0].Status != model.StatusPending {
		t.Errorf("got status %q, want pending (outcome belongs to beta)", out[0].Status)
	}
}

func TestCorrelateOutcomeMustBeLater(t *testing.T) {
	trail := newTestTrail(t)
	corr := NewCorrelator(trail)

	// An outcome sharing the request's exact timestamp is not strictly later
	// and must not resolve it.
	appendAt(t, trail, 1, 0, model.EventRequestSubmitted, "alpha", "", true)
	appendAt(t, trail, 2, 0, model.EventAccessGranted, "key-holder", "alpha", true)

	out, err := corr.Correlate(context.Background(), store.AuditFilter{})
	if err != nil {
		t.Fatalf("Correlate: %v", err)
	}
	if out[0].Status != model.StatusPending {
		t.Errorf("got status %q, want pending", out[0].Status)
	}
}

func TestCorrelateEarliestOutcomeWins(t *testing.T) {
	trail := newTestTrail(t)
	corr := NewCorrelator(trail)

	appendAt(t, trail, 1, 0, model.EventRequestSubmitted, "alpha", "", true)
	appendAt(t, trail, 2, time.Second, model.EventAccessDenied, "key-holder", "alpha", false)
	appendAt(t, trail, 3, 2*time.Second, model.EventAccessGranted, "key-holder", "alpha", true)

	out, err := corr.Correlate(context.Background(), store.AuditFilter{})
	if err != nil {
		t.Fatalf("Correlate: %v", err)
	}
	if out[0].Status != model.StatusDenied || out[0].OutcomeID != "0002" {
		t.Errorf("got %+v, want the earlier denial to win", out[0])
	}
}
