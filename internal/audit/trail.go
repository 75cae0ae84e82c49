// Package audit owns the append-only event trail and the reconstruction of
// request status from it.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/SiwatS/chronocrypt-kms/internal/model"
	"github.com/SiwatS/chronocrypt-kms/internal/store"
)

// Trail is the append-only audit event log. Events are persisted in the
// console's SQLite store; once appended they are never mutated or deleted.
type Trail struct {
	store *store.Store
}

// NewTrail creates a Trail backed by the given store.
func NewTrail(st *store.Store) *Trail {
	return &Trail{store: st}
}

// Append writes one event. A zero ID is replaced with a fresh UUIDv7 and a
// zero timestamp with the current time, so callers appending several events
// for one logical operation get monotonically ordered IDs. The insert is
// synchronous: when Append returns nil the event is durable.
func (t *Trail) Append(ctx context.Context, e *model.AuditEvent) error {
	if e.ID == "" {
		e.ID = uuid.Must(uuid.NewV7()).String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	return t.store.AppendAuditEvent(ctx, e)
}

// Retrieve returns all events matching the filter, ordered by timestamp then
// ID. An actor filter matches events where the actor appears as either actor
// or target. The zero filter returns everything; callers paginate downstream.
func (t *Trail) Retrieve(ctx context.Context, f store.AuditFilter) ([]model.AuditEvent, error) {
	return t.store.ListAuditEvents(ctx, f)
}

// Statistics aggregates the (optionally filtered) trail. SuccessRate is 0
// when the set is empty, never NaN.
func (t *Trail) Statistics(ctx context.Context, f store.AuditFilter) (*model.AuditStatistics, error) {
	events, err := t.store.ListAuditEvents(ctx, f)
	if err != nil {
		return nil, err
	}

	stats := &model.AuditStatistics{
		EntriesByType:  make(map[string]int),
		EntriesByActor: make(map[string]int),
	}

	successful := 0
	for _, e := range events {
		stats.TotalEntries++
		stats.EntriesByType[e.EventType]++
		stats.EntriesByActor[e.Actor]++
		if e.Success {
			successful++
		}
	}
	if stats.TotalEntries > 0 {
		stats.SuccessRate = float64(successful) / float64(stats.TotalEntries)
	}
	return stats, nil
}
