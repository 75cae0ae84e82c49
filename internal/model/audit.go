package model

import "time"

// Audit event types recorded over the lifecycle of an access request.
const (
	EventRequestSubmitted = "request-submitted"
	EventAccessGranted    = "access-granted"
	EventAccessDenied     = "access-denied"
	EventKeyDerived       = "key-derived"
	EventKeyDistributed   = "key-distributed"
)

// AuditEvent is one immutable record in the append-only audit trail. Events
// are never updated or deleted once written. IDs are UUIDv7, so sorting by
// (Timestamp, ID) is stable across repeated reads.
type AuditEvent struct {
	ID         string            `json:"id" db:"id"`
	Timestamp  time.Time         `json:"timestamp" db:"ts"`
	EventType  string            `json:"event_type" db:"event_type"`
	Actor      string            `json:"actor" db:"actor"`
	Target     string            `json:"target,omitempty" db:"target"`
	RangeStart *int64            `json:"range_start,omitempty" db:"range_start"`
	RangeEnd   *int64            `json:"range_end,omitempty" db:"range_end"`
	Success    bool              `json:"success" db:"success"`
	Details    map[string]string `json:"details,omitempty" db:"-"`
}

// AuditStatistics aggregates the audit trail, optionally over a filtered
// window. SuccessRate is 0 (not NaN) when TotalEntries is 0.
type AuditStatistics struct {
	TotalEntries   int            `json:"total_entries"`
	EntriesByType  map[string]int `json:"entries_by_type"`
	EntriesByActor map[string]int `json:"entries_by_actor"`
	SuccessRate    float64        `json:"success_rate"`
}
