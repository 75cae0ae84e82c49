package model

import "time"

// TimeRange is the half-open-free inclusive range of Unix timestamps a
// requester wants keys for. Start == End requests a single instant.
type TimeRange struct {
	Start int64 `json:"start_time"`
	End   int64 `json:"end_time"`
}

// AccessRequest is a validated request for time-sliced decryption keys.
// Policy evaluation and key derivation happen in the external key-holder;
// the console only validates, delegates, and records.
type AccessRequest struct {
	RequesterID string            `json:"requester_id"`
	TimeRange   TimeRange         `json:"time_range"`
	Purpose     string            `json:"purpose,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// AccessRequestRecord is the denormalized history row for one submitted
// request and its outcome. It exists for fast listing only; the audit trail
// remains the source of truth and this row is written best-effort.
type AccessRequestRecord struct {
	ID           string    `json:"id" db:"id"`
	RequesterID  string    `json:"requester_id" db:"requester_id"`
	RangeStart   int64     `json:"range_start" db:"range_start"`
	RangeEnd     int64     `json:"range_end" db:"range_end"`
	Purpose      string    `json:"purpose" db:"purpose"`
	Granted      bool      `json:"granted" db:"granted"`
	DenialReason string    `json:"denial_reason,omitempty" db:"denial_reason"`
	KeyCount     int       `json:"key_count" db:"key_count"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Reconstructed request status values. StatusPending means no outcome event
// was observed in the correlated window; it is deliberately distinct from
// StatusDenied.
const (
	StatusGranted = "granted"
	StatusDenied  = "denied"
	StatusPending = "pending"
)

// CorrelatedRequest pairs a request-submitted event with its reconstructed
// status for human-readable listings.
type CorrelatedRequest struct {
	EventID     string    `json:"event_id"`
	RequesterID string    `json:"requester_id"`
	SubmittedAt time.Time `json:"submitted_at"`
	RangeStart  *int64    `json:"range_start,omitempty"`
	RangeEnd    *int64    `json:"range_end,omitempty"`
	Status      string    `json:"status"`
	OutcomeID   string    `json:"outcome_event_id,omitempty"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}
