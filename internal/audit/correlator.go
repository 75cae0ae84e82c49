package audit

import (
	"context"

	"github.com/SiwatS/chronocrypt-kms/internal/model"
	"github.com/SiwatS/chronocrypt-kms/internal/store"
)

// Correlator reconstructs human-readable request status from the trail.
// A request and its outcome are separate events with different actor/target
// fields: the request event's actor is the requester, while the outcome
// event's actor is the key-holder and its target is the requester. Listing
// "my requests with status" therefore requires pairing them back up.
type Correlator struct {
	trail *Trail
}

// NewCorrelator creates a Correlator reading from the given trail.
func NewCorrelator(trail *Trail) *Correlator {
	return &Correlator{trail: trail}
}

func isOutcome(eventType string) bool {
	return eventType == model.EventAccessGranted || eventType == model.EventAccessDenied
}

// Correlate pairs every request-submitted event in the filtered window with
// the earliest strictly-later outcome event involving the same requester.
// Each outcome event resolves at most one request. Requests with no outcome
// in the window are reported as StatusPending, never silently dropped or
// conflated with an explicit denial.
//
// The scan is quadratic in the window size, so callers must bound the window
// with a time-range filter rather than running it over the full history.
func (c *Correlator) Correlate(ctx context.Context, f store.AuditFilter) ([]model.CorrelatedRequest, error) {
	events, err := c.trail.Retrieve(ctx, f)
	if err != nil {
		return nil, err
	}

	// Retrieve orders by (timestamp, id), so scanning forward from a request
	// event always meets candidate outcomes earliest-first, and ties on
	// timestamp resolve deterministically by event ID.
	consumed := make(map[string]bool)
	out := make([]model.CorrelatedRequest, 0)

	for i, e := range events {
		if e.EventType != model.EventRequestSubmitted {
			continue
		}

		req := model.CorrelatedRequest{
			EventID:     e.ID,
			RequesterID: e.Actor,
			SubmittedAt: e.Timestamp,
			RangeStart:  e.RangeStart,
			RangeEnd:    e.RangeEnd,
			Status:      model.StatusPending,
		}

		for _, candidate := range events[i+1:] {
			if !candidate.Timestamp.After(e.Timestamp) {
				continue
			}
			if !isOutcome(candidate.EventType) || consumed[candidate.ID] {
				continue
			}
			if candidate.Actor != e.Actor && candidate.Target != e.Actor {
				continue
			}

			consumed[candidate.ID] = true
			req.OutcomeID = candidate.ID
			resolvedAt := candidate.Timestamp
			req.ResolvedAt = &resolvedAt
			if candidate.EventType == model.EventAccessGranted {
				req.Status = model.StatusGranted
			} else {
				req.Status = model.StatusDenied
			}
			break
		}

		out = append(out, req)
	}
	return out, nil
}
