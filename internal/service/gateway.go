package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"github.com/SiwatS/chronocrypt-kms/internal/audit"
	"github.com/SiwatS/chronocrypt-kms/internal/keyholder"
	"github.com/SiwatS/chronocrypt-kms/internal/model"
)

// HistoryStore is the slice of the store the gateway needs for the
// denormalized request-history rows.
type HistoryStore interface {
	CreateAccessRequest(ctx context.Context, rec *model.AccessRequestRecord) error
}

// ValidationError reports a malformed access request. It maps to a 400 with
// a field-level reason that is safe to expose.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// AuthorizationResult is the gateway's answer to one access request. Keys is
// populated only on grant, keyed by the timestamp each key covers.
type AuthorizationResult struct {
	Granted      bool                            `json:"granted"`
	Keys         map[int64]keyholder.ExportedKey `json:"keys,omitempty"`
	DenialReason string                          `json:"denial_reason,omitempty"`
}

// AuthorizationGateway turns a validated access request into a persisted,
// audited outcome. It holds no authorization logic of its own: policy
// evaluation and key derivation belong to the key-holder. The gateway
// validates input, delegates, exports granted keys to their portable form,
// and records what happened.
type AuthorizationGateway struct {
	keyholder keyholder.KeyHolder
	trail     *audit.Trail
	store     HistoryStore
	logger    *slog.Logger
}

// NewAuthorizationGateway creates a gateway.
func NewAuthorizationGateway(kh keyholder.KeyHolder, trail *audit.Trail, st HistoryStore, logger *slog.Logger) *AuthorizationGateway {
	return &AuthorizationGateway{
		keyholder: kh,
		trail:     trail,
		store:     st,
		logger:    logger,
	}
}

// Authorize validates, delegates, audits, and answers one access request.
//
// The audit appends are load-bearing: they run on a context detached from
// the caller so a client disconnect mid-request cannot leave a decision
// unrecorded, and the request event is written before the key-holder's
// outcome so per-call ordering holds in the trail. The denormalized history
// row is best-effort; its failure is logged and the already-computed result
// is returned regardless.
func (g *AuthorizationGateway) Authorize(ctx context.Context, req model.AccessRequest) (*AuthorizationResult, error) {
	if req.RequesterID == "" {
		return nil, &ValidationError{Field: "requester_id", Reason: "must not be empty"}
	}
	if req.TimeRange.Start > req.TimeRange.End {
		return nil, &ValidationError{Field: "time_range", Reason: "start_time must not exceed end_time"}
	}

	// Detached from the caller: audit writes outlive an HTTP disconnect.
	auditCtx := context.WithoutCancel(ctx)

	rangeStart, rangeEnd := req.TimeRange.Start, req.TimeRange.End
	if err := g.trail.Append(auditCtx, &model.AuditEvent{
		EventType:  model.EventRequestSubmitted,
		Actor:      req.RequesterID,
		RangeStart: &rangeStart,
		RangeEnd:   &rangeEnd,
		Success:    true,
		Details:    requestDetails(req),
	}); err != nil {
		return nil, fmt.Errorf("record request: %w", err)
	}

	decision, err := g.keyholder.Authorize(ctx, req)
	if err != nil {
		// Delegation failure is not a denial; surface it after recording.
		if auditErr := g.trail.Append(auditCtx, &model.AuditEvent{
			EventType:  model.EventAccessDenied,
			Actor:      "key-holder",
			Target:     req.RequesterID,
			RangeStart: &rangeStart,
			RangeEnd:   &rangeEnd,
			Success:    false,
			Details:    map[string]string{"error": "key-holder unavailable"},
		}); auditErr != nil {
			g.logger.Error("audit append failed after key-holder error", "error", auditErr)
		}
		return nil, fmt.Errorf("key-holder delegation: %w", err)
	}

	result := &AuthorizationResult{Granted: decision.Granted, DenialReason: decision.DenialReason}

	if decision.Granted {
		result.Keys = make(map[int64]keyholder.ExportedKey, len(decision.Keys))
		for _, k := range decision.Keys {
			result.Keys[k.Timestamp] = keyholder.Export(k)
		}
	}

	g.appendOutcome(auditCtx, req, decision, rangeStart, rangeEnd)
	g.writeHistory(auditCtx, req, decision)

	return result, nil
}

// appendOutcome records the decision and, on grant, the derivation and
// distribution events. Failures here are logged loudly but do not change the
// response: the decision was already made and the request event is durable.
func (g *AuthorizationGateway) appendOutcome(ctx context.Context, req model.AccessRequest, d *keyholder.Decision, rangeStart, rangeEnd int64) {
	outcome := &model.AuditEvent{
		EventType:  model.EventAccessDenied,
		Actor:      "key-holder",
		Target:     req.RequesterID,
		RangeStart: &rangeStart,
		RangeEnd:   &rangeEnd,
		Success:    false,
	}
	if d.Granted {
		outcome.EventType = model.EventAccessGranted
		outcome.Success = true
		outcome.Details = map[string]string{"key_count": strconv.Itoa(len(d.Keys))}
	} else if d.DenialReason != "" {
		outcome.Details = map[string]string{"reason": d.DenialReason}
	}

	if err := g.trail.Append(ctx, outcome); err != nil {
		g.logger.Error("audit append failed for outcome", "requester", req.RequesterID, "error", err)
		return
	}

	if !d.Granted {
		return
	}

	derived := &model.AuditEvent{
		EventType:  model.EventKeyDerived,
		Actor:      "key-holder",
		Target:     req.RequesterID,
		RangeStart: &rangeStart,
		RangeEnd:   &rangeEnd,
		Success:    true,
		Details:    map[string]string{"key_count": strconv.Itoa(len(d.Keys))},
	}
	if err := g.trail.Append(ctx, derived); err != nil {
		g.logger.Error("audit append failed for key derivation", "requester", req.RequesterID, "error", err)
	}

	distributed := &model.AuditEvent{
		EventType:  model.EventKeyDistributed,
		Actor:      "key-holder",
		Target:     req.RequesterID,
		RangeStart: &rangeStart,
		RangeEnd:   &rangeEnd,
		Success:    true,
		Details:    map[string]string{"key_count": strconv.Itoa(len(d.Keys))},
	}
	if err := g.trail.Append(ctx, distributed); err != nil {
		g.logger.Error("audit append failed for key distribution", "requester", req.RequesterID, "error", err)
	}
}

// writeHistory records the denormalized AccessRequestRecord row. Best-effort:
// the trail is the source of truth and a missing history row must never
// change the authorization answer.
func (g *AuthorizationGateway) writeHistory(ctx context.Context, req model.AccessRequest, d *keyholder.Decision) {
	rec := &model.AccessRequestRecord{
		ID:           uuid.Must(uuid.NewV7()).String(),
		RequesterID:  req.RequesterID,
		RangeStart:   req.TimeRange.Start,
		RangeEnd:     req.TimeRange.End,
		Purpose:      req.Purpose,
		Granted:      d.Granted,
		DenialReason: d.DenialReason,
		KeyCount:     len(d.Keys),
	}
	if err := g.store.CreateAccessRequest(ctx, rec); err != nil {
		g.logger.Warn("history write failed", "requester", req.RequesterID, "error", err)
	}
}

func requestDetails(req model.AccessRequest) map[string]string {
	details := map[string]string{}
	if req.Purpose != "" {
		details["purpose"] = req.Purpose
	}
	for k, v := range req.Metadata {
		details["meta."+k] = v
	}
	if len(details) == 0 {
		return nil
	}
	return details
}
