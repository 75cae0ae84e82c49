package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/SiwatS/chronocrypt-kms/internal/model"
)

// AuditFilter narrows an audit trail query. Zero-value fields are ignored;
// the zero filter matches everything.
type AuditFilter struct {
	Start     *time.Time
	End       *time.Time
	EventType string
	Actor     string
}

// auditRow maps 1:1 to the audit_events table. Details are stored as a JSON
// document in details_json.
type auditRow struct {
	ID          string    `db:"id"`
	Timestamp   time.Time `db:"ts"`
	EventType   string    `db:"event_type"`
	Actor       string    `db:"actor"`
	Target      string    `db:"target"`
	RangeStart  *int64    `db:"range_start"`
	RangeEnd    *int64    `db:"range_end"`
	Success     bool      `db:"success"`
	DetailsJSON string    `db:"details_json"`
}

func auditRowFromModel(e *model.AuditEvent) (auditRow, error) {
	details := e.Details
	if details == nil {
		details = map[string]string{}
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return auditRow{}, fmt.Errorf("marshal details: %w", err)
	}
	return auditRow{
		ID:          e.ID,
		Timestamp:   e.Timestamp,
		EventType:   e.EventType,
		Actor:       e.Actor,
		Target:      e.Target,
		RangeStart:  e.RangeStart,
		RangeEnd:    e.RangeEnd,
		Success:     e.Success,
		DetailsJSON: string(detailsJSON),
	}, nil
}

func (r auditRow) toModel() (model.AuditEvent, error) {
	var details map[string]string
	if r.DetailsJSON != "" && r.DetailsJSON != "{}" {
		if err := json.Unmarshal([]byte(r.DetailsJSON), &details); err != nil {
			return model.AuditEvent{}, fmt.Errorf("unmarshal details: %w", err)
		}
	}
	return model.AuditEvent{
		ID:         r.ID,
		Timestamp:  r.Timestamp,
		EventType:  r.EventType,
		Actor:      r.Actor,
		Target:     r.Target,
		RangeStart: r.RangeStart,
		RangeEnd:   r.RangeEnd,
		Success:    r.Success,
		Details:    details,
	}, nil
}

// AppendAuditEvent inserts one immutable event. There is deliberately no
// update or delete counterpart; the table is insert-only.
func (s *Store) AppendAuditEvent(ctx context.Context, e *model.AuditEvent) error {
	row, err := auditRowFromModel(e)
	if err != nil {
		return err
	}

	const q = `INSERT INTO audit_events
		(id, ts, event_type, actor, target, range_start, range_end, success, details_json)
		VALUES
		(:id, :ts, :event_type, :actor, :target, :range_start, :range_end, :success, :details_json)`

	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListAuditEvents returns events matching the filter, ordered by timestamp
// then ID. UUIDv7 IDs keep the order deterministic when timestamps collide.
func (s *Store) ListAuditEvents(ctx context.Context, f AuditFilter) ([]model.AuditEvent, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.Start != nil {
		where = append(where, "ts >= ?")
		args = append(args, f.Start.UTC())
	}
	if f.End != nil {
		where = append(where, "ts <= ?")
		args = append(args, f.End.UTC())
	}
	if f.EventType != "" {
		where = append(where, "event_type = ?")
		args = append(args, f.EventType)
	}
	if f.Actor != "" {
		where = append(where, "(actor = ? OR target = ?)")
		args = append(args, f.Actor, f.Actor)
	}

	q := "SELECT * FROM audit_events"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY ts, id"

	var rows []auditRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}

	events := make([]model.AuditEvent, 0, len(rows))
	for _, row := range rows {
		e, err := row.toModel()
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}
