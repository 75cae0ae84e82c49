package handler

import (
	"net/http"

	"github.com/SiwatS/chronocrypt-kms/internal/audit"
	"github.com/SiwatS/chronocrypt-kms/internal/model"
	"github.com/SiwatS/chronocrypt-kms/internal/store"
)

// AuditHandler exposes read-only views of the audit trail.
type AuditHandler struct {
	trail *audit.Trail
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(trail *audit.Trail) *AuditHandler {
	return &AuditHandler{trail: trail}
}

// ListEvents returns audit events matching the query filters. The actor
// filter matches events where the given identity appears as either actor or
// target, so one requester's full story comes back in a single query.
// GET /api/v1/audit
func (h *AuditHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	filter := store.AuditFilter{
		Start:     queryTime(r, "start"),
		End:       queryTime(r, "end"),
		EventType: queryString(r, "event_type"),
		Actor:     queryString(r, "actor"),
	}

	events, err := h.trail.Retrieve(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to retrieve audit events")
		return
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: events,
		Meta:     &model.ResponseMeta{Count: len(events)},
	})
}

// Statistics returns aggregate counts over the filtered window.
// GET /api/v1/audit/statistics
func (h *AuditHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	filter := store.AuditFilter{
		Start: queryTime(r, "start"),
		End:   queryTime(r, "end"),
		Actor: queryString(r, "actor"),
	}

	stats, err := h.trail.Statistics(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute statistics")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}
