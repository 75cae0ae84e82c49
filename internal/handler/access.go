package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/SiwatS/chronocrypt-kms/internal/audit"
	"github.com/SiwatS/chronocrypt-kms/internal/model"
	"github.com/SiwatS/chronocrypt-kms/internal/server/middleware"
	"github.com/SiwatS/chronocrypt-kms/internal/service"
	"github.com/SiwatS/chronocrypt-kms/internal/store"
)

// defaultRequestWindow bounds the correlation scan when the caller gives no
// time range. Correlation is quadratic in the window, so it must be bounded.
const defaultRequestWindow = 30 * 24 * time.Hour

// AccessHandler exposes key-access submission and request-status listing.
type AccessHandler struct {
	gateway    *service.AuthorizationGateway
	correlator *audit.Correlator
	store      *store.Store
}

// NewAccessHandler creates an AccessHandler.
func NewAccessHandler(gw *service.AuthorizationGateway, corr *audit.Correlator, st *store.Store) *AccessHandler {
	return &AccessHandler{gateway: gw, correlator: corr, store: st}
}

// submitRequest is the expected payload for SubmitRequest. The requester
// identity comes from the authenticated credential, never from the body.
type submitRequest struct {
	StartTime *int64            `json:"start_time"`
	EndTime   *int64            `json:"end_time"`
	Purpose   string            `json:"purpose,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// SubmitRequest asks the key-holder for keys covering a time range. Requires
// ApiKey authentication; admins manage the console but do not request keys.
// POST /api/v1/requests
func (h *AccessHandler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil || principal.RequesterID == "" {
		writeError(w, http.StatusForbidden, "Key access requires an API key credential")
		return
	}

	var req submitRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.StartTime == nil || req.EndTime == nil {
		writeError(w, http.StatusBadRequest, "start_time and end_time are required")
		return
	}

	result, err := h.gateway.Authorize(r.Context(), model.AccessRequest{
		RequesterID: principal.RequesterID,
		TimeRange:   model.TimeRange{Start: *req.StartTime, End: *req.EndTime},
		Purpose:     req.Purpose,
		Metadata:    req.Metadata,
	})
	if err != nil {
		var verr *service.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		writeError(w, http.StatusBadGateway, "Key-holder unavailable")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ListRequests reconstructs request statuses from the audit trail. Admin
// only. Defaults to the last 30 days when no window is given; a requester_id
// filter narrows to one requester's requests.
// GET /api/v1/requests
func (h *AccessHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	filter := store.AuditFilter{
		Actor: queryString(r, "requester_id"),
	}

	filter.Start = queryTime(r, "start")
	filter.End = queryTime(r, "end")

	if filter.Start == nil {
		from := time.Now().UTC().Add(-defaultRequestWindow)
		filter.Start = &from
	}

	requests, err := h.correlator.Correlate(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to correlate requests")
		return
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: requests,
		Meta:     &model.ResponseMeta{Count: len(requests)},
	})
}

// ListHistory returns the denormalized request history rows. Admin only.
// Faster than correlation but best-effort: rows the history writer failed to
// persist will be missing here while still present in the trail.
// GET /api/v1/requests/history
func (h *AccessHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	requesterID := queryString(r, "requester_id")
	limit := clampInt(queryInt(r, "limit", 100), 1, 1000)

	records, err := h.store.ListAccessRequests(r.Context(), requesterID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list request history")
		return
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: records,
		Meta:     &model.ResponseMeta{Count: len(records), Limit: limit},
	})
}
