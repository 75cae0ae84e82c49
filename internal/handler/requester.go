package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/SiwatS/chronocrypt-kms/internal/model"
	"github.com/SiwatS/chronocrypt-kms/internal/service"
	"github.com/SiwatS/chronocrypt-kms/internal/store"
)

// RequesterHandler manages requesters and their API key credentials.
type RequesterHandler struct {
	store *store.Store
	auth  *service.APIKeyAuthenticator
}

// NewRequesterHandler creates a RequesterHandler.
func NewRequesterHandler(st *store.Store, auth *service.APIKeyAuthenticator) *RequesterHandler {
	return &RequesterHandler{store: st, auth: auth}
}

// ---------------------------------------------------------------------------
// Requester CRUD
// ---------------------------------------------------------------------------

// createRequesterRequest is the expected payload for CreateRequester.
type createRequesterRequest struct {
	Name     string            `json:"name"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ListRequesters returns all requesters.
// GET /api/v1/requesters
func (h *RequesterHandler) ListRequesters(w http.ResponseWriter, r *http.Request) {
	requesters, err := h.store.ListRequesters(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list requesters")
		return
	}

	resources := make([]map[string]interface{}, 0, len(requesters))
	for i := range requesters {
		resources = append(resources, requesterToMap(&requesters[i]))
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: resources,
		Meta:     &model.ResponseMeta{Count: len(resources)},
	})
}

// CreateRequester registers a new requester identity.
// POST /api/v1/requesters
func (h *RequesterHandler) CreateRequester(w http.ResponseWriter, r *http.Request) {
	var req createRequesterRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Requester name is required")
		return
	}

	requester := &model.Requester{
		ID:       uuid.New().String(),
		Name:     req.Name,
		Enabled:  true,
		Metadata: req.Metadata,
	}

	if err := h.store.CreateRequester(r.Context(), requester); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create requester")
		return
	}

	writeJSON(w, http.StatusCreated, requesterToMap(requester))
}

// GetRequester returns a single requester by ID.
// GET /api/v1/requesters/{requesterId}
func (h *RequesterHandler) GetRequester(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "requesterId")

	requester, err := h.store.GetRequester(r.Context(), id)
	if err != nil {
		if notFound(err) {
			writeError(w, http.StatusNotFound, "Requester not found: "+id)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get requester")
		return
	}

	writeJSON(w, http.StatusOK, requesterToMap(requester))
}

// updateRequesterRequest is the expected payload for UpdateRequester.
// Enabled is a pointer so "not provided" and "false" are distinguishable.
type updateRequesterRequest struct {
	Name     string            `json:"name"`
	Enabled  *bool             `json:"enabled"`
	Metadata map[string]string `json:"metadata"`
}

// UpdateRequester modifies an existing requester. Disabling one immediately
// invalidates all of its credentials: the authenticator checks the owner's
// enabled flag on every validation.
// PUT /api/v1/requesters/{requesterId}
func (h *RequesterHandler) UpdateRequester(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "requesterId")

	existing, err := h.store.GetRequester(r.Context(), id)
	if err != nil {
		if notFound(err) {
			writeError(w, http.StatusNotFound, "Requester not found: "+id)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get requester")
		return
	}

	var req updateRequesterRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if req.Name != "" {
		existing.Name = req.Name
	}
	if req.Enabled != nil {
		existing.Enabled = *req.Enabled
	}
	if req.Metadata != nil {
		existing.Metadata = req.Metadata
	}

	if err := h.store.UpdateRequester(r.Context(), existing); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update requester")
		return
	}

	writeJSON(w, http.StatusOK, requesterToMap(existing))
}

// DeleteRequester removes a requester. Owned credentials are cascade
// deleted; audit events referencing the requester remain.
// DELETE /api/v1/requesters/{requesterId}
func (h *RequesterHandler) DeleteRequester(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "requesterId")

	if err := h.store.DeleteRequester(r.Context(), id); err != nil {
		if notFound(err) {
			writeError(w, http.StatusNotFound, "Requester not found: "+id)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete requester")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Requester deleted",
	})
}

// ---------------------------------------------------------------------------
// API key management
// ---------------------------------------------------------------------------

// createKeyRequest is the expected payload for CreateKey.
type createKeyRequest struct {
	Label     string     `json:"label"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// createKeyResponse includes the plaintext secret (shown once only).
type createKeyResponse struct {
	ID          int64      `json:"id"`
	KeyID       string     `json:"key_id"`
	Secret      string     `json:"secret"` // Plaintext, shown ONCE.
	Credential  string     `json:"credential"` // "<keyId>.<secret>", ready for the ApiKey header.
	RequesterID string     `json:"requester_id"`
	Label       string     `json:"label"`
	Enabled     bool       `json:"enabled"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ListKeys returns all credentials owned by a requester (hashes excluded).
// GET /api/v1/requesters/{requesterId}/keys
func (h *RequesterHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	requesterID := chi.URLParam(r, "requesterId")

	if _, err := h.store.GetRequester(r.Context(), requesterID); err != nil {
		if notFound(err) {
			writeError(w, http.StatusNotFound, "Requester not found: "+requesterID)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get requester")
		return
	}

	keys, err := h.store.ListAPIKeysByRequester(r.Context(), requesterID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list keys")
		return
	}

	resources := make([]map[string]interface{}, 0, len(keys))
	for i := range keys {
		resources = append(resources, apiKeyToMap(&keys[i]))
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: resources,
		Meta:     &model.ResponseMeta{Count: len(resources)},
	})
}

// CreateKey generates a new credential for a requester. The plaintext secret
// appears in this response and nowhere else, ever: storage holds only the
// bcrypt hash.
// POST /api/v1/requesters/{requesterId}/keys
func (h *RequesterHandler) CreateKey(w http.ResponseWriter, r *http.Request) {
	requesterID := chi.URLParam(r, "requesterId")

	if _, err := h.store.GetRequester(r.Context(), requesterID); err != nil {
		if notFound(err) {
			writeError(w, http.StatusNotFound, "Requester not found: "+requesterID)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get requester")
		return
	}

	var req createKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	keyID, secret, err := h.auth.GenerateKeyPair()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to generate key pair")
		return
	}
	hash, err := h.auth.HashSecret(secret)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to hash secret")
		return
	}

	key := &model.APIKey{
		KeyID:       keyID,
		SecretHash:  hash,
		RequesterID: requesterID,
		Label:       req.Label,
		Enabled:     true,
		ExpiresAt:   req.ExpiresAt,
	}

	if err := h.store.CreateAPIKey(r.Context(), key); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save key")
		return
	}

	writeJSON(w, http.StatusCreated, createKeyResponse{
		ID:          key.ID,
		KeyID:       keyID,
		Secret:      secret,
		Credential:  keyID + "." + secret,
		RequesterID: requesterID,
		Label:       key.Label,
		Enabled:     key.Enabled,
		ExpiresAt:   key.ExpiresAt,
		CreatedAt:   key.CreatedAt,
	})
}

// RevokeKey disables a credential by its public key identifier. The row is
// kept so listings and audit context survive.
// DELETE /api/v1/keys/{keyId}
func (h *RequesterHandler) RevokeKey(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "keyId")

	if err := h.store.SetAPIKeyEnabled(r.Context(), keyID, false); err != nil {
		if notFound(err) {
			writeError(w, http.StatusNotFound, "Key not found: "+keyID)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to revoke key")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Key revoked",
	})
}

// setKeyEnabledRequest is the expected payload for SetKeyEnabled.
type setKeyEnabledRequest struct {
	Enabled *bool `json:"enabled"`
}

// SetKeyEnabled enables or disables a credential.
// PATCH /api/v1/keys/{keyId}
func (h *RequesterHandler) SetKeyEnabled(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "keyId")

	var req setKeyEnabledRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}

	if err := h.store.SetAPIKeyEnabled(r.Context(), keyID, *req.Enabled); err != nil {
		if notFound(err) {
			writeError(w, http.StatusNotFound, "Key not found: "+keyID)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to update key")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"key_id":  keyID,
		"enabled": *req.Enabled,
	})
}

// ---------------------------------------------------------------------------
// Serialization helpers (never expose secret hashes)
// ---------------------------------------------------------------------------

func requesterToMap(requester *model.Requester) map[string]interface{} {
	m := map[string]interface{}{
		"id":         requester.ID,
		"name":       requester.Name,
		"enabled":    requester.Enabled,
		"created_at": requester.CreatedAt,
		"updated_at": requester.UpdatedAt,
	}
	if len(requester.Metadata) > 0 {
		m["metadata"] = requester.Metadata
	}
	return m
}

func apiKeyToMap(key *model.APIKey) map[string]interface{} {
	m := map[string]interface{}{
		"id":           key.ID,
		"key_id":       key.KeyID,
		"requester_id": key.RequesterID,
		"label":        key.Label,
		"enabled":      key.Enabled,
		"created_at":   key.CreatedAt,
	}
	if key.ExpiresAt != nil {
		m["expires_at"] = key.ExpiresAt
	}
	if key.LastUsed != nil {
		m["last_used"] = key.LastUsed
	}
	return m
}
