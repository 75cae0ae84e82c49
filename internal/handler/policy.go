package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/SiwatS/chronocrypt-kms/internal/model"
	"github.com/SiwatS/chronocrypt-kms/internal/store"
)

// PolicyHandler manages access policies. Rules are opaque documents passed
// through to the key-holder; the console never evaluates them.
type PolicyHandler struct {
	store *store.Store
}

// NewPolicyHandler creates a PolicyHandler.
func NewPolicyHandler(st *store.Store) *PolicyHandler {
	return &PolicyHandler{store: st}
}

// policyRequest is the expected payload for create and update.
type policyRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Priority    *int            `json:"priority"`
	Enabled     *bool           `json:"enabled"`
	Rule        json.RawMessage `json:"rule"`
}

// ListPolicies returns all policies ordered by priority.
// GET /api/v1/policies
func (h *PolicyHandler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.store.ListPolicies(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list policies")
		return
	}

	resources := make([]map[string]interface{}, 0, len(policies))
	for i := range policies {
		resources = append(resources, policyToMap(&policies[i]))
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: resources,
		Meta:     &model.ResponseMeta{Count: len(resources)},
	})
}

// CreatePolicy adds a new policy.
// POST /api/v1/policies
func (h *PolicyHandler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req policyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Policy name is required")
		return
	}

	if _, err := h.store.GetPolicyByName(r.Context(), req.Name); err == nil {
		writeError(w, http.StatusConflict, "Policy with this name already exists: "+req.Name)
		return
	}

	policy := &model.Policy{
		Name:        req.Name,
		Description: req.Description,
		Priority:    100,
		Enabled:     true,
		Rule:        string(req.Rule),
	}
	if req.Priority != nil {
		policy.Priority = *req.Priority
	}
	if req.Enabled != nil {
		policy.Enabled = *req.Enabled
	}

	if err := h.store.CreatePolicy(r.Context(), policy); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create policy")
		return
	}

	writeJSON(w, http.StatusCreated, policyToMap(policy))
}

// GetPolicy returns a single policy by ID.
// GET /api/v1/policies/{policyId}
func (h *PolicyHandler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	id, ok := policyID(w, r)
	if !ok {
		return
	}

	policy, err := h.store.GetPolicy(r.Context(), id)
	if err != nil {
		if notFound(err) {
			writeError(w, http.StatusNotFound, "Policy not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get policy")
		return
	}

	writeJSON(w, http.StatusOK, policyToMap(policy))
}

// UpdatePolicy modifies an existing policy. Built-in policies can be
// reprioritized and toggled but keep their name and rule.
// PUT /api/v1/policies/{policyId}
func (h *PolicyHandler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	id, ok := policyID(w, r)
	if !ok {
		return
	}

	existing, err := h.store.GetPolicy(r.Context(), id)
	if err != nil {
		if notFound(err) {
			writeError(w, http.StatusNotFound, "Policy not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get policy")
		return
	}

	var req policyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if existing.BuiltIn {
		if req.Name != "" && req.Name != existing.Name {
			writeError(w, http.StatusConflict, "Cannot rename a built-in policy")
			return
		}
		if len(req.Rule) > 0 {
			writeError(w, http.StatusConflict, "Cannot change the rule of a built-in policy")
			return
		}
	} else {
		if req.Name != "" {
			existing.Name = req.Name
		}
		if len(req.Rule) > 0 {
			existing.Rule = string(req.Rule)
		}
	}
	if req.Description != "" {
		existing.Description = req.Description
	}
	if req.Priority != nil {
		existing.Priority = *req.Priority
	}
	if req.Enabled != nil {
		existing.Enabled = *req.Enabled
	}

	if err := h.store.UpdatePolicy(r.Context(), existing); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update policy")
		return
	}

	writeJSON(w, http.StatusOK, policyToMap(existing))
}

// DeletePolicy removes a policy. Built-in policies cannot be deleted.
// DELETE /api/v1/policies/{policyId}
func (h *PolicyHandler) DeletePolicy(w http.ResponseWriter, r *http.Request) {
	id, ok := policyID(w, r)
	if !ok {
		return
	}

	if err := h.store.DeletePolicy(r.Context(), id); err != nil {
		if notFound(err) {
			writeError(w, http.StatusNotFound, "Policy not found")
			return
		}
		if errors.Is(err, store.ErrProtected) {
			writeError(w, http.StatusConflict, "Built-in policies cannot be deleted")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete policy")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Policy deleted",
	})
}

func policyID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "policyId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid policy ID")
		return 0, false
	}
	return id, true
}

func policyToMap(policy *model.Policy) map[string]interface{} {
	m := map[string]interface{}{
		"id":          policy.ID,
		"name":        policy.Name,
		"description": policy.Description,
		"priority":    policy.Priority,
		"enabled":     policy.Enabled,
		"built_in":    policy.BuiltIn,
		"created_at":  policy.CreatedAt,
		"updated_at":  policy.UpdatedAt,
	}
	if policy.Rule != "" {
		m["rule"] = json.RawMessage(policy.Rule)
	}
	return m
}
