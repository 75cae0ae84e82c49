package handler

import (
	"errors"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/SiwatS/chronocrypt-kms/internal/model"
	"github.com/SiwatS/chronocrypt-kms/internal/server/middleware"
	"github.com/SiwatS/chronocrypt-kms/internal/service"
	"github.com/SiwatS/chronocrypt-kms/internal/store"
)

// SystemHandler manages admin accounts and their sessions: login, logout,
// session check, first-run setup, and admin CRUD.
type SystemHandler struct {
	store    *store.Store
	sessions *service.SessionManager
	ttl      time.Duration
	cost     int
}

// NewSystemHandler creates a SystemHandler. cost is the bcrypt work factor
// for admin passwords; cost <= 0 selects service.DefaultBcryptCost.
func NewSystemHandler(st *store.Store, sessions *service.SessionManager, ttl time.Duration, cost int) *SystemHandler {
	if ttl <= 0 {
		ttl = service.DefaultSessionTTL
	}
	if cost <= 0 {
		cost = service.DefaultBcryptCost
	}
	return &SystemHandler{
		store:    st,
		sessions: sessions,
		ttl:      ttl,
		cost:     cost,
	}
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

// loginRequest is the expected payload for the Login endpoint.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginResponse is the response payload for a successful login.
type loginResponse struct {
	Token     string `json:"session_token"`
	TokenType string `json:"token_type"`
	ExpiresIn int    `json:"expires_in"`
	AdminID   int64  `json:"admin_id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
}

// Login authenticates an admin and issues a session token.
// POST /api/v1/admin/session
func (h *SystemHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	admin, err := h.store.GetAdminByEmail(r.Context(), req.Email)
	if err != nil {
		// Unknown account and wrong password are indistinguishable on purpose.
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if !admin.IsActive {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	token, err := h.sessions.Create(admin.ID, admin.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}

	// Best-effort last-login update; an error here must not fail the login.
	_ = h.store.UpdateAdminLastLogin(r.Context(), admin.ID)

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		TokenType: "bearer",
		ExpiresIn: int(h.ttl.Seconds()),
		AdminID:   admin.ID,
		Email:     admin.Email,
		Name:      admin.Name,
	})
}

// Logout destroys the current session. Idempotent.
// DELETE /api/v1/admin/session
func (h *SystemHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if principal := middleware.GetPrincipal(r.Context()); principal != nil && principal.SessionID != "" {
		h.sessions.Delete(principal.SessionID)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Session destroyed",
	})
}

// CheckSession reports on the session that authenticated this request.
// GET /api/v1/admin/session
func (h *SystemHandler) CheckSession(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil || !principal.IsAdmin {
		writeError(w, http.StatusUnauthorized, "Invalid or missing credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"admin_id": principal.AdminID,
		"email":    principal.AdminEmail,
		"valid":    true,
	})
}

// ---------------------------------------------------------------------------
// First-run setup
// ---------------------------------------------------------------------------

// setupRequest is the expected payload for the initial setup endpoint.
type setupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// Setup creates the first admin account. Permitted only while zero admin
// accounts exist; afterwards it always answers 409.
// POST /api/v1/admin/setup
func (h *SystemHandler) Setup(w http.ResponseWriter, r *http.Request) {
	hasAdmin, err := h.store.HasAnyAdmin(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Setup check failed")
		return
	}
	if hasAdmin {
		writeError(w, http.StatusConflict, "Setup already completed")
		return
	}

	var req setupRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	admin, status, msg := h.buildAdmin(req.Email, req.Password, req.Name)
	if admin == nil {
		writeError(w, status, msg)
		return
	}

	if err := h.store.CreateAdmin(r.Context(), admin); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create admin")
		return
	}

	writeJSON(w, http.StatusCreated, adminToMap(admin))
}

// ---------------------------------------------------------------------------
// Admin management
// ---------------------------------------------------------------------------

// ListAdmins returns all admin accounts.
// GET /api/v1/admin
func (h *SystemHandler) ListAdmins(w http.ResponseWriter, r *http.Request) {
	admins, err := h.store.ListAdmins(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list admins")
		return
	}

	resources := make([]map[string]interface{}, 0, len(admins))
	for i := range admins {
		resources = append(resources, adminToMap(&admins[i]))
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: resources,
		Meta:     &model.ResponseMeta{Count: len(resources)},
	})
}

// CreateAdmin creates an additional admin account.
// POST /api/v1/admin
func (h *SystemHandler) CreateAdmin(w http.ResponseWriter, r *http.Request) {
	var req setupRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if existing, err := h.store.GetAdminByEmail(r.Context(), req.Email); err == nil && existing != nil {
		writeError(w, http.StatusConflict, "Admin with this email already exists")
		return
	}

	admin, status, msg := h.buildAdmin(req.Email, req.Password, req.Name)
	if admin == nil {
		writeError(w, status, msg)
		return
	}

	if err := h.store.CreateAdmin(r.Context(), admin); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create admin")
		return
	}

	writeJSON(w, http.StatusCreated, adminToMap(admin))
}

// buildAdmin validates the email/password pair and returns a ready-to-insert
// admin, or (nil, status, message) on validation failure.
func (h *SystemHandler) buildAdmin(email, password, name string) (*model.Admin, int, string) {
	if email == "" {
		return nil, http.StatusBadRequest, "Email is required"
	}
	if len(password) < 8 {
		return nil, http.StatusBadRequest, "Password must be at least 8 characters"
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return nil, http.StatusInternalServerError, "Failed to hash password"
	}

	return &model.Admin{
		Email:        email,
		PasswordHash: string(hash),
		Name:         name,
		IsActive:     true,
	}, 0, ""
}

func adminToMap(admin *model.Admin) map[string]interface{} {
	m := map[string]interface{}{
		"id":         admin.ID,
		"email":      admin.Email,
		"name":       admin.Name,
		"is_active":  admin.IsActive,
		"created_at": admin.CreatedAt,
		"updated_at": admin.UpdatedAt,
	}
	if admin.LastLoginAt != nil {
		m["last_login_at"] = admin.LastLoginAt
	}
	return m
}

// notFound tells store.ErrNotFound apart from other failures for handlers
// that map it to a 404.
func notFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
