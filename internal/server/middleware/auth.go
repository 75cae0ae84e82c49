package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/SiwatS/chronocrypt-kms/internal/model"
	"github.com/SiwatS/chronocrypt-kms/internal/service"
)

type contextKeyAuth string

const (
	// AuthPrincipalKey is the context key for the authenticated principal.
	AuthPrincipalKey contextKeyAuth = "auth_principal"
)

// Principal represents the authenticated identity making the request: either
// an admin with a live session or a requester holding an API key credential.
type Principal struct {
	Type        string // "admin" or "requester"
	AdminID     int64
	AdminEmail  string
	SessionID   string
	RequesterID string
	IsAdmin     bool
}

// AdminStore is the slice of the store the middleware needs to re-verify the
// admin bound to a session.
type AdminStore interface {
	GetAdmin(ctx context.Context, id int64) (*model.Admin, error)
}

// Authenticate returns an HTTP middleware that validates the request's
// Authorization header. Two schemes are supported:
//
//  1. "ApiKey <keyId>.<secret>" for service consumers
//  2. "Bearer <sessionId>" for admin users
//
// Every failure yields the same generic 401 so a probing client learns
// nothing about which check rejected it. For admin sessions the bound
// account is re-verified on every request; a deleted or disabled admin has
// its session evicted immediately even if the token itself has not expired.
func Authenticate(auth *service.APIKeyAuthenticator, sessions *service.SessionManager, admins AdminStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scheme, value, ok := splitAuthHeader(r.Header.Get("Authorization"))
			if !ok {
				writeAuthError(w, http.StatusUnauthorized)
				return
			}

			var principal *Principal
			switch scheme {
			case "apikey":
				requester, err := auth.Validate(r.Context(), value)
				if err != nil {
					writeAuthError(w, http.StatusUnauthorized)
					return
				}
				principal = &Principal{
					Type:        "requester",
					RequesterID: requester.ID,
				}

			case "bearer":
				sess := sessions.Validate(value)
				if sess == nil {
					writeAuthError(w, http.StatusUnauthorized)
					return
				}
				admin, err := admins.GetAdmin(r.Context(), sess.AdminID)
				if err != nil || !admin.IsActive {
					sessions.Delete(value)
					writeAuthError(w, http.StatusUnauthorized)
					return
				}
				principal = &Principal{
					Type:       "admin",
					AdminID:    admin.ID,
					AdminEmail: admin.Email,
					SessionID:  value,
					IsAdmin:    true,
				}

			default:
				writeAuthError(w, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), AuthPrincipalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin returns an HTTP middleware that enforces admin-level access.
// It must be used after Authenticate in the middleware chain.
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipal(r.Context())
			if principal == nil || !principal.IsAdmin {
				writeAuthError(w, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetPrincipal extracts the authenticated principal from the context.
// Returns nil if no principal is present (i.e., unauthenticated request).
func GetPrincipal(ctx context.Context) *Principal {
	if p, ok := ctx.Value(AuthPrincipalKey).(*Principal); ok {
		return p
	}
	return nil
}

func splitAuthHeader(header string) (scheme, value string, ok bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", "", false
	}
	return strings.ToLower(parts[0]), parts[1], true
}

func writeAuthError(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Manually construct JSON to avoid an import cycle with the handler
	// package. The 401 message stays generic on purpose.
	if status == http.StatusForbidden {
		w.Write([]byte(`{"error":{"code":403,"message":"Admin access required"}}`))
		return
	}
	w.Write([]byte(`{"error":{"code":401,"message":"Invalid or missing credentials"}}`))
}
