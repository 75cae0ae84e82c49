package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/SiwatS/chronocrypt-kms/internal/model"
	"github.com/SiwatS/chronocrypt-kms/internal/service"
	"github.com/SiwatS/chronocrypt-kms/internal/store"
)

type fakeAdminStore struct {
	admins map[int64]*model.Admin
}

func (f *fakeAdminStore) GetAdmin(_ context.Context, id int64) (*model.Admin, error) {
	if a, ok := f.admins[id]; ok {
		copied := *a
		return &copied, nil
	}
	return nil, store.ErrNotFound
}

type authFixture struct {
	auth       *service.APIKeyAuthenticator
	sessions   *service.SessionManager
	admins     *fakeAdminStore
	credential string
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	st, err := store.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	auth := service.NewAPIKeyAuthenticator(st, logger, 4)

	ctx := context.Background()
	requester := &model.Requester{ID: "req-1", Name: "svc", Enabled: true}
	if err := st.CreateRequester(ctx, requester); err != nil {
		t.Fatalf("CreateRequester: %v", err)
	}
	keyID, secret, err := auth.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	hash, err := auth.HashSecret(secret)
	if err != nil {
		t.Fatalf("HashSecret: %v", err)
	}
	if err := st.CreateAPIKey(ctx, &model.APIKey{
		KeyID: keyID, SecretHash: hash, RequesterID: "req-1", Enabled: true,
	}); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	sessions := service.NewSessionManager(time.Minute)
	t.Cleanup(sessions.Stop)

	return &authFixture{
		auth:     auth,
		sessions: sessions,
		admins: &fakeAdminStore{admins: map[int64]*model.Admin{
			1: {ID: 1, Email: "root@example.com", IsActive: true},
		}},
		credential: keyID + "." + secret,
	}
}

// exercise runs one request through Authenticate and captures the principal
// the inner handler observed.
func (f *authFixture) exercise(t *testing.T, authHeader string) (*httptest.ResponseRecorder, *Principal) {
	t.Helper()

	var seen *Principal
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetPrincipal(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	Authenticate(f.auth, f.sessions, f.admins)(inner).ServeHTTP(rec, req)
	return rec, seen
}

func TestSplitAuthHeader(t *testing.T) {
	tests := []struct {
		header string
		scheme string
		value  string
		ok     bool
	}{
		{"", "", "", false},
		{"Bearer", "", "", false},
		{"Bearer ", "", "", false},
		{"Bearer tok", "bearer", "tok", true},
		{"BEARER tok", "bearer", "tok", true},
		{"ApiKey ck_a.cs_b", "apikey", "ck_a.cs_b", true},
		{"Basic dXNlcjpwYXNz", "basic", "dXNlcjpwYXNz", true},
	}
	for _, tt := range tests {
		scheme, value, ok := splitAuthHeader(tt.header)
		if scheme != tt.scheme || value != tt.value || ok != tt.ok {
			t.Errorf("splitAuthHeader(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.header, scheme, value, ok, tt.scheme, tt.value, tt.ok)
		}
	}
}

func TestAuthenticateAPIKey(t *testing.T) {
	f := newAuthFixture(t)

	rec, principal := f.exercise(t, "ApiKey "+f.credential)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rec.Code, rec.Body.String())
	}
	if principal == nil || principal.Type != "requester" || principal.RequesterID != "req-1" {
		t.Errorf("unexpected principal %+v", principal)
	}
	if principal.IsAdmin {
		t.Error("API key principal must not be admin")
	}
}

func TestAuthenticateRejectsBadCredential(t *testing.T) {
	f := newAuthFixture(t)

	for _, header := range []string{
		"",
		"ApiKey not-a-credential",
		"ApiKey " + f.credential + "x",
		"Bearer no-such-session",
		"Digest something",
	} {
		rec, principal := f.exercise(t, header)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("header %q: got %d, want 401", header, rec.Code)
		}
		if principal != nil {
			t.Errorf("header %q: handler ran with principal %+v", header, principal)
		}
		if !strings.Contains(rec.Body.String(), "Invalid or missing credentials") {
			t.Errorf("header %q: body %q is not the generic message", header, rec.Body.String())
		}
	}
}

func TestAuthenticateBearerSession(t *testing.T) {
	f := newAuthFixture(t)

	token, err := f.sessions.Create(1, "root@example.com")
	if err != nil {
		t.Fatalf("Create session: %v", err)
	}

	rec, principal := f.exercise(t, "Bearer "+token)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rec.Code, rec.Body.String())
	}
	if principal == nil || principal.Type != "admin" || principal.AdminID != 1 || !principal.IsAdmin {
		t.Errorf("unexpected principal %+v", principal)
	}
	if principal.SessionID != token {
		t.Errorf("principal session %q, want %q", principal.SessionID, token)
	}
}

func TestAuthenticateEvictsSessionOfDisabledAdmin(t *testing.T) {
	f := newAuthFixture(t)

	token, err := f.sessions.Create(1, "root@example.com")
	if err != nil {
		t.Fatalf("Create session: %v", err)
	}
	f.admins.admins[1].IsActive = false

	rec, _ := f.exercise(t, "Bearer "+token)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("disabled admin got %d, want 401", rec.Code)
	}
	// The session itself must be gone, not just rejected.
	if f.sessions.Validate(token) != nil {
		t.Error("session survived its admin being disabled")
	}
}

func TestAuthenticateEvictsSessionOfDeletedAdmin(t *testing.T) {
	f := newAuthFixture(t)

	token, err := f.sessions.Create(7, "gone@example.com")
	if err != nil {
		t.Fatalf("Create session: %v", err)
	}

	rec, _ := f.exercise(t, "Bearer "+token)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("deleted admin got %d, want 401", rec.Code)
	}
	if f.sessions.Validate(token) != nil {
		t.Error("session survived its admin being deleted")
	}
}

func TestRequireAdmin(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	wrapped := RequireAdmin()(inner)

	run := func(p *Principal) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if p != nil {
			req = req.WithContext(context.WithValue(req.Context(), AuthPrincipalKey, p))
		}
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req)
		return rec
	}

	if rec := run(&Principal{Type: "admin", IsAdmin: true}); rec.Code != http.StatusOK {
		t.Errorf("admin got %d, want 200", rec.Code)
	}
	rec := run(&Principal{Type: "requester", RequesterID: "req-1"})
	if rec.Code != http.StatusForbidden {
		t.Errorf("requester got %d, want 403", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Admin access required") {
		t.Errorf("unexpected 403 body %q", rec.Body.String())
	}
	if rec := run(nil); rec.Code != http.StatusForbidden {
		t.Errorf("missing principal got %d, want 403", rec.Code)
	}
}

func TestGetPrincipalMissing(t *testing.T) {
	if p := GetPrincipal(context.Background()); p != nil {
		t.Errorf("got %+v, want nil", p)
	}
}
