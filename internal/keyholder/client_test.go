package keyholder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/SiwatS/chronocrypt-kms/internal/model"
)

func TestClientAuthorize(t *testing.T) {
	const secret = "shared-secret"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/authorize" {
			t.Errorf("got path %q, want /v1/authorize", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("got method %q, want POST", r.Method)
		}

		// The service token must be a valid HS256 JWT from the console.
		authz := r.Header.Get("Authorization")
		if !strings.HasPrefix(authz, "Bearer ") {
			t.Fatalf("missing bearer token, got %q", authz)
		}
		token, err := jwt.ParseWithClaims(strings.TrimPrefix(authz, "Bearer "), &jwt.RegisteredClaims{},
			func(_ *jwt.Token) (interface{}, error) { return []byte(secret), nil },
			jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !token.Valid {
			t.Fatalf("invalid service token: %v", err)
		}
		if claims := token.Claims.(*jwt.RegisteredClaims); claims.Issuer != "chronocrypt-console" {
			t.Errorf("got issuer %q", claims.Issuer)
		}

		var req model.AccessRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.RequesterID != "alpha" {
			t.Errorf("got requester %q", req.RequesterID)
		}

		json.NewEncoder(w).Encode(Decision{
			Granted: true,
			Keys: []DerivedKey{
				{Timestamp: req.TimeRange.Start, KeyID: "k-1", Algorithm: "AES-256-GCM", Material: []byte{1, 2}},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, Secret: secret})

	decision, err := c.Authorize(context.Background(), model.AccessRequest{
		RequesterID: "alpha",
		TimeRange:   model.TimeRange{Start: 100, End: 100},
	})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if !decision.Granted || len(decision.Keys) != 1 {
		t.Errorf("got %+v, want grant with one key", decision)
	}
}

func TestClientAuthorizeErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "policy engine down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, Secret: "x"})
	_, err := c.Authorize(context.Background(), model.AccessRequest{
		RequesterID: "alpha",
		TimeRange:   model.TimeRange{Start: 1, End: 2},
	})
	if err == nil {
		t.Fatal("expected error on non-200 response")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error should carry the status code: %v", err)
	}
}

func TestClientAuthorizeTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, Secret: "x", Timeout: 50 * time.Millisecond})
	_, err := c.Authorize(context.Background(), model.AccessRequest{
		RequesterID: "alpha",
		TimeRange:   model.TimeRange{Start: 1, End: 2},
	})
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestClientPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			t.Errorf("got path %q, want /healthz", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL})
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestClientPingUnhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL})
	if err := c.Ping(context.Background()); err == nil {
		t.Error("expected error on 503")
	}
}

func TestExport(t *testing.T) {
	exported := Export(DerivedKey{Timestamp: 42, KeyID: "k-42", Algorithm: "AES-256-GCM", Material: []byte("raw")})
	if exported.Material != "cmF3" {
		t.Errorf("got material %q, want base64 of raw bytes", exported.Material)
	}
	if exported.Timestamp != 42 || exported.KeyID != "k-42" {
		t.Errorf("metadata lost in export: %+v", exported)
	}
}
