package service

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/SiwatS/chronocrypt-kms/internal/audit"
	"github.com/SiwatS/chronocrypt-kms/internal/keyholder"
	"github.com/SiwatS/chronocrypt-kms/internal/model"
	"github.com/SiwatS/chronocrypt-kms/internal/store"
)

// fakeKeyHolder returns a canned decision or error.
type fakeKeyHolder struct {
	decision *keyholder.Decision
	err      error
	lastReq  model.AccessRequest
}

func (f *fakeKeyHolder) Authorize(_ context.Context, req model.AccessRequest) (*keyholder.Decision, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.decision, nil
}

func newTestGateway(t *testing.T, kh keyholder.KeyHolder) (*AuthorizationGateway, *audit.Trail, *store.Store) {
	t.Helper()
	st, err := store.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	trail := audit.NewTrail(st)
	return NewAuthorizationGateway(kh, trail, st, testLogger()), trail, st
}

func grantDecision(keys ...keyholder.DerivedKey) *keyholder.Decision {
	return &keyholder.Decision{Granted: true, Keys: keys}
}

func TestAuthorizeValidation(t *testing.T) {
	gw, _, _ := newTestGateway(t, &fakeKeyHolder{decision: grantDecision()})
	ctx := context.Background()

	var verr *ValidationError

	_, err := gw.Authorize(ctx, model.AccessRequest{TimeRange: model.TimeRange{Start: 1, End: 2}})
	if !errors.As(err, &verr) || verr.Field != "requester_id" {
		t.Errorf("expected requester_id validation error, got %v", err)
	}

	_, err = gw.Authorize(ctx, model.AccessRequest{
		RequesterID: "alpha",
		TimeRange:   model.TimeRange{Start: 10, End: 5},
	})
	if !errors.As(err, &verr) || verr.Field != "time_range" {
		t.Errorf("expected time_range validation error, got %v", err)
	}
}

func TestAuthorizeGrant(t *testing.T) {
	kh := &fakeKeyHolder{decision: grantDecision(
		keyholder.DerivedKey{Timestamp: 100, KeyID: "k-100", Algorithm: "AES-256-GCM", Material: []byte{1, 2, 3}},
		keyholder.DerivedKey{Timestamp: 101, KeyID: "k-101", Algorithm: "AES-256-GCM", Material: []byte{4, 5, 6}},
	)}
	gw, trail, st := newTestGateway(t, kh)
	ctx := context.Background()

	result, err := gw.Authorize(ctx, model.AccessRequest{
		RequesterID: "alpha",
		TimeRange:   model.TimeRange{Start: 100, End: 101},
		Purpose:     "incident review",
	})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if !result.Granted {
		t.Fatal("expected grant")
	}
	if len(result.Keys) != 2 {
		t.Fatalf("got %d keys, want 2", len(result.Keys))
	}
	if result.Keys[100].Material != base64.StdEncoding.EncodeToString([]byte{1, 2, 3}) {
		t.Errorf("key material not base64 exported: %q", result.Keys[100].Material)
	}

	// The full grant lifecycle is on the trail, in order.
	events, err := trail.Retrieve(ctx, store.AuditFilter{})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	wantTypes := []string{
		model.EventRequestSubmitted,
		model.EventAccessGranted,
		model.EventKeyDerived,
		model.EventKeyDistributed,
	}
	if len(events) != len(wantTypes) {
		t.Fatalf("got %d events, want %d", len(events), len(wantTypes))
	}
	for i, want := range wantTypes {
		if events[i].EventType != want {
			t.Errorf("event %d: got %q, want %q", i, events[i].EventType, want)
		}
	}
	if events[0].Actor != "alpha" {
		t.Errorf("request event actor %q, want alpha", events[0].Actor)
	}
	if events[1].Target != "alpha" {
		t.Errorf("outcome event target %q, want alpha", events[1].Target)
	}
	if events[0].Details["purpose"] != "incident review" {
		t.Errorf("request details %v, want purpose recorded", events[0].Details)
	}

	// History row is written too.
	recs, err := st.ListAccessRequests(ctx, "alpha", 10)
	if err != nil {
		t.Fatalf("ListAccessRequests: %v", err)
	}
	if len(recs) != 1 || !recs[0].Granted || recs[0].KeyCount != 2 {
		t.Errorf("history row %+v, want granted with 2 keys", recs)
	}
}

func TestAuthorizeSingleInstant(t *testing.T) {
	kh := &fakeKeyHolder{decision: grantDecision(
		keyholder.DerivedKey{Timestamp: 500, KeyID: "k-500", Algorithm: "AES-256-GCM", Material: []byte{9}},
	)}
	gw, _, _ := newTestGateway(t, kh)

	// Start == End is a valid single-instant request.
	result, err := gw.Authorize(context.Background(), model.AccessRequest{
		RequesterID: "alpha",
		TimeRange:   model.TimeRange{Start: 500, End: 500},
	})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if !result.Granted || len(result.Keys) != 1 {
		t.Errorf("got %+v, want grant with one key", result)
	}
	if kh.lastReq.TimeRange.Start != 500 || kh.lastReq.TimeRange.End != 500 {
		t.Errorf("delegated range %+v, want [500,500]", kh.lastReq.TimeRange)
	}
}

func TestAuthorizeDenial(t *testing.T) {
	kh := &fakeKeyHolder{decision: &keyholder.Decision{Granted: false, DenialReason: "outside retention window"}}
	gw, trail, _ := newTestGateway(t, kh)
	ctx := context.Background()

	result, err := gw.Authorize(ctx, model.AccessRequest{
		RequesterID: "beta",
		TimeRange:   model.TimeRange{Start: 1, End: 2},
	})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if result.Granted {
		t.Fatal("expected denial")
	}
	if result.DenialReason != "outside retention window" {
		t.Errorf("denial reason %q", result.DenialReason)
	}
	if result.Keys != nil {
		t.Error("denied result must carry no keys")
	}

	events, _ := trail.Retrieve(ctx, store.AuditFilter{})
	if len(events) != 2 {
		t.Fatalf("got %d events, want request + denial", len(events))
	}
	if events[1].EventType != model.EventAccessDenied || events[1].Success {
		t.Errorf("outcome event %+v, want unsuccessful denial", events[1])
	}
	if events[1].Details["reason"] != "outside retention window" {
		t.Errorf("denial details %v", events[1].Details)
	}
}

func TestAuthorizeKeyHolderError(t *testing.T) {
	kh := &fakeKeyHolder{err: errors.New("connection refused")}
	gw, trail, _ := newTestGateway(t, kh)
	ctx := context.Background()

	_, err := gw.Authorize(ctx, model.AccessRequest{
		RequesterID: "alpha",
		TimeRange:   model.TimeRange{Start: 1, End: 2},
	})
	if err == nil {
		t.Fatal("expected delegation error to surface")
	}

	// The submission and the failure are both on the trail.
	events, _ := trail.Retrieve(ctx, store.AuditFilter{})
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].EventType != model.EventRequestSubmitted {
		t.Errorf("first event %q", events[0].EventType)
	}
	if events[1].EventType != model.EventAccessDenied || events[1].Success {
		t.Errorf("second event %+v, want failed denial record", events[1])
	}
}

func TestAuthorizeSurvivesCallerCancellation(t *testing.T) {
	kh := &fakeKeyHolder{decision: grantDecision(
		keyholder.DerivedKey{Timestamp: 1, KeyID: "k-1", Algorithm: "AES-256-GCM", Material: []byte{1}},
	)}
	gw, trail, _ := newTestGateway(t, kh)

	// A context cancelled before the call mimics a client that disconnected;
	// the audit writes must still land.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := gw.Authorize(ctx, model.AccessRequest{
		RequesterID: "alpha",
		TimeRange:   model.TimeRange{Start: 1, End: 1},
	})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if !result.Granted {
		t.Fatal("expected grant")
	}

	events, err := trail.Retrieve(context.Background(), store.AuditFilter{})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(events) != 4 {
		t.Errorf("got %d events, want the full grant lifecycle despite cancellation", len(events))
	}
}

// failingHistoryStore simulates a storage outage limited to the history
// table.
type failingHistoryStore struct{}

func (failingHistoryStore) CreateAccessRequest(context.Context, *model.AccessRequestRecord) error {
	return errors.New("disk full")
}

func TestAuthorizeHistoryFailureDoesNotChangeResult(t *testing.T) {
	kh := &fakeKeyHolder{decision: grantDecision(
		keyholder.DerivedKey{Timestamp: 7, KeyID: "k-7", Algorithm: "AES-256-GCM", Material: []byte{7}},
	)}

	st, err := store.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	trail := audit.NewTrail(st)
	gw := NewAuthorizationGateway(kh, trail, failingHistoryStore{}, testLogger())

	result, err := gw.Authorize(context.Background(), model.AccessRequest{
		RequesterID: "alpha",
		TimeRange:   model.TimeRange{Start: 7, End: 7},
	})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if !result.Granted || len(result.Keys) != 1 {
		t.Fatalf("history outage changed the answer: %+v", result)
	}

	// The trail is the source of truth and must still have the lifecycle.
	events, err := trail.Retrieve(context.Background(), store.AuditFilter{})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(events) != 4 {
		t.Errorf("got %d events, want 4", len(events))
	}

	// Only the denormalized row is missing.
	recs, err := st.ListAccessRequests(context.Background(), "alpha", 10)
	if err != nil {
		t.Fatalf("ListAccessRequests: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("got %d history rows, want none", len(recs))
	}
}
