// Package keyholder defines the boundary to the external time-sliced
// encryption engine. The console never derives keys or evaluates policies
// itself; it delegates both to a key-holder behind this interface.
package keyholder

import (
	"context"
	"encoding/base64"

	"github.com/SiwatS/chronocrypt-kms/internal/model"
)

// DerivedKey is one per-timestamp key handle returned by the key-holder.
// Material is raw key bytes and must never be logged or persisted.
type DerivedKey struct {
	Timestamp int64  `json:"timestamp"`
	KeyID     string `json:"key_id"`
	Algorithm string `json:"algorithm"`
	Material  []byte `json:"material"`
}

// Decision is the key-holder's answer to one access request. When Granted is
// false, DenialReason carries the policy engine's explanation and Keys is nil.
type Decision struct {
	Granted      bool         `json:"granted"`
	DenialReason string       `json:"denial_reason,omitempty"`
	Keys         []DerivedKey `json:"keys,omitempty"`
}

// KeyHolder evaluates an access request against its policies and, if granted,
// derives one key per discrete time step across the requested range. Step
// granularity is the key-holder's concern, not the console's.
type KeyHolder interface {
	Authorize(ctx context.Context, req model.AccessRequest) (*Decision, error)
}

// ExportedKey is the portable representation of a derived key, safe to
// serialize into a response body. Material is base64 rather than raw bytes.
type ExportedKey struct {
	Timestamp int64  `json:"timestamp"`
	KeyID     string `json:"key_id"`
	Algorithm string `json:"algorithm"`
	Material  string `json:"material"`
}

// Export converts an in-memory key handle to its portable form.
func Export(k DerivedKey) ExportedKey {
	return ExportedKey{
		Timestamp: k.Timestamp,
		KeyID:     k.KeyID,
		Algorithm: k.Algorithm,
		Material:  base64.StdEncoding.EncodeToString(k.Material),
	}
}
