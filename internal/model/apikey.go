package model

import "time"

// APIKey is a service credential owned by a requester. The secret is never
// stored; only a bcrypt hash is persisted. KeyID is the public half used to
// look the credential up during validation.
type APIKey struct {
	ID          int64      `json:"id" db:"id"`
	KeyID       string     `json:"key_id" db:"key_id"`
	SecretHash  string     `json:"-" db:"secret_hash"` // bcrypt hash, never expose
	RequesterID string     `json:"requester_id" db:"requester_id"`
	Label       string     `json:"label" db:"label"`
	Enabled     bool       `json:"enabled" db:"enabled"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	LastUsed    *time.Time `json:"last_used,omitempty" db:"last_used"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}
