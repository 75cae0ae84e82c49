package model

import "time"

// Requester is an identity permitted to submit access requests against the
// key-holder. A requester owns zero or more API key credentials; disabling a
// requester invalidates all of them at validation time.
type Requester struct {
	ID        string            `json:"id" db:"id"`
	Name      string            `json:"name" db:"name"`
	Enabled   bool              `json:"enabled" db:"enabled"`
	Metadata  map[string]string `json:"metadata,omitempty" db:"-"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt time.Time         `json:"updated_at" db:"updated_at"`
}
