package model

import "time"

// Policy is a named, prioritized access rule consumed by the external
// key-holder. The console stores and serves policies; it never evaluates
// them. Built-in policies cannot be deleted.
type Policy struct {
	ID          int64     `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	Priority    int       `json:"priority" db:"priority"`
	Enabled     bool      `json:"enabled" db:"enabled"`
	BuiltIn     bool      `json:"built_in" db:"built_in"`
	Rule        string    `json:"rule" db:"rule_json"` // opaque rule document, passed through
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}
