package model

import "time"

// Session is the ephemeral proof of a successful admin login. Sessions live
// only in memory; the token is the sole handle a client holds.
type Session struct {
	ID        string    `json:"-"`
	AdminID   int64     `json:"admin_id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
