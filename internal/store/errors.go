package store

import "errors"

// ErrNotFound is returned when a requested resource does not exist in the store.
var ErrNotFound = errors.New("not found")

// ErrProtected is returned when attempting to delete a built-in policy.
var ErrProtected = errors.New("protected resource")
