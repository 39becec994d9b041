package repository

import "errors"

// ErrNotFound is returned when a referenced document or blob does not exist.
// Handlers translate it to a 404.
var ErrNotFound = errors.New("not found")
