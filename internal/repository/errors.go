package repository

import "errors"

// ErrNotFound is returned when a row does not exist (or is outside the
// project the caller named).
var ErrNotFound = errors.New("record not found")
