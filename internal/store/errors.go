package store

import "errors"

// ErrNotFound is returned by LoadState when no state is stored for a group ID.
var ErrNotFound = errors.New("store: no state for this group id")
