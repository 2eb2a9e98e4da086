package store

import "errors"

// ErrNotFound is returned when a referenced trace, span, replay run, or
// prompt version does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrDuplicateTrace is returned by InsertTrace when the trace_id already
// exists; the import path maps it to a conflict response.
var ErrDuplicateTrace = errors.New("store: trace already exists")
