package corpus

import "errors"

// Sentinel errors for store operations.
var (
	// ErrStore indicates a delete/insert/select failure against the chunk or
	// document store. It aborts the current document's processing.
	ErrStore = errors.New("store operation failed")

	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidDocument indicates a row that failed validation at the store
	// boundary.
	ErrInvalidDocument = errors.New("invalid document")
)
