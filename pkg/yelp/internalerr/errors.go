// Package internalerr holds the sentinel errors shared by the pipeline
// packages. Callers match them with errors.Is.
package internalerr

import "errors"

var (
	// ErrNotFound is returned for a missing object key or business id.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput marks a malformed seed row, work unit or record.
	ErrInvalidInput = errors.New("invalid input")
	// ErrDuplicate is returned by a warehouse when the id already exists.
	ErrDuplicate = errors.New("duplicate business id")
	// ErrStoreUnavailable wraps connectivity failures of object storage or the warehouse.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrInvalidConfig is returned by config validation and taxonomy loading.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrMalformedResponse marks an upstream body that could not be decoded.
	ErrMalformedResponse = errors.New("malformed response")
)
