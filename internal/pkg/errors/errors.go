package errors

import "errors"

var (
	// ErrInvalidInput marks a missing or malformed argument (empty upload, bad filename).
	ErrInvalidInput = errors.New("invalid input")
	// ErrPathEscape marks a path that would resolve outside the storage root.
	ErrPathEscape = errors.New("path escapes storage root")
	// ErrNotFound is a generic sentinel for missing documents, versions and blobs.
	ErrNotFound = errors.New("not found")
	// ErrStorageIO marks an underlying filesystem or database failure.
	ErrStorageIO = errors.New("storage io failure")
	// ErrStageFailed marks a processing pipeline stage failure.
	ErrStageFailed = errors.New("pipeline stage failed")
	// ErrConflict marks a write that lost a uniqueness race.
	ErrConflict = errors.New("conflict")
)
