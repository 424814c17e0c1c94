package catalog

import "errors"

var (
	// ErrNotFound signals that the requested row does not exist.
	ErrNotFound = errors.New("catalog record not found")
	// ErrMalformedRecord marks a record without a usable UPC.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrDuplicateInRun marks a UPC already processed in the current run.
	ErrDuplicateInRun = errors.New("duplicate record in run")
	// ErrPersistence wraps any store failure while ingesting one record.
	ErrPersistence = errors.New("persistence failure")
	// ErrDimensionRace marks a unique violation on a dimension insert, which
	// happens when another writer created the same label after the preload.
	ErrDimensionRace = errors.New("dimension insert raced with another writer")
	// ErrStoreUnavailable is returned when the store cannot be reached at the
	// start of a run.
	ErrStoreUnavailable = errors.New("catalog store unavailable")
)
