package backfill

import "errors"

var (
	// ErrTransientFetch marks a source failure for one item. The item is
	// skipped and retried by a later run.
	ErrTransientFetch = errors.New("transient fetch error")
	// ErrValidationMismatch marks a record whose window or security differs
	// from the requested one. Such records are never persisted.
	ErrValidationMismatch = errors.New("window validation mismatch")
	// ErrPersistenceRead aborts the whole run; no sentinel is written.
	ErrPersistenceRead = errors.New("persistence read error")
	// ErrPersistenceWrite marks a failed upsert for one item.
	ErrPersistenceWrite = errors.New("persistence write error")
	// ErrInvalidDefinition is returned by New for incomplete definitions.
	ErrInvalidDefinition = errors.New("invalid backfill definition")
)
