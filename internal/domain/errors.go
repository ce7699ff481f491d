package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("already exists")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidInput = errors.New("invalid input")

	// ErrValidation rejects a malformed activity event before anything is written.
	ErrValidation = errors.New("invalid activity event")
	// ErrPersistence means the activity store could not accept a record, either
	// because it is unreachable or because the retry budget ran out.
	ErrPersistence = errors.New("activity store unavailable")
	// ErrSequenceConflict is returned by a repository when another writer claimed
	// the next sequence number first. The ledger retries it and never surfaces it.
	ErrSequenceConflict = errors.New("activity sequence conflict")
)
