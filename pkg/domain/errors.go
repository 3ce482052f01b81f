package domain

import (
	"errors"
	"fmt"
)

// ErrDisposed is returned when dereferencing an entity reference whose
// owner's change record has been released.
var ErrDisposed = errors.New("change record disposed")

// ErrSessionDisposed is returned by operations against a disposed session.
var ErrSessionDisposed = errors.New("session disposed")

// UnsupportedBackendError reports that command dispatch found no
// implementation for a session's backend type. This is an explicit error
// rather than a silent no-op so callers cannot mistake an unsupported
// backend for an empty change set.
type UnsupportedBackendError struct {
	Kind    string
	Backend string
}

func (e UnsupportedBackendError) Error() string {
	return fmt.Sprintf("no %s command registered for backend %s", e.Kind, e.Backend)
}

// NoDocumentsToPersistError reports that a non-empty logical change set
// resolved to zero physical write targets: an internal inconsistency, not a
// legitimate no-op.
type NoDocumentsToPersistError struct {
	Collection string
	Changes    int
}

func (e NoDocumentsToPersistError) Error() string {
	return fmt.Sprintf("no documents to persist for collection %s (%d logical changes)", e.Collection, e.Changes)
}

// ConversionError reports a failed type projection. It aborts the remaining
// pipeline for the batch.
type ConversionError struct {
	TypeName string
	Err      error
}

func (e ConversionError) Error() string {
	return fmt.Sprintf("convert %s: %v", e.TypeName, e.Err)
}

func (e ConversionError) Unwrap() error { return e.Err }
