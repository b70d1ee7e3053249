// Package apperr implements the error taxonomy of the storage and
// retrieval layers as typed, wrapped errors checkable with errors.Is
// and errors.As, instead of ad hoc string matching or panics.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error so callers can decide whether to retry, fail
// fast, or log and continue.
type Kind int

const (
	KindValidation Kind = iota
	KindNotFound
	KindConflict
	KindBackend
	KindTimeout
	KindTransient
	KindIntegrityWarning
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "Validation"
	case KindNotFound:
		return "NotFound"
	case KindConflict:
		return "Conflict"
	case KindBackend:
		return "Backend"
	case KindTimeout:
		return "Timeout"
	case KindTransient:
		return "Transient"
	case KindIntegrityWarning:
		return "IntegrityWarning"
	default:
		return "Unknown"
	}
}

// Error is the concrete type behind every error this module returns for
// an expected failure mode. Op names the operation that failed
// (typically "Package.Method"), and Err is the wrapped cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same Kind, so callers
// can write errors.Is(err, apperr.ErrNotFound).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinel values usable with errors.Is for a kind check without a
// specific op or cause.
var (
	ErrValidation       = &Error{Kind: KindValidation}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrConflict         = &Error{Kind: KindConflict}
	ErrBackend          = &Error{Kind: KindBackend}
	ErrTimeout          = &Error{Kind: KindTimeout}
	ErrTransient        = &Error{Kind: KindTransient}
	ErrIntegrityWarning = &Error{Kind: KindIntegrityWarning}
)

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Validation(op string, err error) *Error { return New(KindValidation, op, err) }
func NotFound(op string, err error) *Error   { return New(KindNotFound, op, err) }
func Conflict(op string, err error) *Error   { return New(KindConflict, op, err) }
func Backend(op string, err error) *Error    { return New(KindBackend, op, err) }
func Timeout(op string, err error) *Error    { return New(KindTimeout, op, err) }
func Transient(op string, err error) *Error  { return New(KindTransient, op, err) }
func IntegrityWarning(op string, err error) *Error {
	return New(KindIntegrityWarning, op, err)
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return errors.Is(err, &Error{Kind: kind})
}

// BatchResult is the outcome of an inherently-batch storage operation
// (createEntities, deleteEntities, deleteDocuments, reEmbedEverything,
// linkEntitiesToDocument): it continues past per-item failures and
// reports both what succeeded and what did not.
type BatchResult[T any] struct {
	Succeeded []T      `json:"succeeded"`
	Failed    []string `json:"failed,omitempty"`
	Errors    []string `json:"errors,omitempty"`
}

// Add records a per-item failure without aborting the batch.
func (b *BatchResult[T]) Add(item string, err error) {
	b.Failed = append(b.Failed, item)
	b.Errors = append(b.Errors, err.Error())
}
