// Package errors defines the error taxonomy shared by the indexing
// pipeline. Upstream data errors are recoverable and only counted;
// invariant violations and resource errors abort the current task.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMalformedDocument  = errors.New("malformed document")
	ErrInvariantViolation = errors.New("invariant violation")
	ErrNegativeDocID      = errors.New("negative document id")
	ErrDuplicateRecord    = errors.New("duplicate occurrence record")
	ErrUnexpectedKind     = errors.New("unexpected record kind")
	ErrUnknownField       = errors.New("unknown field")
	ErrOutputExists       = errors.New("output path already exists")
	ErrIO                 = errors.New("i/o failure")
	ErrInvalidConfig      = errors.New("invalid configuration")
	ErrTooManyMalformed   = errors.New("malformed document threshold exceeded")
)

// Exit codes returned by the batch entrypoints.
const (
	ExitOK        = 0
	ExitConfig    = 2
	ExitInvariant = 3
	ExitResource  = 4
	ExitData      = 5
	ExitInternal  = 1
)

// NoDoc marks an IndexError that is not tied to a single document.
const NoDoc int64 = -1 << 63

// IndexError attaches the offending term, document and field to a sentinel.
type IndexError struct {
	Err     error
	Term    string
	DocID   int64
	Field   string
	Message string
}

func (e *IndexError) Error() string {
	var b strings.Builder
	b.WriteString(e.Err.Error())
	if e.Field != "" {
		fmt.Fprintf(&b, " field=%q", e.Field)
	}
	if e.Term != "" {
		fmt.Fprintf(&b, " term=%q", e.Term)
	}
	if e.DocID != NoDoc {
		fmt.Fprintf(&b, " doc=%d", e.DocID)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *IndexError) Unwrap() error {
	return e.Err
}

// New builds an IndexError. Pass NoDoc when no document is involved.
func New(sentinel error, field, term string, docID int64, message string) *IndexError {
	return &IndexError{
		Err:     sentinel,
		Term:    term,
		DocID:   docID,
		Field:   field,
		Message: message,
	}
}

func Newf(sentinel error, field, term string, docID int64, format string, args ...any) *IndexError {
	return New(sentinel, field, term, docID, fmt.Sprintf(format, args...))
}

// Invariant reports a protocol violation in the intermediate record stream.
// Every sentinel of that class also matches ErrInvariantViolation.
func Invariant(sentinel error, field, term string, docID int64, format string, args ...any) *IndexError {
	return Newf(invariant{sentinel}, field, term, docID, format, args...)
}

type invariant struct{ err error }

func (i invariant) Error() string { return i.err.Error() }

func (i invariant) Is(target error) bool {
	return target == ErrInvariantViolation || target == i.err
}

// IsFatal reports whether err must abort the enclosing task. Only
// malformed upstream documents are recovered locally.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrMalformedDocument)
}

// ExitCode maps an error to the process exit status of a batch job.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrInvalidConfig):
		return ExitConfig
	case errors.Is(err, ErrInvariantViolation),
		errors.Is(err, ErrNegativeDocID),
		errors.Is(err, ErrDuplicateRecord),
		errors.Is(err, ErrUnexpectedKind),
		errors.Is(err, ErrUnknownField):
		return ExitInvariant
	case errors.Is(err, ErrOutputExists), errors.Is(err, ErrIO):
		return ExitResource
	case errors.Is(err, ErrTooManyMalformed):
		return ExitData
	default:
		return ExitInternal
	}
}
