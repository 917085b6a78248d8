package core

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind discriminates domain failures.
type ErrorKind string

const (
	ErrValidation ErrorKind = "validation"
	ErrNotFound   ErrorKind = "not_found"
	ErrConflict   ErrorKind = "conflict"
	ErrStorage    ErrorKind = "storage"
	ErrIntegrity  ErrorKind = "integrity"
	ErrInternal   ErrorKind = "internal"
)

// Error is the discriminated outcome returned by every core operation.
// Row is the 1-based data row for ingestion failures, 0 otherwise.
type Error struct {
	Kind    ErrorKind
	Message string
	Row     int
	Fields  []FieldError

	// Impact or Batch is set when a deletion needs confirmation.
	Impact *Impact
	Batch  *BatchImpact
	// Existing and Similar are set for duplicate subject conflicts.
	Existing *Subject
	Similar  []Subject
	// Items lists per-element failures of a batch request.
	Items []ItemError

	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Row > 0 {
		fmt.Fprintf(&b, "row %d: ", e.Row)
	}
	b.WriteString(e.Message)
	if len(e.Fields) > 0 {
		parts := make([]string, len(e.Fields))
		for i, f := range e.Fields {
			parts[i] = f.Error()
		}
		b.WriteString(": ")
		b.WriteString(strings.Join(parts, "; "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ItemError is the failure of one element in a batch request.
type ItemError struct {
	Index      int          `json:"index"`
	Message    string       `json:"message"`
	Fields     []FieldError `json:"fields,omitempty"`
	ExistingID int64        `json:"existing_id,omitempty"`
}

// NewValidationError reports malformed or out-of-range fields.
func NewValidationError(msg string, fields ...FieldError) *Error {
	return &Error{Kind: ErrValidation, Message: msg, Fields: fields}
}

// NotFound reports a missing entity.
func NotFound(kind EntityKind, id int64) *Error {
	return &Error{Kind: ErrNotFound, Message: fmt.Sprintf("%s %d not found", kind, id)}
}

// Conflict reports a duplicate or a deletion that needs confirmation.
func Conflict(msg string) *Error {
	return &Error{Kind: ErrConflict, Message: msg}
}

// Storage wraps a transport or transaction failure.
func Storage(op string, err error) *Error {
	return &Error{Kind: ErrStorage, Message: op, Err: err}
}

// Integrity wraps a referential constraint violation.
func Integrity(op string, err error) *Error {
	return &Error{Kind: ErrIntegrity, Message: op, Err: err}
}

// KindOf returns the kind of err, or ErrInternal when err is not a core error.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// AsError converts any error into a core error, keeping existing ones.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: ErrInternal, Message: "unexpected error", Err: err}
}

// atRow returns a copy of err positioned at a data row.
func atRow(err error, row int) *Error {
	e := *AsError(err)
	e.Row = row
	return &e
}
