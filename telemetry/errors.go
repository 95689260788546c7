package telemetry

import (
	"errors"
	"fmt"
)

// Errors returned while decoding a storage service payload. Field level failures are reported as a *FieldError
// wrapping one of these, so use errors.Is to test for the kind.
var (
	ErrDocumentMalformed      = errors.New("unable to parse results json document")
	ErrMissingRowsOrReadings  = errors.New("missing readings or rows array")
	ErrRowsNotArray           = errors.New("expected array of rows in result set")
	ErrRowNotObject           = errors.New("expected reading to be an object")
	ErrUnparsableNumericField = errors.New("cannot parse the numeric type")
	ErrUnhandledFieldType     = errors.New("cannot handle unsupported type")
	ErrEmptyArrayValue        = errors.New("cannot parse the array type")
	ErrMissingField           = errors.New("missing or invalid required field")
	ErrInvalidTimestamp       = errors.New("cannot parse the timestamp")
)

// FieldError reports a decode failure tied to a named field of a reading object.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%v of reading element '%s'", e.Err, e.Field)
}

func (e *FieldError) Unwrap() error { return e.Err }

func fieldError(field string, err error) *FieldError {
	return &FieldError{Field: field, Err: err}
}

// RowError records the failure of one element of the rows/readings array.
type RowError struct {
	Index int
	Err   error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Index, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }
