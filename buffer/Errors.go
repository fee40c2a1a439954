package buffer

import "errors"

// BufferError implements errors unique to a Buffer. Op names the
// Buffer operation which failed.
type BufferError struct {
	Op  string
	Err error
}

// Error satisifes the error interface
func (e *BufferError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

// Unwrap returns the underlying error
func (e *BufferError) Unwrap() error {
	return e.Err
}

var (
	// ErrSchemaMismatch is reported when data given to a Buffer does
	// not match the Buffer's field schemas: a missing, unknown, or
	// misshapen field, or fields that disagree on the number of rows.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrInsufficientData is reported when more rows are requested
	// from a Buffer than it currently holds. Callers can recover from
	// it by waiting for more data.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrInvalidArgument is reported for malformed construction or
	// sampling arguments.
	ErrInvalidArgument = errors.New("invalid argument")
)

// IsSchemaMismatch returns whether or not an error reports that data
// did not match the schema of a Buffer.
func IsSchemaMismatch(err error) bool {
	return errors.Is(err, ErrSchemaMismatch)
}

// IsInsufficientData returns whether or not an error reports that
// there are too few rows in a Buffer to satisfy a sample request.
func IsInsufficientData(err error) bool {
	return errors.Is(err, ErrInsufficientData)
}
