package domain

import (
	"errors"
	"fmt"
)

// ErrNoData is returned when a market data fetch yields no bars for the
// requested ticker and date range.
var ErrNoData = errors.New("no data returned, check ticker or date range")

// InvalidParameterError reports a request parameter that failed validation.
// It is raised before any data is fetched.
type InvalidParameterError struct {
	Field  string
	Reason string
}

func (e *InvalidParameterError) Error() string {
	if e.Field == "" {
		return "invalid parameter: " + e.Reason
	}
	return fmt.Sprintf("invalid parameter %s: %s", e.Field, e.Reason)
}

// InvalidParam is shorthand for constructing an *InvalidParameterError.
func InvalidParam(field, format string, args ...any) error {
	return &InvalidParameterError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// DataShapeError reports a bar sequence that does not have the expected
// single-ticker, date-ordered shape.
type DataShapeError struct {
	Index  int
	Reason string
}

func (e *DataShapeError) Error() string {
	return fmt.Sprintf("unexpected bar data shape at index %d: %s", e.Index, e.Reason)
}

// IsInvalidParameter reports whether err wraps an *InvalidParameterError.
func IsInvalidParameter(err error) bool {
	var target *InvalidParameterError
	return errors.As(err, &target)
}

// IsDataShape reports whether err wraps a *DataShapeError.
func IsDataShape(err error) bool {
	var target *DataShapeError
	return errors.As(err, &target)
}
