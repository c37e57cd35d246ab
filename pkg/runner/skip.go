package runner

import (
	"errors"
	"fmt"
)

// SkipError signals "nothing to do": a precondition was not met or required
// data is unavailable. A pipeline returning it ends the run as skipped, which
// is not treated as an error for alerting purposes.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string {
	return "run skipped: " + e.Reason
}

// Skip creates a SkipError with the given reason.
func Skip(reason string) *SkipError {
	return &SkipError{Reason: reason}
}

// Skipf creates a SkipError with a formatted reason.
func Skipf(format string, args ...any) *SkipError {
	return &SkipError{Reason: fmt.Sprintf(format, args...)}
}

// AsSkip extracts a SkipError from an error chain.
func AsSkip(err error) (*SkipError, bool) {
	var skip *SkipError
	if errors.As(err, &skip) {
		return skip, true
	}

	return nil, false
}
