package symbolication

import (
	"errors"
	"fmt"
)

// ErrInvariantViolation is wrapped by errors that reveal a bug in the engine
// rather than bad input. Such errors must not be swallowed.
var ErrInvariantViolation = errors.New("symbolication invariant violation")

// SymbolsNotFoundError is returned by providers that have no symbols for a
// library.
type SymbolsNotFoundError struct {
	Library LibraryDescriptor
	Err     error
}

func (e *SymbolsNotFoundError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("symbols not found for %s: %v", e.Library, e.Err)
	}
	return fmt.Sprintf("symbols not found for %s", e.Library)
}

func (e *SymbolsNotFoundError) Unwrap() error {
	return e.Err
}

func IsSymbolsNotFound(err error) bool {
	var nf *SymbolsNotFoundError
	return errors.As(err, &nf)
}

func invariantf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvariantViolation, fmt.Sprintf(format, args...))
}
