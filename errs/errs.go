// Package errs holds the error taxonomy shared by every wordvault package.
// Callers match with errors.Is against the sentinels below.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrCryptoProvider indicates the cryptographic provider failed or was
	// misused. The operation is aborted.
	ErrCryptoProvider = errors.New("crypto provider error")

	// ErrKeyUnwrap indicates the content key could not be unwrapped. Wrong
	// password and corrupted data are deliberately indistinguishable.
	ErrKeyUnwrap = errors.New("unable to unlock vault")

	// ErrEnvelopeAuthentication indicates a field envelope failed to
	// authenticate: wrong key, wrong item or field binding, or corruption.
	ErrEnvelopeAuthentication = errors.New("unable to decrypt field")

	// ErrProtocolState indicates an operation was invoked out of order or
	// without its prerequisites, including use of keys after logout.
	ErrProtocolState = errors.New("protocol state error")

	// ErrTransport indicates a network failure talking to the server.
	ErrTransport = errors.New("transport error")

	// ErrValidation indicates malformed input rejected before any
	// cryptographic work.
	ErrValidation = errors.New("validation error")
)

// ValidationError describes which input was rejected and why.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Reason
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Reason)
}

// Is reports ErrValidation as a match so callers can use either form.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Validationf builds a ValidationError for field.
func Validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
