package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationError(t *testing.T) {
	err := Validationf("code", "must be %d digits", 6)
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Equal(t, "validation error: code: must be 6 digits", err.Error())

	wrapped := fmt.Errorf("submitting code: %w", err)
	var ve *ValidationError
	require.True(t, errors.As(wrapped, &ve))
	assert.Equal(t, "code", ve.Field)
	assert.False(t, errors.Is(wrapped, ErrProtocolState))
}

func TestValidationError_NoField(t *testing.T) {
	err := &ValidationError{Reason: "passwords do not match"}
	assert.Equal(t, "validation error: passwords do not match", err.Error())
}

func TestGenericMessages(t *testing.T) {
	// Unwrap and envelope failures must not leak which secret was wrong.
	for _, err := range []error{ErrKeyUnwrap, ErrEnvelopeAuthentication} {
		assert.NotContains(t, err.Error(), "password")
		assert.NotContains(t, err.Error(), "tamper")
	}
}
