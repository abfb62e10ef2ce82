package crypto

import (
	"errors"
	"fmt"

	"github.com/jmcleod/wordvault/errs"
)

// ErrAuthentication is returned by AEADDecrypt when the ciphertext, key,
// nonce or AAD do not authenticate.
var ErrAuthentication = errors.New("message authentication failed")

// ProviderError reports a failed or misused primitive. It matches
// errs.ErrCryptoProvider.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("crypto provider: %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func (e *ProviderError) Is(target error) bool {
	return target == errs.ErrCryptoProvider
}

func newProviderError(op string, err error) error {
	return &ProviderError{Op: op, Err: err}
}
