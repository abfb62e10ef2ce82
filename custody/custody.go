// Package custody holds the keys of an authenticated session: the unwrapped
// content key and the signing key derived from the HMAC words. Both are kept
// sealed in memguard enclaves between uses. Clear is the only path by which
// they leave memory during normal operation.
package custody

import (
	"errors"
	"fmt"
	"sync"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/wordvault/errs"
)

// ErrAbsent is returned by Get when no keys are installed. It matches
// errs.ErrProtocolState.
var ErrAbsent = fmt.Errorf("%w: no keys in custody", errs.ErrProtocolState)

// Store is the key custody for one session. The zero value is not usable;
// call New.
type Store struct {
	mu         sync.RWMutex
	contentKey *memguard.Enclave
	signingKey *memguard.Enclave
}

// New returns an empty Store.
func New() *Store {
	return &Store{}
}

// Install seals both keys. The caller's slices are wiped. Installing over
// existing keys without Clear is a protocol error.
func (s *Store) Install(contentKey, signingKey []byte) error {
	if len(contentKey) == 0 || len(signingKey) == 0 {
		memguard.WipeBytes(contentKey)
		memguard.WipeBytes(signingKey)
		return errs.Validationf("keys", "content and signing keys must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.contentKey != nil {
		memguard.WipeBytes(contentKey)
		memguard.WipeBytes(signingKey)
		return fmt.Errorf("%w: keys already installed", errs.ErrProtocolState)
	}
	s.contentKey = memguard.NewEnclave(contentKey)
	s.signingKey = memguard.NewEnclave(signingKey)
	return nil
}

// Keys is an opened view of the custody keys. Destroy wipes it.
type Keys struct {
	content *memguard.LockedBuffer
	signing *memguard.LockedBuffer
}

// ContentKey returns the content key bytes. The slice is only valid until
// Destroy.
func (k *Keys) ContentKey() []byte {
	return k.content.Bytes()
}

// SigningKey returns the signing key bytes. The slice is only valid until
// Destroy.
func (k *Keys) SigningKey() []byte {
	return k.signing.Bytes()
}

// Destroy wipes and unlocks both buffers.
func (k *Keys) Destroy() {
	k.content.Destroy()
	k.signing.Destroy()
}

// Get opens both keys. It returns ErrAbsent when nothing is installed.
func (s *Store) Get() (*Keys, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.contentKey == nil {
		return nil, ErrAbsent
	}

	content, err := s.contentKey.Open()
	if err != nil {
		return nil, fmt.Errorf("opening content key: %w", errors.Join(errs.ErrCryptoProvider, err))
	}
	signing, err := s.signingKey.Open()
	if err != nil {
		content.Destroy()
		return nil, fmt.Errorf("opening signing key: %w", errors.Join(errs.ErrCryptoProvider, err))
	}
	return &Keys{content: content, signing: signing}, nil
}

// Clear drops both keys. It is safe to call when nothing is installed.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contentKey = nil
	s.signingKey = nil
}

// Installed reports whether keys are present.
func (s *Store) Installed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.contentKey != nil
}
