package key

import (
	"fmt"
	"sync"

	"github.com/jmcleod/wordvault/crypto"
	"github.com/jmcleod/wordvault/internal/util"
	"github.com/jmcleod/wordvault/internal/uuid"
)

// Key is a raw symmetric key with an identifier. Destroy wipes the key
// material; a destroyed key returns nil from Bytes.
type Key interface {
	ID() string
	Type() Type
	Bytes() []byte
	Destroy()
}

type key struct {
	mu      sync.Mutex
	keyID   string
	keyType Type
	bytes   []byte
}

func (k *key) ID() string {
	return k.keyID
}

func (k *key) Type() Type {
	return k.keyType
}

// Bytes returns a copy of the key material.
func (k *key) Bytes() []byte {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.bytes == nil {
		return nil
	}
	return util.CopyBytes(k.bytes)
}

func (k *key) Destroy() {
	k.mu.Lock()
	defer k.mu.Unlock()
	util.WipeBytes(k.bytes)
	k.bytes = nil
}

func newWithIDAndTypeAndBytes(keyID string, t Type, bytes []byte) Key {
	return &key{
		keyID:   keyID,
		keyType: t,
		bytes:   util.CopyBytes(bytes),
	}
}

// FromBytes wraps existing content key material. The input is copied.
func FromBytes(b []byte) (Key, error) {
	if len(b) != crypto.KeySize {
		return nil, fmt.Errorf("content key must be %d bytes, got %d", crypto.KeySize, len(b))
	}
	return newWithIDAndTypeAndBytes(uuid.New(), Content, b), nil
}

// NewContentKey generates a new random 256-bit content key.
func NewContentKey(p crypto.Provider) (Key, error) {
	raw, err := p.GenerateKey(crypto.KeySize)
	if err != nil {
		return nil, fmt.Errorf("generating content key: %w", err)
	}
	defer util.WipeBytes(raw)
	return newWithIDAndTypeAndBytes(uuid.New(), Content, raw), nil
}
