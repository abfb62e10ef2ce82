// Package envelope encrypts and decrypts individual vault-item fields.
//
// An envelope is the self-contained encoding of one encrypted field:
//
//	<algorithm>:base64(iv || ciphertext)
//
// The ciphertext carries the AEAD tag. The additional data is a keyed hash
// of the item ID and field name, so an envelope only opens for the item and
// field it was written for. Envelopes without an algorithm prefix are read
// as AES-GCM.
package envelope

import (
	"encoding/base64"
	"strings"

	"github.com/jmcleod/wordvault/crypto"
	"github.com/jmcleod/wordvault/errs"
	"github.com/jmcleod/wordvault/internal/util"
)

const (
	separator = ":"
	tagSize   = 16
)

// Envelope is a parsed field envelope.
type Envelope struct {
	Algorithm  crypto.AEADAlgorithm
	IV         []byte
	Ciphertext []byte
}

// String renders the tagged wire form.
func (e *Envelope) String() string {
	return string(e.Algorithm) + separator + base64.StdEncoding.EncodeToString(util.ConcatBytes(e.IV, e.Ciphertext))
}

// Parse decodes s. Any malformed input, including an unknown algorithm tag,
// is errs.ErrEnvelopeAuthentication.
func Parse(s string) (*Envelope, error) {
	alg := crypto.AESGCM
	payload := s
	if tag, rest, ok := strings.Cut(s, separator); ok {
		parsed, err := crypto.ParseAEADAlgorithm(tag)
		if err != nil {
			return nil, errs.ErrEnvelopeAuthentication
		}
		alg, payload = parsed, rest
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, errs.ErrEnvelopeAuthentication
	}
	ivSize := alg.IVSize()
	if len(raw) < ivSize+tagSize {
		return nil, errs.ErrEnvelopeAuthentication
	}
	return &Envelope{
		Algorithm:  alg,
		IV:         raw[:ivSize],
		Ciphertext: raw[ivSize:],
	}, nil
}
