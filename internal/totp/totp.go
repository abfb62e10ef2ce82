// Package totp implements RFC 6238 one-time codes (HMAC-SHA1, 6 digits,
// 30 second steps) and their 4-byte wire form.
package totp

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jmcleod/wordvault/errs"
	"github.com/jmcleod/wordvault/internal/util"
)

const (
	secretBytes = 20
	Digits      = 6
	Period      = 30
	window      = 1
	Issuer      = "WordVault"
	// WireSize is the length of a code on the wire: a big-endian uint32.
	WireSize = 4
)

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateSecret returns a new random base32 secret.
func GenerateSecret() (string, error) {
	raw, err := util.RandomBytes(secretBytes)
	if err != nil {
		return "", err
	}
	return b32.EncodeToString(raw), nil
}

// Normalize strips spaces from a user-entered code.
func Normalize(code string) string {
	return strings.TrimSpace(strings.ReplaceAll(code, " ", ""))
}

// ValidCode reports whether code is exactly six ASCII digits.
func ValidCode(code string) bool {
	if len(code) != Digits {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Verify checks code against secret at now, accepting one step of drift
// either way.
func Verify(secret, code string, now time.Time) bool {
	code = Normalize(code)
	if !ValidCode(code) {
		return false
	}
	ok := false
	for i := -window; i <= window; i++ {
		at := now.Add(time.Duration(i*Period) * time.Second)
		expected, err := CodeAt(secret, at)
		if err != nil {
			return false
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			ok = true
		}
	}
	return ok
}

// CodeAt returns the code for secret at the given time.
func CodeAt(secret string, at time.Time) (string, error) {
	decoded, err := b32.DecodeString(strings.ToUpper(secret))
	if err != nil {
		return "", fmt.Errorf("decoding totp secret: %w", err)
	}

	counter := uint64(at.Unix() / Period)
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(sha1.New, decoded)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)
	offset := sum[len(sum)-1] & 0x0f
	binCode := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)
	otp := binCode % 1000000
	return fmt.Sprintf("%06d", otp), nil
}

// AuthURL returns the otpauth:// provisioning URL for authenticator apps.
func AuthURL(secret, accountLabel string) string {
	label := url.PathEscape(Issuer + ":" + accountLabel)
	values := url.Values{}
	values.Set("secret", secret)
	values.Set("issuer", Issuer)
	values.Set("algorithm", "SHA1")
	values.Set("digits", strconv.Itoa(Digits))
	values.Set("period", strconv.Itoa(Period))
	return "otpauth://totp/" + label + "?" + values.Encode()
}

// EncodeWire validates code and returns it as a 4-byte big-endian integer.
func EncodeWire(code string) ([]byte, error) {
	code = Normalize(code)
	if !ValidCode(code) {
		return nil, errs.Validationf("code", "must be exactly %d digits", Digits)
	}
	n, err := strconv.ParseUint(code, 10, 32)
	if err != nil {
		return nil, errs.Validationf("code", "must be exactly %d digits", Digits)
	}
	out := make([]byte, WireSize)
	binary.BigEndian.PutUint32(out, uint32(n))
	return out, nil
}

// DecodeWire renders a 4-byte wire code back to its zero-padded form.
func DecodeWire(b []byte) (string, error) {
	if len(b) != WireSize {
		return "", errs.Validationf("code", "expected %d bytes, got %d", WireSize, len(b))
	}
	n := binary.BigEndian.Uint32(b)
	if n > 999999 {
		return "", errs.Validationf("code", "out of range")
	}
	return fmt.Sprintf("%06d", n), nil
}
