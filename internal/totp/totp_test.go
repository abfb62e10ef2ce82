package totp

import (
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/jmcleod/wordvault/errs"
)

// RFC 6238 Appendix B secret "12345678901234567890" in base32.
const rfcSecret = "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"

func TestCodeAt_RFC6238(t *testing.T) {
	tests := []struct {
		unix int64
		want string
	}{
		{59, "287082"},
		{1111111109, "081804"},
		{1234567890, "005924"},
		{2000000000, "279037"},
	}
	for _, tt := range tests {
		got, err := CodeAt(rfcSecret, time.Unix(tt.unix, 0))
		if err != nil {
			t.Fatalf("CodeAt failed: %v", err)
		}
		if got != tt.want {
			t.Errorf("at %d: expected %s, got %s", tt.unix, tt.want, got)
		}
	}
}

func TestVerify(t *testing.T) {
	secret, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}
	now := time.Now()
	code, _ := CodeAt(secret, now)

	if !Verify(secret, code, now) {
		t.Error("current code should verify")
	}
	if !Verify(secret, code[:3]+" "+code[3:], now) {
		t.Error("code with a space should verify")
	}
	if !Verify(secret, code, now.Add(Period*time.Second)) {
		t.Error("code from previous step should verify")
	}
	if Verify(secret, code, now.Add(5*Period*time.Second)) {
		t.Error("stale code should not verify")
	}
	if Verify(secret, "12345", now) || Verify(secret, "abcdef", now) {
		t.Error("malformed codes should not verify")
	}
	if Verify("not base32!", code, now) {
		t.Error("bad secret should not verify")
	}
}

func TestAuthURL(t *testing.T) {
	u, err := url.Parse(AuthURL("JBSWY3DPEHPK3PXP", "1111"))
	if err != nil {
		t.Fatalf("invalid url: %v", err)
	}
	if u.Scheme != "otpauth" || u.Host != "totp" {
		t.Errorf("unexpected url %s", u)
	}
	if !strings.Contains(u.Path, "WordVault:1111") {
		t.Errorf("unexpected label %s", u.Path)
	}
	if u.Query().Get("secret") != "JBSWY3DPEHPK3PXP" {
		t.Error("secret missing from url")
	}
}

func TestWire(t *testing.T) {
	b, err := EncodeWire("012345")
	if err != nil {
		t.Fatalf("EncodeWire failed: %v", err)
	}
	if len(b) != WireSize || b[0] != 0 || b[1] != 0 || b[2] != 0x30 || b[3] != 0x39 {
		t.Errorf("unexpected wire bytes %x", b)
	}
	code, err := DecodeWire(b)
	if err != nil || code != "012345" {
		t.Errorf("DecodeWire: got %q, %v", code, err)
	}

	for _, bad := range []string{"", "12345", "1234567", "12a456", "١٢٣٤٥٦"} {
		if _, err := EncodeWire(bad); !errors.Is(err, errs.ErrValidation) {
			t.Errorf("EncodeWire(%q): expected validation error, got %v", bad, err)
		}
	}
	if _, err := DecodeWire([]byte{1, 2, 3}); !errors.Is(err, errs.ErrValidation) {
		t.Errorf("expected validation error for short input, got %v", err)
	}
	if _, err := DecodeWire([]byte{0xFF, 0xFF, 0xFF, 0xFF}); !errors.Is(err, errs.ErrValidation) {
		t.Errorf("expected validation error for out-of-range input, got %v", err)
	}
}
