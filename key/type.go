// Package key implements the key-wrapping pipeline: the password-derived
// key-wrapping key, the random content key it protects, the HMAC tag that
// binds the wrapped blob to the secret words, and the derived auth hash.
package key

// Type represents the role of a key.
type Type int

const (
	Content Type = iota
	KeyWrapping
)

func (t Type) String() string {
	switch t {
	case Content:
		return "Content"
	case KeyWrapping:
		return "KeyWrapping"
	default:
		return "Unknown"
	}
}
