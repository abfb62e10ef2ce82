// Package crypto is the primitive adapter every other wordvault package goes
// through: hashing, HMAC, password-based key derivation, authenticated
// encryption and randomness, behind the Provider interface. It also defines
// the ten-word secret that drives the authentication protocol.
package crypto
