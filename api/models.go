package api

import (
	"github.com/jmcleod/wordvault/crypto"
	"github.com/jmcleod/wordvault/vault"
)

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RegistrationBundle is returned by POST /register/init. The words are shown
// to the user once and never again.
type RegistrationBundle struct {
	UUID       string   `json:"uuid"`
	Words      []string `json:"words"`
	TOTPSecret string   `json:"totp_secret"`
	OTPAuthURL string   `json:"otpauth_url"`
	ExpiresAt  string   `json:"expires_at"`
}

// VerifyTOTPRequest is the body of POST /register/verify-totp.
type VerifyTOTPRequest struct {
	UUID string `json:"uuid"`
	Code string `json:"code"`
}

// RegisterRequest is the body of POST /register. Binary fields travel as
// standard base64.
type RegisterRequest struct {
	UUID           string               `json:"uuid"`
	UsernameHash   []byte               `json:"username_hash"`
	WrappedKey     []byte               `json:"wrapped_key"`
	HMACWrappedKey []byte               `json:"hmac_wrapped_key"`
	AuthHash       []byte               `json:"auth_hash"`
	LoginVerifier  []byte               `json:"login_verifier"`
	Algorithm      crypto.AEADAlgorithm `json:"algorithm"`
	Email          string               `json:"email,omitempty"`
}

type RegisterResponse struct {
	UUID string `json:"uuid"`
}

// ItemMutationRequest is the signed body of item create, update and delete.
type ItemMutationRequest struct {
	UUID         string     `json:"uuid"`
	UsernameHash []byte     `json:"username_hash"`
	Item         vault.Item `json:"item"`
}

type ListItemsResponse struct {
	Items      []vault.Item   `json:"items"`
	Pagination PaginationMeta `json:"pagination"`
}

// PasswordChangeRequest is the signed body of POST /account/password. The
// content key is unchanged; only its wrapping and the password-derived
// verifiers are replaced.
type PasswordChangeRequest struct {
	UUID              string `json:"uuid"`
	UsernameHash      []byte `json:"username_hash"`
	AuthHash          []byte `json:"auth_hash"`
	NewWrappedKey     []byte `json:"new_wrapped_key"`
	NewHMACWrappedKey []byte `json:"new_hmac_wrapped_key"`
	NewAuthHash       []byte `json:"new_auth_hash"`
	NewLoginVerifier  []byte `json:"new_login_verifier"`
}
