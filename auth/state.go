package auth

import (
	"errors"
	"fmt"

	"github.com/jmcleod/wordvault/errs"
)

// State is a step of the login flow.
type State int

const (
	AwaitingUsername State = iota
	AwaitingSecretWords
	AwaitingPassword
	AwaitingOneTimeCode
	Authenticated
)

func (s State) String() string {
	switch s {
	case AwaitingUsername:
		return "awaiting_username"
	case AwaitingSecretWords:
		return "awaiting_secret_words"
	case AwaitingPassword:
		return "awaiting_password"
	case AwaitingOneTimeCode:
		return "awaiting_one_time_code"
	case Authenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrAuthenticationFailed is returned when the server rejects a login
// step. It never says which factor was wrong.
var ErrAuthenticationFailed = errors.New("authentication failed")

func protocolErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errs.ErrProtocolState, fmt.Sprintf(format, args...))
}
