package vault

import (
	"errors"
	"fmt"

	"github.com/jmcleod/wordvault/errs"
)

var (
	// ErrItemNotFound indicates the item does not exist in the local mirror.
	ErrItemNotFound = errors.New("item not found")
	// ErrNotLoaded indicates no account has been loaded into the service.
	ErrNotLoaded = fmt.Errorf("%w: no account loaded", errs.ErrProtocolState)
)
