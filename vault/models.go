// Package vault manages vault items for an authenticated session. Item
// fields are encrypted client-side with the content key held in custody and
// bound to their item and field name; the server and the local mirror only
// ever see envelopes.
package vault

import (
	"maps"
	"slices"
	"time"

	"github.com/jmcleod/wordvault/crypto"
)

// ItemType selects the field set of an item.
type ItemType string

const (
	TypeCredential ItemType = "credential"
	TypeCard       ItemType = "card"
	TypeNote       ItemType = "note"
)

var fieldSets = map[ItemType][]string{
	TypeCredential: {"username", "password", "url", "notes"},
	TypeCard:       {"number", "holder", "expiry", "cvv", "notes"},
	TypeNote:       {"title", "content"},
}

// Fields returns the allowed field names for t, or nil if t is unknown.
func (t ItemType) Fields() []string {
	return slices.Clone(fieldSets[t])
}

// Valid reports whether t is a known item type.
func (t ItemType) Valid() bool {
	_, ok := fieldSets[t]
	return ok
}

// Allows reports whether field belongs to t's field set.
func (t ItemType) Allows(field string) bool {
	return slices.Contains(fieldSets[t], field)
}

// ParseItemType parses s.
func ParseItemType(s string) (ItemType, error) {
	t := ItemType(s)
	if !t.Valid() {
		return "", validationErrorf("type", "unknown item type %q", s)
	}
	return t, nil
}

// Item is a vault item as stored and transported. Field values are
// envelope strings.
type Item struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Type      ItemType          `json:"type"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
	Fields    map[string]string `json:"fields"`
}

// Clone returns a deep copy of i.
func (i *Item) Clone() *Item {
	cp := *i
	cp.Fields = maps.Clone(i.Fields)
	return &cp
}

// Account identifies the authenticated account on the wire.
type Account struct {
	UUID         string
	UsernameHash []byte
}

// Snapshot is the vault document returned at login.
type Snapshot struct {
	Algorithm crypto.AEADAlgorithm `json:"algorithm"`
	Items     []Item               `json:"items"`
}

// ItemPage is one page of a listing.
type ItemPage struct {
	Items  []Item
	Total  int
	Limit  int
	Offset int
}

const (
	MaxIDLength        = 256
	MaxNameLength      = 256
	MaxFieldNameLength = 128
	MaxFieldSize       = 64 << 10 // 64KB per field
	DefaultPageLimit   = 50
	MaxPageLimit       = 500
)
