package vault

import (
	"unicode"
	"unicode/utf8"

	"github.com/jmcleod/wordvault/envelope"
	"github.com/jmcleod/wordvault/errs"
)

func validationErrorf(field, format string, args ...any) error {
	return errs.Validationf(field, format, args...)
}

func validateID(id string) error {
	if id == "" {
		return validationErrorf("id", "must not be empty")
	}
	if len(id) > MaxIDLength {
		return validationErrorf("id", "exceeds maximum length of %d", MaxIDLength)
	}
	if !utf8.ValidString(id) {
		return validationErrorf("id", "contains invalid UTF-8")
	}
	for _, r := range id {
		if r == ':' || r == '/' {
			return validationErrorf("id", "contains forbidden character %q", r)
		}
		if unicode.IsControl(r) {
			return validationErrorf("id", "contains control character")
		}
	}
	return nil
}

func validateName(name string) error {
	if name == "" {
		return validationErrorf("name", "must not be empty")
	}
	if len(name) > MaxNameLength {
		return validationErrorf("name", "exceeds maximum length of %d", MaxNameLength)
	}
	if !utf8.ValidString(name) {
		return validationErrorf("name", "contains invalid UTF-8")
	}
	return nil
}

// validateFields checks plaintext field names and sizes against t.
func validateFields(t ItemType, fields map[string]string) error {
	if !t.Valid() {
		return validationErrorf("type", "unknown item type %q", t)
	}
	if len(fields) == 0 {
		return validationErrorf("fields", "item must have at least one field")
	}
	for name, value := range fields {
		if !t.Allows(name) {
			return validationErrorf("fields", "field %q is not allowed for %s items", name, t)
		}
		if len(value) > MaxFieldSize {
			return validationErrorf("fields", "field %q size %d exceeds maximum of %d bytes", name, len(value), MaxFieldSize)
		}
		if !utf8.ValidString(value) {
			return validationErrorf("fields", "field %q contains invalid UTF-8", name)
		}
	}
	return nil
}

// Validate checks the shape of an item holding envelopes. It does not
// decrypt anything; the server uses it to reject malformed uploads.
func (i *Item) Validate() error {
	if err := validateID(i.ID); err != nil {
		return err
	}
	if err := validateName(i.Name); err != nil {
		return err
	}
	if !i.Type.Valid() {
		return validationErrorf("type", "unknown item type %q", i.Type)
	}
	if len(i.Fields) == 0 {
		return validationErrorf("fields", "item must have at least one field")
	}
	for name, env := range i.Fields {
		if !i.Type.Allows(name) {
			return validationErrorf("fields", "field %q is not allowed for %s items", name, i.Type)
		}
		if _, err := envelope.Parse(env); err != nil {
			return validationErrorf("fields", "field %q is not a valid envelope", name)
		}
	}
	return nil
}
