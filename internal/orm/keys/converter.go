// Package keys converts hierarchical entry identifiers (dn strings such as
// "uid=bob,ou=people,o=acme") into the flat keys used by key-value and
// document backends.
package keys

import (
	"errors"
	"fmt"
	"strings"
)

// RootOrganization is the organization value meaning "no scope"
const RootOrganization = "jans"

// EmptyKey is the flat key of an identifier made of organization segments only
const EmptyKey = "_"

// ErrKeyConversion is the sentinel matched by every KeyConversionError
var ErrKeyConversion = errors.New("key conversion error")

// KeyConversionError reports an identifier that cannot be parsed
type KeyConversionError struct {
	Key    string
	Reason string
}

// Error implements the error interface
func (e *KeyConversionError) Error() string {
	return fmt.Sprintf("failed to convert key %q: %s", e.Key, e.Reason)
}

// Is matches ErrKeyConversion
func (e *KeyConversionError) Is(target error) bool {
	return target == ErrKeyConversion
}

// IsKeyConversionError returns true if the error is a KeyConversionError
func IsKeyConversionError(err error) bool {
	return errors.Is(err, ErrKeyConversion)
}

// ParsedKey is the flat form of an identifier
type ParsedKey struct {
	// Key is the flat key, e.g. "people_bob"
	Key string
	// Name is the attribute name of the leaf segment, e.g. "uid"
	Name string
	// OrgScope is the organization value unless it is the root organization
	OrgScope string
}

// Converter parses identifiers into flat keys
type Converter struct {
	useAllRdn bool
}

// NewConverter creates a converter. With useAllRdn every non-organization
// segment contributes to the key, otherwise only the leaf segment does.
func NewConverter(useAllRdn bool) *Converter {
	return &Converter{useAllRdn: useAllRdn}
}

// Parse converts an identifier. Segment values are prepended so that
// "uid=bob,ou=people,o=acme" becomes "people_bob" with scope "acme".
func (c *Converter) Parse(key string) (ParsedKey, error) {
	if strings.TrimSpace(key) == "" {
		return ParsedKey{}, &KeyConversionError{Key: key, Reason: "key is empty"}
	}

	var result ParsedKey
	var parts []string
	consumed := false

	for _, segment := range strings.Split(key, ",") {
		segment = strings.TrimSpace(segment)
		name, value, ok := strings.Cut(segment, "=")
		if !ok {
			return ParsedKey{}, &KeyConversionError{Key: key, Reason: fmt.Sprintf("segment %q has no '='", segment)}
		}
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)

		if strings.EqualFold(name, "o") {
			if value != RootOrganization {
				result.OrgScope = value
			}
			continue
		}

		if consumed && !c.useAllRdn {
			continue
		}
		if !consumed {
			result.Name = name
			consumed = true
		}
		parts = append([]string{value}, parts...)
	}

	result.Key = strings.Join(parts, "_")
	if result.Key == "" {
		result.Key = EmptyKey
	}
	return result, nil
}

// FlatKey is a shorthand for Parse returning only the flat key
func (c *Converter) FlatKey(key string) (string, error) {
	parsed, err := c.Parse(key)
	if err != nil {
		return "", err
	}
	return parsed.Key, nil
}
