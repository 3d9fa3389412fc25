package attribute

import (
	"sort"
	"strings"

	"golang.org/x/text/language"
)

// LanguageTagSeparator joins an attribute name and a language tag in wire keys
const LanguageTagSeparator = "#"

// LocalizedString holds per-language variants of one logical string.
// The empty tag is the default locale.
type LocalizedString struct {
	values map[string]string
}

// NewLocalizedString creates a bundle holding the default value
func NewLocalizedString(defaultValue string) LocalizedString {
	ls := LocalizedString{}
	ls.SetValue(defaultValue, "")
	return ls
}

// SetValue stores a value for a language tag; an empty tag is the default locale
func (ls *LocalizedString) SetValue(value, tag string) {
	if ls.values == nil {
		ls.values = make(map[string]string)
	}
	ls.values[canonicalTag(tag)] = value
}

// Value returns the value for a tag
func (ls LocalizedString) Value(tag string) (string, bool) {
	v, ok := ls.values[canonicalTag(tag)]
	return v, ok
}

// DefaultValue returns the value of the default locale
func (ls LocalizedString) DefaultValue() string {
	return ls.values[""]
}

// LanguageTags returns the stored tags, default locale first then sorted
func (ls LocalizedString) LanguageTags() []string {
	tags := make([]string, 0, len(ls.values))
	for tag := range ls.values {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Len returns the number of stored variants
func (ls LocalizedString) Len() int {
	return len(ls.values)
}

// IsEmpty reports whether the bundle holds no variants
func (ls LocalizedString) IsEmpty() bool {
	return len(ls.values) == 0
}

// WireKey returns the attribute key for a tag: the bare name for the default
// locale, name#tag otherwise.
func WireKey(name, tag string) string {
	tag = canonicalTag(tag)
	if tag == "" {
		return name
	}
	return name + LanguageTagSeparator + tag
}

// SplitWireKey splits name#tag into its parts
func SplitWireKey(key string) (name, tag string) {
	idx := strings.Index(key, LanguageTagSeparator)
	if idx < 0 {
		return key, ""
	}
	return key[:idx], canonicalTag(key[idx+1:])
}

// Map returns the bundle keyed by wire key
func (ls LocalizedString) Map(name string) map[string]string {
	result := make(map[string]string, len(ls.values))
	for tag, v := range ls.values {
		result[WireKey(name, tag)] = v
	}
	return result
}

func canonicalTag(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return ""
	}
	parsed, err := language.Parse(tag)
	if err != nil {
		return tag
	}
	return parsed.String()
}
