package codec

import (
	"sort"
	"strings"

	"github.com/segmentio/encoding/json"

	"github.com/conduit-lang/entrymap/internal/orm/attribute"
	"github.com/conduit-lang/entrymap/internal/orm/schema"
)

// LoadLocalized gathers every attribute belonging to a localized property
// from a working map keyed by lower-cased attribute name. Matching keys are
// the bare attribute name and name#tag variants. It returns the merged
// bundle and the matched keys so callers can consume them.
func (c *Codec) LoadLocalized(p *schema.Property, attrs map[string]*attribute.Data) (attribute.LocalizedString, []string, error) {
	name := strings.ToLower(p.AttributeName)

	var keys []string
	for key := range attrs {
		if key == name || strings.HasPrefix(key, name+attribute.LanguageTagSeparator) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	matched := make([]*attribute.Data, 0, len(keys))
	for _, key := range keys {
		matched = append(matched, attrs[key])
	}

	ls, err := c.localizedFrom(p, matched)
	if err != nil {
		return attribute.LocalizedString{}, nil, err
	}
	return ls, keys, nil
}

// localizedFrom merges attributes holding either JSON bundles keyed by
// name#tag or plain values tagged by their own attribute name.
func (c *Codec) localizedFrom(p *schema.Property, attrs []*attribute.Data) (attribute.LocalizedString, error) {
	var ls attribute.LocalizedString
	for _, data := range attrs {
		if data == nil {
			continue
		}
		_, ownTag := attribute.SplitWireKey(data.Name)

		for _, v := range data.Values {
			switch val := v.(type) {
			case nil:
				continue
			case map[string]string:
				for key, s := range val {
					_, tag := attribute.SplitWireKey(key)
					ls.SetValue(s, tag)
				}
			case map[string]any:
				for key, s := range val {
					_, tag := attribute.SplitWireKey(key)
					ls.SetValue(attribute.ValueString(s), tag)
				}
			default:
				s := attribute.ValueString(v)
				if !strings.HasPrefix(strings.TrimSpace(s), "{") {
					ls.SetValue(s, ownTag)
					continue
				}
				var bundle map[string]string
				if err := json.Unmarshal([]byte(s), &bundle); err != nil {
					if ownTag != "" {
						// a tagged attribute holds one value, braces included
						ls.SetValue(s, ownTag)
						continue
					}
					return ls, c.wrap(p, "failed to decode localized value", err)
				}
				for key, value := range bundle {
					_, tag := attribute.SplitWireKey(key)
					ls.SetValue(value, tag)
				}
			}
		}
	}
	return ls, nil
}
