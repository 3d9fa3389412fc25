// Package merge computes the attribute modifications that bring a stored
// entry in line with the desired state of an entity.
package merge

import (
	"sort"
	"strings"

	"github.com/conduit-lang/entrymap/internal/orm/attribute"
	"github.com/conduit-lang/entrymap/internal/orm/schema"
)

// Mode selects the update regime
type Mode int

const (
	// ModeData is an ordinary entity update
	ModeData Mode = iota
	// ModeSchema applies schema definitions; the stored state is not read
	ModeSchema
	// ModeConfiguration behaves like ModeData without loading objectClass
	ModeConfiguration
)

// String returns the string representation of the mode
func (m Mode) String() string {
	switch m {
	case ModeData:
		return "data"
	case ModeSchema:
		return "schema"
	case ModeConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

// Options controls CollectModifications
type Options struct {
	Mode Mode
	// SchemaModification is the kind emitted for new attributes in schema mode:
	// ModificationAdd or ModificationRemove
	SchemaModification attribute.ModificationType
	// ForceUpdate rewrites every declared attribute
	ForceUpdate bool
	// StoreFullEntry is set for backends persisting whole rows, where an
	// empty stored cell needs no removal
	StoreFullEntry bool
}

// CollectModifications compares desired and current attribute maps keyed by
// lower-cased attribute name. Fixed property modifications come first in
// declaration order, followed by dynamic list modifications sorted by name.
// Inputs are not modified.
func CollectModifications(props []*schema.Property, listOpts map[string]schema.AttributeOptions,
	desired, current map[string]*attribute.Data, opts Options) []attribute.Modification {
	c := &collector{
		desired: copyMap(desired),
		current: copyMap(current),
		opts:    opts,
	}

	hasList := false
	for _, p := range props {
		if p.Has(schema.DirectiveAttribute) {
			c.collectFixed(p)
		}
		if p.Has(schema.DirectiveAttributesList) {
			hasList = true
		}
	}

	if hasList {
		c.collectDynamic(listOpts)
	}

	return c.mods
}

type collector struct {
	desired map[string]*attribute.Data
	current map[string]*attribute.Data
	opts    Options
	mods    []attribute.Modification
}

func (c *collector) add(t attribute.ModificationType, attr, old *attribute.Data) {
	c.mods = append(c.mods, attribute.Modification{Type: t, Attribute: attr, OldAttribute: old})
}

func (c *collector) remove(old *attribute.Data) {
	c.add(attribute.ModificationRemove, nil, old)
}

func (c *collector) collectFixed(p *schema.Property) {
	name := strings.ToLower(p.AttributeName)

	want := c.desired[name]
	have := c.current[name]
	delete(c.desired, name)
	delete(c.current, name)

	if p.IgnoreDuringUpdate {
		return
	}

	switch {
	case want != nil && have != nil:
		if have.Equal(want) {
			return
		}
		if want.IsEmpty() && !p.UpdateOnly {
			c.remove(have)
			return
		}
		c.add(attribute.ModificationReplace, want, have)

	case want != nil:
		if c.opts.Mode == ModeSchema && isNullValue(want) {
			return
		}
		c.collectNew(want)

	case have != nil:
		if p.IgnoreDuringRead || p.UpdateOnly {
			return
		}
		if c.opts.StoreFullEntry && have.IsEmpty() {
			return
		}
		c.remove(have)

	case c.opts.ForceUpdate:
		placeholder := attribute.New(p.AttributeName, nil)
		placeholder.SetMultiValued(p.MultiValued())
		c.remove(placeholder)
	}
}

// collectNew handles an attribute that is desired but not stored
func (c *collector) collectNew(want *attribute.Data) {
	kind := attribute.ModificationAdd
	if c.opts.Mode == ModeSchema {
		kind = c.opts.SchemaModification
	}

	if kind != attribute.ModificationAdd {
		c.remove(want)
		return
	}

	if want.IsEmpty() {
		if c.opts.ForceUpdate {
			c.remove(want)
		}
		return
	}

	if c.opts.ForceUpdate {
		c.add(attribute.ModificationForceUpdate, want, nil)
		return
	}
	c.add(attribute.ModificationAdd, want, nil)
}

func (c *collector) collectDynamic(listOpts map[string]schema.AttributeOptions) {
	start := len(c.mods)

	for name, have := range c.current {
		if strings.EqualFold(name, attribute.ObjectClass) {
			continue
		}
		cfg, configured := listOpts[name]
		if configured && cfg.IgnoreDuringUpdate {
			continue
		}
		if _, ok := c.desired[name]; ok {
			continue
		}
		if configured && cfg.IgnoreDuringRead {
			continue
		}
		c.remove(have)
	}

	for name, want := range c.desired {
		if strings.EqualFold(name, attribute.ObjectClass) {
			continue
		}
		cfg := listOpts[name]
		if cfg.IgnoreDuringUpdate {
			continue
		}

		have, ok := c.current[name]
		switch {
		case !ok:
			c.collectDynamicNew(want)
		case len(want.Values) == 0:
			if c.opts.StoreFullEntry && have.IsEmpty() {
				continue
			}
			c.remove(have)
		case !have.Equal(want):
			if want.IsEmpty() && !cfg.UpdateOnly {
				if c.opts.StoreFullEntry && have.IsEmpty() {
					continue
				}
				c.remove(have)
				continue
			}
			c.add(attribute.ModificationReplace, want, have)
		}
	}

	dynamic := c.mods[start:]
	sort.SliceStable(dynamic, func(i, j int) bool {
		return strings.ToLower(dynamic[i].Name()) < strings.ToLower(dynamic[j].Name())
	})
}

func (c *collector) collectDynamicNew(want *attribute.Data) {
	kind := attribute.ModificationAdd
	if c.opts.Mode == ModeSchema {
		kind = c.opts.SchemaModification
	}
	if kind != attribute.ModificationAdd {
		c.remove(want)
		return
	}
	if !want.IsEmpty() {
		c.add(attribute.ModificationAdd, want, nil)
	}
}

// isNullValue reports whether an attribute holds no values or a single nil
func isNullValue(d *attribute.Data) bool {
	return len(d.Values) == 0 || (len(d.Values) == 1 && d.Values[0] == nil)
}

func copyMap(m map[string]*attribute.Data) map[string]*attribute.Data {
	result := make(map[string]*attribute.Data, len(m))
	for k, v := range m {
		if v != nil {
			result[k] = v
		}
	}
	return result
}
