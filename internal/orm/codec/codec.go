// Package codec converts entity property values to attributes and back.
package codec

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/encoding/json"

	"github.com/conduit-lang/entrymap/internal/orm/attribute"
	"github.com/conduit-lang/entrymap/internal/orm/schema"
)

// GeneralizedTimeLayout is the directory generalized time format
const GeneralizedTimeLayout = "20060102150405.000Z"

// TimeEncoder converts times to the value stored by a backend
type TimeEncoder interface {
	NativeTimeValue(t time.Time, multiValued bool) any
}

// TimeDecoder parses time values stored as strings
type TimeDecoder interface {
	DecodeTime(s string) (time.Time, error)
}

// Codec converts between property values and attributes
type Codec struct {
	registry *schema.Registry
	encoder  TimeEncoder
	decoder  TimeDecoder
}

// Option configures a Codec
type Option func(*Codec)

// WithTimeEncoder overrides how times are written
func WithTimeEncoder(e TimeEncoder) Option {
	return func(c *Codec) {
		if e != nil {
			c.encoder = e
		}
	}
}

// WithTimeDecoder overrides how time strings are parsed
func WithTimeDecoder(d TimeDecoder) Option {
	return func(c *Codec) {
		if d != nil {
			c.decoder = d
		}
	}
}

// New creates a codec resolving enums through the registry
func New(registry *schema.Registry, opts ...Option) *Codec {
	c := &Codec{
		registry: registry,
		encoder:  defaultTimes{},
		decoder:  defaultTimes{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// defaultTimes keeps times native on write and accepts RFC 3339 or
// generalized time on read.
type defaultTimes struct{}

func (defaultTimes) NativeTimeValue(t time.Time, _ bool) any {
	return t.UTC()
}

func (defaultTimes) DecodeTime(s string) (time.Time, error) {
	return ParseTime(s)
}

// ParseTime parses RFC 3339 and generalized time strings
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, GeneralizedTimeLayout, "20060102150405Z"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported time format %q", s)
}

// ToAttribute converts a property value to an attribute. It returns nil for
// nil pointers, zero times and empty collections.
func (c *Codec) ToAttribute(p *schema.Property, value reflect.Value) (*attribute.Data, error) {
	value, ok := deref(value)
	if !ok {
		return nil, nil
	}

	var values []any
	var err error
	switch {
	case p.Localized:
		values, err = c.encodeLocalized(p, value)
	case p.JSON:
		values, err = c.encodeJSON(p, value)
	case value.Kind() == reflect.Slice || value.Kind() == reflect.Array:
		values, err = c.encodeList(p, value)
	default:
		var v any
		v, err = c.encodeScalar(p, value, false)
		if v != nil {
			values = []any{v}
		}
	}
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, nil
	}

	return attribute.NewMultiValued(p.AttributeName, p.MultiValued(), values...), nil
}

func (c *Codec) encodeList(p *schema.Property, value reflect.Value) ([]any, error) {
	if value.Len() == 0 {
		return nil, nil
	}
	values := make([]any, 0, value.Len())
	for i := 0; i < value.Len(); i++ {
		elem, ok := deref(value.Index(i))
		if !ok {
			continue
		}
		v, err := c.encodeScalar(p, elem, true)
		if err != nil {
			return nil, err
		}
		if v != nil {
			values = append(values, v)
		}
	}
	return values, nil
}

func (c *Codec) encodeScalar(p *schema.Property, value reflect.Value, multiValued bool) (any, error) {
	if value.Type() == reflect.TypeOf(time.Time{}) {
		t := value.Interface().(time.Time)
		if t.IsZero() {
			return nil, nil
		}
		return c.encoder.NativeTimeValue(t, multiValued), nil
	}
	if enum, ok := asEnum(value); ok {
		return enum.AttributeValue(), nil
	}

	switch value.Kind() {
	case reflect.String:
		return value.String(), nil
	case reflect.Bool:
		return value.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return value.Int(), nil
	default:
		return nil, c.mappingError(p, "unsupported value type %s", value.Type())
	}
}

func (c *Codec) encodeJSON(p *schema.Property, value reflect.Value) ([]any, error) {
	if (value.Kind() == reflect.Slice || value.Kind() == reflect.Array) && p.MultiValued() {
		if value.Len() == 0 {
			return nil, nil
		}
		values := make([]any, 0, value.Len())
		for i := 0; i < value.Len(); i++ {
			data, err := json.Marshal(value.Index(i).Interface())
			if err != nil {
				return nil, c.wrap(p, "failed to encode json value", err)
			}
			values = append(values, string(data))
		}
		return values, nil
	}
	if value.Kind() == reflect.Map && value.Len() == 0 {
		return nil, nil
	}

	data, err := json.Marshal(value.Interface())
	if err != nil {
		return nil, c.wrap(p, "failed to encode json value", err)
	}
	return []any{string(data)}, nil
}

func (c *Codec) encodeLocalized(p *schema.Property, value reflect.Value) ([]any, error) {
	ls, ok := value.Interface().(attribute.LocalizedString)
	if !ok {
		return nil, c.mappingError(p, "expected attribute.LocalizedString, got %s", value.Type())
	}
	if ls.IsEmpty() {
		return nil, nil
	}
	data, err := json.Marshal(ls.Map(p.AttributeName))
	if err != nil {
		return nil, c.wrap(p, "failed to encode localized value", err)
	}
	return []any{string(data)}, nil
}

// FromAttribute decodes an attribute into target, which must be settable.
// A nil or empty attribute leaves target untouched.
func (c *Codec) FromAttribute(p *schema.Property, data *attribute.Data, target reflect.Value) error {
	if data == nil || len(data.Values) == 0 {
		return nil
	}
	if !target.CanSet() {
		return c.mappingError(p, "target is not settable")
	}

	if p.Localized {
		ls, err := c.localizedFrom(p, []*attribute.Data{data})
		if err != nil {
			return err
		}
		if err := assign(target, reflect.ValueOf(ls)); err != nil {
			return c.wrap(p, "failed to assign value", err)
		}
		return nil
	}

	t := target.Type()
	elemType := t
	for elemType.Kind() == reflect.Ptr {
		elemType = elemType.Elem()
	}

	var decoded reflect.Value
	var err error
	switch {
	case p.JSON:
		decoded, err = c.decodeJSON(p, elemType, data.Values)
	case elemType.Kind() == reflect.Slice:
		decoded, err = c.decodeList(p, elemType, data.Values)
	case elemType.Kind() == reflect.Array:
		decoded, err = c.decodeArray(p, elemType, data.Values)
	default:
		decoded, err = c.decodeScalar(p, elemType, data.Values[0])
	}
	if err != nil {
		return err
	}
	if err := assign(target, decoded); err != nil {
		return c.wrap(p, "failed to assign value", err)
	}
	return nil
}

func (c *Codec) decodeList(p *schema.Property, t reflect.Type, values []any) (reflect.Value, error) {
	result := reflect.MakeSlice(t, 0, len(values))
	for _, v := range values {
		if v == nil {
			continue
		}
		elem, err := c.decodeElem(p, t.Elem(), v)
		if err != nil {
			return reflect.Value{}, err
		}
		result = reflect.Append(result, elem)
	}
	return result, nil
}

func (c *Codec) decodeArray(p *schema.Property, t reflect.Type, values []any) (reflect.Value, error) {
	result := reflect.New(t).Elem()
	for i, v := range values {
		if i >= t.Len() {
			break
		}
		elem, err := c.decodeElem(p, t.Elem(), v)
		if err != nil {
			return reflect.Value{}, err
		}
		result.Index(i).Set(elem)
	}
	return result, nil
}

// decodeElem decodes into t, allocating a pointer when t is a pointer type
func (c *Codec) decodeElem(p *schema.Property, t reflect.Type, v any) (reflect.Value, error) {
	if t.Kind() == reflect.Ptr {
		inner, err := c.decodeElem(p, t.Elem(), v)
		if err != nil {
			return reflect.Value{}, err
		}
		ptr := reflect.New(t.Elem())
		ptr.Elem().Set(inner)
		return ptr, nil
	}
	return c.decodeScalar(p, t, v)
}

func (c *Codec) decodeScalar(p *schema.Property, t reflect.Type, v any) (reflect.Value, error) {
	if t == reflect.TypeOf(time.Time{}) {
		switch tv := v.(type) {
		case time.Time:
			return reflect.ValueOf(tv), nil
		default:
			parsed, err := c.decoder.DecodeTime(attribute.ValueString(v))
			if err != nil {
				return reflect.Value{}, c.wrap(p, "failed to decode time", err)
			}
			return reflect.ValueOf(parsed), nil
		}
	}

	if schema.IsEnumType(t) {
		enum, err := c.registry.ResolveEnum(t, attribute.ValueString(v))
		if err != nil {
			return reflect.Value{}, c.wrap(p, "failed to decode enum", err)
		}
		return reflect.ValueOf(enum), nil
	}

	switch t.Kind() {
	case reflect.String:
		return reflect.ValueOf(attribute.ValueString(v)).Convert(t), nil
	case reflect.Bool:
		if b, ok := v.(bool); ok {
			return reflect.ValueOf(b).Convert(t), nil
		}
		b, err := strconv.ParseBool(attribute.ValueString(v))
		if err != nil {
			return reflect.Value{}, c.wrap(p, "failed to decode bool", err)
		}
		return reflect.ValueOf(b).Convert(t), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := toInt64(v)
		if err != nil {
			return reflect.Value{}, c.wrap(p, "failed to decode integer", err)
		}
		result := reflect.New(t).Elem()
		if result.OverflowInt(n) {
			return reflect.Value{}, c.mappingError(p, "value %d overflows %s", n, t)
		}
		result.SetInt(n)
		return result, nil
	default:
		return reflect.Value{}, c.mappingError(p, "unsupported value type %s", t)
	}
}

func (c *Codec) decodeJSON(p *schema.Property, t reflect.Type, values []any) (reflect.Value, error) {
	if (t.Kind() == reflect.Slice || t.Kind() == reflect.Array) && p.MultiValued() {
		result := reflect.MakeSlice(reflect.SliceOf(t.Elem()), 0, len(values))
		for _, v := range values {
			elem := reflect.New(t.Elem())
			if err := unmarshalValue(v, elem.Interface()); err != nil {
				return reflect.Value{}, c.wrap(p, "failed to decode json value", err)
			}
			result = reflect.Append(result, elem.Elem())
		}
		if t.Kind() == reflect.Array {
			array := reflect.New(t).Elem()
			reflect.Copy(array, result)
			return array, nil
		}
		return result, nil
	}

	target := reflect.New(t)
	if err := unmarshalValue(values[0], target.Interface()); err != nil {
		return reflect.Value{}, c.wrap(p, "failed to decode json value", err)
	}
	return target.Elem(), nil
}

// CustomAttributeToData converts a dynamic list item to an attribute
func (c *Codec) CustomAttributeToData(ca attribute.CustomAttribute) *attribute.Data {
	values := make([]any, 0, len(ca.Values))
	for _, v := range ca.Values {
		if t, ok := v.(time.Time); ok {
			values = append(values, c.encoder.NativeTimeValue(t, ca.MultiValued))
			continue
		}
		values = append(values, v)
	}
	return attribute.NewMultiValued(ca.Name, ca.MultiValued, values...)
}

// CustomAttributeFromData converts an attribute to a dynamic list item
func (c *Codec) CustomAttributeFromData(d *attribute.Data) attribute.CustomAttribute {
	values := make([]any, len(d.Values))
	copy(values, d.Values)
	ca := attribute.NewCustomAttribute(d.Name, values...)
	ca.MultiValued = ca.MultiValued || d.IsMultiValued()
	return ca
}

func (c *Codec) mappingError(p *schema.Property, format string, args ...any) error {
	return schema.NewMappingError("", p.Name, format, args...)
}

func (c *Codec) wrap(p *schema.Property, reason string, err error) error {
	return &schema.MappingError{Property: p.Name, Reason: reason, Err: err}
}

func deref(v reflect.Value) (reflect.Value, bool) {
	for v.IsValid() && (v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}, false
		}
		v = v.Elem()
	}
	return v, v.IsValid()
}

func asEnum(v reflect.Value) (attribute.Enum, bool) {
	if !v.CanInterface() {
		return nil, false
	}
	enum, ok := v.Interface().(attribute.Enum)
	return enum, ok
}

func assign(target, value reflect.Value) error {
	t := target.Type()
	if t.Kind() == reflect.Ptr && value.Type() != t {
		ptr := reflect.New(t.Elem())
		if err := assign(ptr.Elem(), value); err != nil {
			return err
		}
		target.Set(ptr)
		return nil
	}
	if value.Type().AssignableTo(t) {
		target.Set(value)
		return nil
	}
	if value.Type().ConvertibleTo(t) {
		target.Set(value.Convert(t))
		return nil
	}
	return fmt.Errorf("cannot assign %s to %s", value.Type(), t)
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		return uintToInt64(uint64(n))
	case uint32:
		return int64(n), nil
	case uint64:
		return uintToInt64(n)
	case float32:
		return floatToInt64(float64(n))
	case float64:
		return floatToInt64(n)
	case json.Number:
		return n.Int64()
	default:
		return strconv.ParseInt(strings.TrimSpace(attribute.ValueString(v)), 10, 64)
	}
}

func uintToInt64(n uint64) (int64, error) {
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("value %d overflows int64", n)
	}
	return int64(n), nil
}

func floatToInt64(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("value %v is not an integer", f)
	}
	// 2^63 is the first float64 above MaxInt64
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, fmt.Errorf("value %v overflows int64", f)
	}
	return int64(f), nil
}

func unmarshalValue(v any, target any) error {
	switch raw := v.(type) {
	case string:
		return json.Unmarshal([]byte(raw), target)
	case []byte:
		return json.Unmarshal(raw, target)
	default:
		data, err := json.Marshal(raw)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, target)
	}
}
