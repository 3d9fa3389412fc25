package backend

import (
	"sort"
	"strings"
	"time"

	"github.com/conduit-lang/entrymap/internal/orm/attribute"
	"github.com/segmentio/encoding/json"
)

// DocumentAttribute is the JSON form of one attribute
type DocumentAttribute struct {
	Name        string `json:"name"`
	Values      []any  `json:"values"`
	MultiValued bool   `json:"multiValued,omitempty"`
}

// Document is the JSON form of an entry used by key-value and object stores
type Document struct {
	DN            string              `json:"dn"`
	ObjectClasses []string            `json:"objectClasses"`
	Attributes    []DocumentAttribute `json:"attributes"`
	ExpiresAt     *time.Time          `json:"expiresAt,omitempty"`
}

// NewDocumentAttribute converts attribute data to its JSON form
func NewDocumentAttribute(a *attribute.Data) DocumentAttribute {
	return DocumentAttribute{
		Name:        a.Name,
		Values:      append([]any(nil), a.Values...),
		MultiValued: a.IsMultiValued(),
	}
}

// Data converts the attribute back. Whole JSON numbers become int64.
func (a DocumentAttribute) Data() *attribute.Data {
	values := make([]any, len(a.Values))
	for i, v := range a.Values {
		if f, ok := v.(float64); ok && f == float64(int64(f)) {
			v = int64(f)
		}
		values[i] = v
	}
	return attribute.NewMultiValued(a.Name, a.MultiValued, values...)
}

// NewDocument converts an entry with attributes sorted by name
func NewDocument(e *Entry) *Document {
	doc := &Document{
		DN:            NormalizeKey(e.Key),
		ObjectClasses: append([]string{}, e.ObjectClasses...),
		Attributes:    make([]DocumentAttribute, 0, len(e.Attributes)),
	}
	for _, a := range e.Attributes {
		doc.Attributes = append(doc.Attributes, NewDocumentAttribute(a))
	}
	sort.Slice(doc.Attributes, func(i, j int) bool {
		return strings.ToLower(doc.Attributes[i].Name) < strings.ToLower(doc.Attributes[j].Name)
	})
	return doc
}

// Entry converts the document back to an entry
func (d *Document) Entry() *Entry {
	attrs := make([]*attribute.Data, len(d.Attributes))
	for i, a := range d.Attributes {
		attrs[i] = a.Data()
	}
	return NewEntry(d.DN, d.ObjectClasses, attrs)
}

// Expired reports whether the document expiration passed
func (d *Document) Expired(now time.Time) bool {
	return d.ExpiresAt != nil && !now.Before(*d.ExpiresAt)
}

// MarshalDocument encodes a document
func MarshalDocument(d *Document) ([]byte, error) {
	return json.Marshal(d)
}

// UnmarshalDocument decodes a document
func UnmarshalDocument(data []byte) (*Document, error) {
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}
