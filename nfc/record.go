package nfc

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
)

// Kind is the modulation family a tag was detected with.
type Kind string

const (
	KindISO14443A   Kind = "ISO14443A"
	KindISO14443B   Kind = "ISO14443B"
	KindISO14443BI  Kind = "ISO14443B'"
	KindISO14443B2S Kind = "ST SRx"
	KindISO14443B2C Kind = "ASK CTx"
	KindFeliCa      Kind = "FeliCa"
	KindJewel       Kind = "Jewel"
	KindDEP         Kind = "DEP"
	KindUnknown     Kind = "Unknown"
)

// Field is one named byte string of a TagRecord.
type Field struct {
	Name  string
	Value []byte
}

// TagRecord is the normalized, comparable description of a detected tag.
// A TagRecord is immutable; accessors return copies.
type TagRecord struct {
	kind   Kind
	fields []Field
	uid    string
	family string
}

// NewTagRecord builds a record from a kind and its fields. Zero-length fields
// are dropped. The UID is taken from the "UID" field, or "PUPI" for type B tags.
func NewTagRecord(kind Kind, fields ...Field) *TagRecord {
	r := &TagRecord{kind: kind}
	for _, f := range fields {
		if len(f.Value) == 0 {
			continue
		}
		r.fields = append(r.fields, Field{Name: f.Name, Value: append([]byte(nil), f.Value...)})
	}
	if v, ok := r.Field(FieldUID); ok {
		r.uid = hex.EncodeToString(v)
	} else if v, ok := r.Field(FieldPUPI); ok {
		r.uid = hex.EncodeToString(v)
	}
	return r
}

// withFamily returns the record annotated with a display family. The family
// does not take part in equality.
func (r *TagRecord) withFamily(family string) *TagRecord {
	r.family = family
	return r
}

func (r *TagRecord) Kind() Kind {
	return r.kind
}

// UID returns the lowercase hex identifier of the tag, or "" when the kind has none.
func (r *TagRecord) UID() string {
	return r.uid
}

// Family returns a best-effort product family such as "MIFARE Classic 1K".
func (r *TagRecord) Family() string {
	return r.family
}

// Field returns a copy of the named field value.
func (r *TagRecord) Field(name string) ([]byte, bool) {
	for _, f := range r.fields {
		if f.Name == name {
			return append([]byte(nil), f.Value...), true
		}
	}
	return nil, false
}

// Fields returns the fields in codec order.
func (r *TagRecord) Fields() []Field {
	out := make([]Field, len(r.fields))
	for i, f := range r.fields {
		out[i] = Field{Name: f.Name, Value: append([]byte(nil), f.Value...)}
	}
	return out
}

// HexFields returns every field as a lowercase hex string, two characters per byte.
func (r *TagRecord) HexFields() map[string]string {
	out := make(map[string]string, len(r.fields))
	for _, f := range r.fields {
		out[f.Name] = hex.EncodeToString(f.Value)
	}
	return out
}

// Equal reports whether both records describe the same tag: same kind, same
// field set and same field values.
func (r *TagRecord) Equal(other *TagRecord) bool {
	if r == nil || other == nil {
		return r == other
	}
	if r.kind != other.kind || len(r.fields) != len(other.fields) {
		return false
	}
	for _, f := range r.fields {
		v, ok := other.lookup(f.Name)
		if !ok || !bytes.Equal(f.Value, v) {
			return false
		}
	}
	return true
}

func (r *TagRecord) lookup(name string) ([]byte, bool) {
	for _, f := range r.fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

func (r *TagRecord) String() string {
	if r == nil {
		return "<none>"
	}
	parts := make([]string, 0, len(r.fields))
	for _, f := range r.fields {
		parts = append(parts, fmt.Sprintf("%s=%s", f.Name, hex.EncodeToString(f.Value)))
	}
	return fmt.Sprintf("%s{%s}", r.kind, strings.Join(parts, " "))
}
