package dicom

import "strings"

type valueKind int

const (
	valueString valueKind = iota
	valueBinary
	valueNull
)

// Value is one DICOM attribute value. A value is either a string, an opaque
// binary blob, or null. Binary and null values are ignored by the indexing
// logic but kept so a map can round-trip what was extracted upstream.
type Value struct {
	kind    valueKind
	content string
}

// NewStringValue wraps a textual attribute value.
func NewStringValue(content string) Value {
	return Value{kind: valueString, content: content}
}

// NewBinaryValue marks an attribute whose payload is not text.
func NewBinaryValue() Value {
	return Value{kind: valueBinary}
}

// NullValue marks an attribute that is present but empty.
func NullValue() Value {
	return Value{kind: valueNull}
}

func (v Value) IsString() bool { return v.kind == valueString }
func (v Value) IsBinary() bool { return v.kind == valueBinary }
func (v Value) IsNull() bool   { return v.kind == valueNull }

// Content returns the textual content. It is empty for binary and null
// values.
func (v Value) Content() string {
	if v.kind == valueString {
		return v.content
	}
	return ""
}

// Stripped returns the textual content with surrounding whitespace removed,
// the form used for numeric DICOM fields padded to even length.
func (v Value) Stripped() string {
	return strings.TrimSpace(v.Content())
}
