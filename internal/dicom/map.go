package dicom

import (
	"sort"

	"dicomcore/pkg/domain"
)

// Map is a flat mapping from tags to values, the summary of one DICOM
// instance. The zero value is not usable; call NewMap.
type Map struct {
	values map[Tag]Value
}

// NewMap returns an empty map.
func NewMap() *Map {
	return &Map{values: make(map[Tag]Value)}
}

// SetString stores a textual value, replacing any previous one.
func (m *Map) SetString(tag Tag, content string) {
	m.values[tag] = NewStringValue(content)
}

// Set stores an arbitrary value, replacing any previous one.
func (m *Map) Set(tag Tag, value Value) {
	m.values[tag] = value
}

// Get returns the value for a tag.
func (m *Map) Get(tag Tag) (Value, bool) {
	v, ok := m.values[tag]
	return v, ok
}

// GetString returns the textual content for a tag. Binary and null values
// report false, like absent tags.
func (m *Map) GetString(tag Tag) (string, bool) {
	v, ok := m.values[tag]
	if !ok || !v.IsString() {
		return "", false
	}
	return v.Content(), true
}

// Remove drops a tag if present.
func (m *Map) Remove(tag Tag) {
	delete(m.values, tag)
}

// Has reports whether the tag is present, whatever its kind.
func (m *Map) Has(tag Tag) bool {
	_, ok := m.values[tag]
	return ok
}

// Size returns the number of stored tags.
func (m *Map) Size() int {
	return len(m.values)
}

// Tags returns the stored tags in (group, element) order.
func (m *Map) Tags() []Tag {
	tags := make([]Tag, 0, len(m.values))
	for t := range m.values {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Compare(tags[j]) < 0 })
	return tags
}

// Clone returns an independent copy.
func (m *Map) Clone() *Map {
	out := NewMap()
	for t, v := range m.values {
		out.values[t] = v
	}
	return out
}

// ExtractLevel returns a copy restricted to the main tags of one resource
// level, as defined by the registry. Binary and null values are kept so the
// caller can decide how to persist them.
func (m *Map) ExtractLevel(level domain.ResourceType) *Map {
	out := NewMap()
	for t, v := range m.values {
		if info, ok := LookupTag(t); ok && info.Level == level && info.Type != TagTypeGeneric {
			out.values[t] = v
		}
	}
	return out
}
