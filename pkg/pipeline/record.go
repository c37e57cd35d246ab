// Package pipeline implements the social-copy workflow: fetch a source
// record, retrieve its transcript, generate marketing copy and write the
// results back field by field.
package pipeline

import (
	"fmt"
	"strings"
)

// Field is one named value on a source record.
type Field struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Record is a source record as returned by the records API: an id plus a
// flat list of named fields.
type Record struct {
	ID     string  `json:"id"`
	Fields []Field `json:"fields"`
}

// FieldIndex is a name-keyed lookup table over a record's fields, built once
// per fetched record. Lookups are case-insensitive on the field name.
type FieldIndex struct {
	byName map[string]Field
}

// NewFieldIndex builds the index. Later duplicates of a name win, matching
// the records API contract that names are unique per record.
func NewFieldIndex(record *Record) *FieldIndex {
	byName := make(map[string]Field, len(record.Fields))

	for _, field := range record.Fields {
		byName[strings.ToLower(field.Name)] = field
	}

	return &FieldIndex{byName: byName}
}

// Field returns the field with the given name.
func (fi *FieldIndex) Field(name string) (Field, bool) {
	field, ok := fi.byName[strings.ToLower(name)]

	return field, ok
}

// StringValue returns the field's value as a string, or "" when the field is
// absent or not string-like.
func (fi *FieldIndex) StringValue(name string) string {
	field, ok := fi.Field(name)
	if !ok {
		return ""
	}

	switch v := field.Value.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// BoolValue returns the field's value as a boolean. Absent fields and
// non-boolean values read as false; the string forms "true" and "1" read as
// true, since some record sources serialize checkbox fields as text.
func (fi *FieldIndex) BoolValue(name string) bool {
	field, ok := fi.Field(name)
	if !ok {
		return false
	}

	switch v := field.Value.(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "1"
	default:
		return false
	}
}
