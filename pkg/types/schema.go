package types

import "strings"

// FieldType is the declared type tag of a schema field.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldBoolean FieldType = "boolean"
	FieldDate    FieldType = "date"
	FieldEmail   FieldType = "email"
	FieldPhone   FieldType = "phone"
	FieldAddress FieldType = "address"
	FieldUUID    FieldType = "uuid"
)

// FieldTypes lists every accepted type tag.
var FieldTypes = []FieldType{
	FieldString, FieldNumber, FieldBoolean, FieldDate,
	FieldEmail, FieldPhone, FieldAddress, FieldUUID,
}

// Valid reports whether t is one of the accepted type tags.
func (t FieldType) Valid() bool {
	for _, ft := range FieldTypes {
		if t == ft {
			return true
		}
	}
	return false
}

// FieldSpec describes one field of a generated record.
type FieldSpec struct {
	// Name is the field name; it becomes the column header or element name
	Name string `json:"name" yaml:"name"`

	// Type is the declared type tag
	Type FieldType `json:"type" yaml:"type"`

	// PrimaryKey marks the single field whose value is forced to a unique-looking key
	PrimaryKey bool `json:"primaryKey,omitempty" yaml:"primaryKey"`
}

// Schema is an ordered list of fields. Order is the output column order.
type Schema []FieldSpec

// Names returns the field names in schema order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, f := range s {
		names[i] = f.Name
	}
	return names
}

// PrimaryKey returns the primary key field, if any.
func (s Schema) PrimaryKey() (FieldSpec, bool) {
	for _, f := range s {
		if f.PrimaryKey {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// Header returns the field names joined by commas.
func (s Schema) Header() string {
	return strings.Join(s.Names(), ",")
}
