// Package types provides the core data types shared by the datagen services.
package types

// Record maps a field name to a generated scalar value (string, int64, float64 or bool).
// A record lives only until it has been encoded.
type Record map[string]any

// Values returns the record's values in schema order.
func (r Record) Values(schema Schema) []any {
	values := make([]any, len(schema))
	for i, f := range schema {
		values[i] = r[f.Name]
	}
	return values
}
