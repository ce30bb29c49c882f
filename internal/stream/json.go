package stream

import (
	"bytes"

	"github.com/goccy/go-json"

	"github.com/datagen/datagen/pkg/types"
)

type jsonEncoder struct{}

func (jsonEncoder) Prologue(buf *bytes.Buffer, _ types.Schema) {
	buf.WriteByte('[')
}

// Record writes one object with keys in schema order. Markup characters in
// keys and values are written as is.
func (jsonEncoder) Record(buf *bytes.Buffer, schema types.Schema, rec types.Record, index int64) error {
	if index > 0 {
		buf.WriteByte(',')
	}
	buf.WriteByte('{')
	for i, f := range schema {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeJSONValue(buf, f.Name); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := writeJSONValue(buf, rec[f.Name]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

// writeJSONValue appends v without HTML escaping and without the newline
// the encoder terminates each value with.
func writeJSONValue(buf *bytes.Buffer, v any) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	if n := buf.Len(); n > 0 && buf.Bytes()[n-1] == '\n' {
		buf.Truncate(n - 1)
	}
	return nil
}

func (jsonEncoder) Epilogue(buf *bytes.Buffer) {
	buf.WriteByte(']')
}
