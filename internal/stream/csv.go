package stream

import (
	"bytes"
	"strings"

	"github.com/datagen/datagen/pkg/types"
)

type csvEncoder struct{}

func (csvEncoder) Prologue(buf *bytes.Buffer, schema types.Schema) {
	buf.WriteString(schema.Header())
	buf.WriteByte('\n')
}

func (csvEncoder) Record(buf *bytes.Buffer, schema types.Schema, rec types.Record, _ int64) error {
	for i, f := range schema {
		if i > 0 {
			buf.WriteByte(',')
		}
		if s, ok := rec[f.Name].(string); ok {
			buf.WriteString(QuoteCSV(s))
			continue
		}
		buf.Write(appendScalar(buf.AvailableBuffer(), rec[f.Name]))
	}
	buf.WriteByte('\n')
	return nil
}

func (csvEncoder) Epilogue(*bytes.Buffer) {}

// QuoteCSV doubles embedded quotes and wraps the value in quotes when it
// contains a comma, a quote or a newline.
func QuoteCSV(s string) string {
	if !strings.ContainsAny(s, ",\"\n") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
