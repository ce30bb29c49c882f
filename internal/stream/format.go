// Package stream encodes synthesized records into csv, json or xml and
// writes them to a sink with backpressure.
package stream

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/datagen/datagen/pkg/types"
)

// Format describes the response metadata of an output format.
type Format struct {
	Type        types.FileType
	Extension   string
	ContentType string
}

// Filename returns the fixed attachment filename for the format.
func (f Format) Filename() string {
	return "data." + f.Extension
}

// ContentDisposition returns the attachment disposition header value.
func (f Format) ContentDisposition() string {
	return fmt.Sprintf("attachment; filename=%q", f.Filename())
}

var formats = map[types.FileType]Format{
	types.FileTypeCSV:  {Type: types.FileTypeCSV, Extension: "csv", ContentType: "text/csv"},
	types.FileTypeJSON: {Type: types.FileTypeJSON, Extension: "json", ContentType: "application/json"},
	types.FileTypeXML:  {Type: types.FileTypeXML, Extension: "xml", ContentType: "application/xml"},
}

// FormatFor returns the metadata of fileType.
func FormatFor(fileType types.FileType) (Format, bool) {
	f, ok := formats[fileType]
	return f, ok
}

// Encoder renders the framing and records of one format into a buffer.
type Encoder interface {
	// Prologue writes what precedes the first record.
	Prologue(buf *bytes.Buffer, schema types.Schema)

	// Record writes the record at index. Index 0 is the first record.
	Record(buf *bytes.Buffer, schema types.Schema, rec types.Record, index int64) error

	// Epilogue writes what follows the last record.
	Epilogue(buf *bytes.Buffer)
}

// EncoderOptions adjusts encoder output.
type EncoderOptions struct {
	// EscapeMarkup escapes markup-reserved characters in xml values
	EscapeMarkup bool
}

// NewEncoder returns the encoder for fileType.
func NewEncoder(fileType types.FileType, opts EncoderOptions) (Encoder, error) {
	switch fileType {
	case types.FileTypeCSV:
		return csvEncoder{}, nil
	case types.FileTypeJSON:
		return jsonEncoder{}, nil
	case types.FileTypeXML:
		return xmlEncoder{escape: opts.EscapeMarkup}, nil
	default:
		return nil, fmt.Errorf("%w: %q", types.ErrUnsupportedFileType, fileType)
	}
}

// appendScalar appends the text form of a non-string scalar.
func appendScalar(dst []byte, v any) []byte {
	switch x := v.(type) {
	case nil:
		return dst
	case string:
		return append(dst, x...)
	case int64:
		return strconv.AppendInt(dst, x, 10)
	case int:
		return strconv.AppendInt(dst, int64(x), 10)
	case float64:
		return strconv.AppendFloat(dst, x, 'f', -1, 64)
	case bool:
		return strconv.AppendBool(dst, x)
	default:
		return fmt.Append(dst, x)
	}
}
