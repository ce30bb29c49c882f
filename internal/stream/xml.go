package stream

import (
	"bytes"
	"encoding/xml"

	"github.com/datagen/datagen/pkg/types"
)

// XMLPrologue precedes the first record of an xml document.
const XMLPrologue = "<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n<records>\n"

type xmlEncoder struct {
	escape bool
}

func (xmlEncoder) Prologue(buf *bytes.Buffer, _ types.Schema) {
	buf.WriteString(XMLPrologue)
}

// Record writes one <record> element with a child element per field.
// Field names are valid element names once validated.
func (e xmlEncoder) Record(buf *bytes.Buffer, schema types.Schema, rec types.Record, _ int64) error {
	buf.WriteString("<record>")
	for _, f := range schema {
		buf.WriteByte('<')
		buf.WriteString(f.Name)
		buf.WriteByte('>')
		text := appendScalar(nil, rec[f.Name])
		if e.escape {
			if err := xml.EscapeText(buf, text); err != nil {
				return err
			}
		} else {
			buf.Write(text)
		}
		buf.WriteString("</")
		buf.WriteString(f.Name)
		buf.WriteByte('>')
	}
	buf.WriteString("</record>\n")
	return nil
}

func (xmlEncoder) Epilogue(buf *bytes.Buffer) {
	buf.WriteString("</records>")
}
