package stateful

import (
	"encoding/json"
	"io"
)

// Codec determines how a table is encoded.
type Codec interface {
	Encode(w io.Writer, v any) error
	Decode(r io.Reader, v any) error
	Ext() string
}

// JSONCodec encodes tables as JSON.
type JSONCodec struct {
	Indent bool
}

// Encode writes v as JSON to the provided writer.
func (c JSONCodec) Encode(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	if c.Indent {
		encoder.SetIndent("", "  ")
	}

	return encoder.Encode(v)
}

// Decode reads JSON data from the reader into v.
func (c JSONCodec) Decode(r io.Reader, v any) error {
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()

	return decoder.Decode(v)
}

// Ext returns the file extension of the encoding.
func (c JSONCodec) Ext() string {
	return ".json"
}
