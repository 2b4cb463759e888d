// Package jsonx centralizes JSON encode/decode behind goccy/go-json, which
// is a drop-in replacement for encoding/json with lower allocation overhead
// on the hot paths (persistence writes, replay lines, control API bodies).
package jsonx

import (
	"io"

	gojson "github.com/goccy/go-json"
)

// Marshal encodes v as JSON.
func Marshal(v any) ([]byte, error) {
	return gojson.Marshal(v)
}

// MarshalIndent encodes v as indented JSON.
func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return gojson.MarshalIndent(v, prefix, indent)
}

// Unmarshal decodes JSON into v.
func Unmarshal(data []byte, v any) error {
	return gojson.Unmarshal(data, v)
}

// NewEncoder returns a streaming encoder, matching encoding/json's API shape.
func NewEncoder(w io.Writer) *gojson.Encoder {
	return gojson.NewEncoder(w)
}

// NewDecoder returns a streaming decoder, matching encoding/json's API shape.
func NewDecoder(r io.Reader) *gojson.Decoder {
	return gojson.NewDecoder(r)
}
