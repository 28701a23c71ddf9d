package loader

import (
	"bytes"
	"errors"
	"io"

	"gopkg.in/yaml.v3"
)

// YAML decodes and encodes YAML documents.
type YAML struct{}

// Decode parses YAML data into v. Unknown keys are rejected. An empty
// document leaves v untouched.
func (YAML) Decode(source string, data []byte, v any) error {
	dec := yaml.NewDecoder(bytesReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		pe := &ParseError{Path: source, Format: "yaml", Message: err.Error(), Err: err}
		var terr *yaml.TypeError
		if errors.As(err, &terr) && len(terr.Errors) > 0 {
			pe.Message = terr.Errors[0]
		}
		return pe
	}
	return nil
}

// Encode renders v as YAML with two-space indentation.
func (YAML) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func bytesReader(data []byte) io.Reader {
	return bytes.NewReader(data)
}
