package loader

import (
	"errors"

	"github.com/pelletier/go-toml/v2"
)

// TOML decodes and encodes TOML documents.
type TOML struct{}

// Decode parses TOML data into v. Unknown keys are rejected.
func (TOML) Decode(source string, data []byte, v any) error {
	dec := toml.NewDecoder(bytesReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		pe := &ParseError{Path: source, Format: "toml", Message: err.Error(), Err: err}
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			pe.Line, pe.Column = derr.Position()
		}
		var serr *toml.StrictMissingError
		if errors.As(err, &serr) {
			pe.Message = serr.String()
		}
		return pe
	}
	return nil
}

// Encode renders v as TOML.
func (TOML) Encode(v any) ([]byte, error) {
	return toml.Marshal(v)
}
