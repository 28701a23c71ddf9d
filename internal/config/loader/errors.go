package loader

import (
	"errors"
	"fmt"
)

// ErrUnsupportedFormat indicates a config file extension with no decoder.
var ErrUnsupportedFormat = errors.New("unsupported config format")

// ParseError reports a config file that could not be decoded. Line and
// Column are 1-based and zero when the decoder gave no position.
type ParseError struct {
	Path    string
	Format  string
	Line    int
	Column  int
	Message string
	Err     error
}

// Error formats the error as path:line:column: format: message, omitting
// unknown positions.
func (e *ParseError) Error() string {
	loc := e.Path
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d", loc, e.Line)
		if e.Column > 0 {
			loc = fmt.Sprintf("%s:%d", loc, e.Column)
		}
	}
	return fmt.Sprintf("%s: invalid %s: %s", loc, e.Format, e.Message)
}

func (e *ParseError) Unwrap() error { return e.Err }
