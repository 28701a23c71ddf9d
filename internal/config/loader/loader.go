// Package loader reads keylsp configuration files and environment variables.
//
// File loaders decode TOML or YAML straight into a caller-supplied struct.
// The environment loader returns the KEYLSP_ variables as dot-separated
// setting paths, leaving the typing to the caller.
package loader

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Decoder decodes one configuration format into v.
type Decoder interface {
	// Decode parses data into v. source names the input in errors.
	Decode(source string, data []byte, v any) error
	// Encode renders v in the same format.
	Encode(v any) ([]byte, error)
}

// FileSystem is an abstraction for file system operations.
// This allows for easy testing with in-memory file systems.
type FileSystem interface {
	// ReadFile reads the entire file at path.
	ReadFile(path string) ([]byte, error)
	// Stat returns file info for path.
	Stat(path string) (fs.FileInfo, error)
}

// OSFS implements FileSystem using the real OS file system.
type OSFS struct{}

// ReadFile reads the entire file at path.
func (OSFS) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// Stat returns file info for path.
func (OSFS) Stat(path string) (fs.FileInfo, error) {
	return os.Stat(path)
}

// DefaultFS returns the default file system (OS).
func DefaultFS() FileSystem {
	return OSFS{}
}

// ForPath picks a decoder from the file extension.
func ForPath(path string) (Decoder, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return TOML{}, nil
	case ".yaml", ".yml":
		return YAML{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// LoadFile reads path from fsys and decodes it into v with the decoder
// matching its extension.
func LoadFile(fsys FileSystem, path string, v any) error {
	dec, err := ForPath(path)
	if err != nil {
		return err
	}
	data, err := fsys.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	return dec.Decode(path, data, v)
}
