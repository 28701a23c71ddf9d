package lsp

import (
	"net/url"
	"path/filepath"
	"strings"

	"go.lsp.dev/uri"
)

// FilePathToURI converts a file path to a file:// URI. Relative paths are made
// absolute first.
func FilePathToURI(path string) DocumentURI {
	if path == "" {
		return ""
	}
	return DocumentURI(uri.File(path))
}

// URIToFilePath converts a file:// URI back to a file path. Non-file URIs are
// returned unchanged.
func URIToFilePath(u DocumentURI) string {
	if !strings.HasPrefix(string(u), uri.FileScheme+"://") {
		return string(u)
	}
	// Filename panics on URIs it cannot parse.
	if _, err := url.ParseRequestURI(string(u)); err != nil {
		return string(u)
	}
	return uri.URI(u).Filename()
}

// WorkspaceFolderFromPath creates a workspace folder from a directory path.
func WorkspaceFolderFromPath(path string) WorkspaceFolder {
	return WorkspaceFolder{
		URI:  FilePathToURI(path),
		Name: filepath.Base(path),
	}
}

var languageIDs = map[string]string{
	"c":     "c",
	"h":     "c",
	"cpp":   "cpp",
	"cc":    "cpp",
	"cxx":   "cpp",
	"hpp":   "cpp",
	"hxx":   "cpp",
	"m":     "objective-c",
	"mm":    "objective-cpp",
	"go":    "go",
	"rs":    "rust",
	"py":    "python",
	"ts":    "typescript",
	"tsx":   "typescriptreact",
	"js":    "javascript",
	"jsx":   "javascriptreact",
	"java":  "java",
	"rb":    "ruby",
	"lua":   "lua",
	"zig":   "zig",
	"sh":    "shellscript",
	"bash":  "shellscript",
	"json":  "json",
	"yaml":  "yaml",
	"yml":   "yaml",
	"toml":  "toml",
	"md":    "markdown",
	"proto": "protobuf",
}

// LanguageIDForPath returns the LSP language identifier for a file, based on
// its extension. Unknown extensions yield "plaintext".
func LanguageIDForPath(path string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if id, ok := languageIDs[ext]; ok {
		return id
	}
	return "plaintext"
}
