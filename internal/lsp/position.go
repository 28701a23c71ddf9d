package lsp

import (
	"strings"
	"unicode/utf8"
)

// PositionConverter maps editor positions, where a column counts runes, to
// LSP positions, where a column counts UTF-16 code units, and back.
type PositionConverter struct {
	lines []string
}

// NewPositionConverter indexes content by line.
func NewPositionConverter(content string) *PositionConverter {
	return &PositionConverter{lines: strings.Split(content, "\n")}
}

// LineCount returns the number of lines, counting a trailing empty line.
func (pc *PositionConverter) LineCount() int {
	return len(pc.lines)
}

// Line returns the text of line without its line terminator, or "" when
// line is out of range.
func (pc *PositionConverter) Line(line int) string {
	if line < 0 || line >= len(pc.lines) {
		return ""
	}
	return strings.TrimSuffix(pc.lines[line], "\r")
}

// ToLSP converts a rune column on line to an LSP position. Out-of-range
// lines and columns are clamped to the document.
func (pc *PositionConverter) ToLSP(line, runeCol int) Position {
	line = pc.clampLine(line)
	text := strings.TrimSuffix(pc.lines[line], "\r")

	units := 0
	for _, r := range text {
		if runeCol <= 0 {
			break
		}
		units += utf16Len(r)
		runeCol--
	}
	return Position{Line: line, Character: units}
}

// FromLSP converts an LSP position to a line and rune column. A column that
// splits a surrogate pair rounds up past that rune.
func (pc *PositionConverter) FromLSP(pos Position) (line, runeCol int) {
	line = pc.clampLine(pos.Line)
	text := strings.TrimSuffix(pc.lines[line], "\r")

	units := 0
	for _, r := range text {
		if units >= pos.Character {
			break
		}
		units += utf16Len(r)
		runeCol++
	}
	return line, runeCol
}

// Clamp bounds pos to the document, measuring columns in UTF-16 code units.
func (pc *PositionConverter) Clamp(pos Position) Position {
	if pos.Line < 0 {
		return Position{}
	}
	if pos.Line >= len(pc.lines) {
		last := len(pc.lines) - 1
		return Position{Line: last, Character: lineUTF16Len(pc.lines[last])}
	}
	if pos.Character < 0 {
		pos.Character = 0
	}
	if n := lineUTF16Len(pc.lines[pos.Line]); pos.Character > n {
		pos.Character = n
	}
	return pos
}

func (pc *PositionConverter) clampLine(line int) int {
	if line < 0 {
		return 0
	}
	if line >= len(pc.lines) {
		return len(pc.lines) - 1
	}
	return line
}

func lineUTF16Len(text string) int {
	text = strings.TrimSuffix(text, "\r")
	n := 0
	for _, r := range text {
		n += utf16Len(r)
	}
	return n
}

func utf16Len(r rune) int {
	if r >= 0x10000 && r <= utf8.MaxRune {
		return 2
	}
	return 1
}

// ComparePositions returns -1, 0 or 1 as a is before, equal to or after b.
func ComparePositions(a, b Position) int {
	switch {
	case a.Line < b.Line:
		return -1
	case a.Line > b.Line:
		return 1
	case a.Character < b.Character:
		return -1
	case a.Character > b.Character:
		return 1
	default:
		return 0
	}
}

// IsPositionInRange reports whether pos lies in rng, end exclusive.
func IsPositionInRange(pos Position, rng Range) bool {
	return ComparePositions(pos, rng.Start) >= 0 && ComparePositions(pos, rng.End) < 0
}
