package main

import (
	"github.com/rivo/uniseg"

	"github.com/dshills/keylsp/internal/lsp"
)

// Columns on the command line count user-perceived characters, so a flag or
// emoji sequence is one column even though it spans several runes.

// toLSP converts a 0-based line and grapheme column to an LSP position.
func toLSP(conv *lsp.PositionConverter, line, col int) lsp.Position {
	line = min(line, conv.LineCount()-1)
	return conv.ToLSP(line, runeColumn(conv.Line(line), col))
}

// fromLSP converts an LSP position to a 0-based line and grapheme column.
func fromLSP(conv *lsp.PositionConverter, pos lsp.Position) (int, int) {
	line, runeCol := conv.FromLSP(pos)
	return line, graphemeColumn(conv.Line(line), runeCol)
}

// runeColumn returns the number of runes in the first col grapheme clusters
// of text. Columns past the end of text yield its rune count.
func runeColumn(text string, col int) int {
	runes := 0
	g := uniseg.NewGraphemes(text)
	for col > 0 && g.Next() {
		runes += len(g.Runes())
		col--
	}
	return runes
}

// graphemeColumn returns the number of grapheme clusters that start before
// rune offset runeCol.
func graphemeColumn(text string, runeCol int) int {
	col, runes := 0, 0
	g := uniseg.NewGraphemes(text)
	for runes < runeCol && g.Next() {
		runes += len(g.Runes())
		col++
	}
	return col
}
