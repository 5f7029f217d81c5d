package views

import (
	"strings"
	"unicode"
)

// joiners are codepoints that glue emoji into multi-codepoint clusters,
// which tcell measures wrong and leaves as stray cells.
var joiners = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x200D, Hi: 0x200D, Stride: 1}, // zero width joiner
		{Lo: 0xFE00, Hi: 0xFE0F, Stride: 1}, // variation selectors
	},
	R32: []unicode.Range32{
		{Lo: 0x1F3FB, Hi: 0x1F3FF, Stride: 1}, // skin tone modifiers
		{Lo: 0xE0100, Hi: 0xE01EF, Stride: 1}, // variation selectors supplement
	},
}

// sanitizeForTerminal drops emoji joiners and control characters other than
// newline and tab, so peer content cannot move the cursor or corrupt the
// layout. A toned thumbs-up renders as the plain thumbs-up.
func sanitizeForTerminal(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return r
		case unicode.IsControl(r), unicode.Is(joiners, r):
			return -1
		}
		return r
	}, s)
}

// oneLine collapses runs of whitespace, newlines included, into single spaces.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
