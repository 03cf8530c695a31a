package escpos

import (
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Replacement is written for runes the printer's character table cannot show
const Replacement = '?'

// Latin punctuation with an obvious ASCII stand-in
var asciiFallback = map[rune]rune{
	'ñ': 'n', 'Ñ': 'N',
	'¡': '!', '¿': '?',
	'º': 'o', 'ª': 'a',
	'«': '"', '»': '"',
	'‘': '\'', '’': '\'',
	'“': '"', '”': '"',
	'–': '-', '—': '-',
}

// Sanitize reduces s to printable ASCII: accents are stripped after NFD
// decomposition, ñ/Ñ become n/N, control characters become spaces and
// anything else outside ASCII becomes Replacement.
func Sanitize(s string) string {
	if isPrintableASCII(s) {
		return s
	}
	t := transform.Chain(
		runes.Map(mapFallback),
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		norm.NFC,
		runes.Map(mapASCII),
	)
	out, _, err := transform.String(t, s)
	if err != nil {
		return asciiOnly(s)
	}
	return out
}

func mapFallback(r rune) rune {
	if m, ok := asciiFallback[r]; ok {
		return m
	}
	return r
}

func mapASCII(r rune) rune {
	switch {
	case r < 0x20 || r == 0x7F:
		return ' '
	case r < 0x7F:
		return r
	default:
		return Replacement
	}
}

func asciiOnly(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		out = append(out, mapASCII(mapFallback(r)))
	}
	return string(out)
}

func isPrintableASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] >= 0x7F {
			return false
		}
	}
	return true
}
