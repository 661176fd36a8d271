package dicom

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldAccents decomposes the input and drops the combining marks, turning
// "Müller" into "Muller" before the ASCII filter below.
var foldAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeIdentifier maps a raw tag value to the canonical form stored in
// the identifier index. The wildcard characters '%' and '_' become spaces,
// accents are folded, anything outside printable ASCII is dropped, the rest
// is uppercased and the result is trimmed. Both stored values and query
// arguments go through this function, which makes identifier matching case
// and accent insensitive.
func NormalizeIdentifier(value string) string {
	folded, _, err := transform.String(foldAccents, value)
	if err != nil {
		folded = value
	}

	var b strings.Builder
	b.Grow(len(folded))
	for i := 0; i < len(folded); i++ {
		c := folded[i]
		switch {
		case c == '%' || c == '_':
			b.WriteByte(' ')
		case c >= 0x20 && c < 0x7F:
			if c >= 'a' && c <= 'z' {
				c -= 'a' - 'A'
			}
			b.WriteByte(c)
		}
	}
	return strings.TrimSpace(b.String())
}
