package sip2

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Sanitize removes the protocol-reserved bytes from an untrusted value:
// the field delimiter, CR, LF and every other control byte below 0x20.
// Bytes at or above 0x20 pass through untouched, so the result is still
// safe to transliterate later at the write boundary.
func Sanitize(s string) string {
	// Fast path: most values are already clean.
	clean := true
	for i := 0; i < len(s); i++ {
		if c := s[i]; c == '|' || c < 0x20 {
			clean = false
			break
		}
	}
	if clean {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '|' || c < 0x20 {
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// stripMarks decomposes and drops combining marks, turning e.g. é into e.
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// asciiFold maps the common Latin letters that do not decompose into an
// ASCII base plus combining mark.
var asciiFold = map[rune]string{
	'Æ': "AE", 'æ': "ae",
	'Œ': "OE", 'œ': "oe",
	'Ø': "O", 'ø': "o",
	'Đ': "D", 'đ': "d",
	'Ð': "D", 'ð': "d",
	'Þ': "TH", 'þ': "th",
	'ß': "ss",
	'Ł': "L", 'ł': "l",
	'Ħ': "H", 'ħ': "h",
	'ı': "i",
	'Ŋ': "N", 'ŋ': "n",
	'Ŧ': "T", 'ŧ': "t",
	'€': "EUR",
	'£': "GBP",
	'“': `"`, '”': `"`,
	'‘': "'", '’': "'",
	'–': "-", '—': "-",
	'…': "...",
	' ': " ",
}

// ToASCII transliterates a string to 7-bit ASCII: combining marks are
// stripped, a handful of non-decomposable Latin letters are folded, and
// anything still outside ASCII becomes '?'. SIP2 is strictly a 7-bit
// protocol and many ACS implementations corrupt frames containing high
// bytes, so this runs on every outbound frame just before the write.
func ToASCII(s string) string {
	ascii := true
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		return s
	}

	stripped, _, err := transform.String(stripMarks, s)
	if err != nil {
		stripped = s
	}

	var b strings.Builder
	b.Grow(len(stripped))
	for _, r := range stripped {
		switch {
		case r < 0x80:
			b.WriteRune(r)
		default:
			if rep, ok := asciiFold[r]; ok {
				b.WriteString(rep)
			} else {
				b.WriteByte('?')
			}
		}
	}
	return b.String()
}

// decodeLatin1 interprets raw socket bytes as ISO-8859-1. The mapping is
// lossless (every byte becomes the code point of the same value), which
// keeps vendor high-byte extensions readable in logs without ever
// corrupting frame offsets.
func decodeLatin1(data []byte) string {
	ascii := true
	for _, c := range data {
		if c >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		return string(data)
	}
	var b strings.Builder
	b.Grow(len(data) + 8)
	for _, c := range data {
		b.WriteRune(rune(c))
	}
	return b.String()
}
