// Package slug turns free-form names into ASCII identifiers usable in URLs
// and as SKUs.
package slug

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var slugRegexp = regexp.MustCompile(`[^a-z0-9]+`)

// Letters that do not decompose into a base letter plus a combining mark.
var specialCases = strings.NewReplacer(
	"ı", "i",
	"ß", "ss",
	"æ", "ae",
	"ø", "o",
	"đ", "d",
	"ł", "l",
	"œ", "oe",
)

// Generate creates a URL-friendly slug from the given name. Accented letters
// are folded to their ASCII base.
//
// Examples:
//   - "Kadın Giyim" → "kadin-giyim"
//   - "Çocuk Ürünleri" → "cocuk-urunleri"
//   - "Hello   World!" → "hello-world"
func Generate(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = specialCases.Replace(s)

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(t, s); err == nil {
		s = folded
	}

	s = slugRegexp.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// Identifier returns Generate(name) upper-cased and cut to at most maxLen
// bytes, for use as a SKU or store id. A non-positive maxLen means no limit.
func Identifier(name string, maxLen int) string {
	s := strings.ToUpper(Generate(name))
	if maxLen > 0 && len(s) > maxLen {
		s = strings.TrimRight(s[:maxLen], "-")
	}
	return s
}
