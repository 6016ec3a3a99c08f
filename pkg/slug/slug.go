// Package slug derives URL path segments from product names.
package slug

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Letters with no canonical decomposition to ASCII.
var extraFolds = strings.NewReplacer("ı", "i", "ß", "ss", "ø", "o", "Ø", "o", "æ", "ae", "Æ", "ae", "ł", "l", "Ł", "l")

// Generate creates a URL-friendly slug from name. Accents are folded to
// their base letters; every other run of non-alphanumerics becomes one hyphen.
//
//	Generate("Crème Brûlée")  // "creme-brulee"
//	Generate("Kadın Giyim")   // "kadin-giyim"
func Generate(name string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), name)
	if err != nil {
		folded = name
	}
	s := strings.ToLower(extraFolds.Replace(folded))
	return strings.Trim(nonAlnum.ReplaceAllString(s, "-"), "-")
}
