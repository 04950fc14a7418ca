package stock

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold normalizes text for search: diacritics removed, case folded,
// surrounding space trimmed. "Açúcar " and "ACUCAR" fold to the same key.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return cases.Fold().String(strings.TrimSpace(out))
}

// fieldSeparator joins the fields of a search key. It cannot be typed, so a
// search term never matches across two fields.
const fieldSeparator = "\x1f"

// SearchKey is the folded text a product is matched against: name, code,
// brand, application and barcode.
func SearchKey(d ProductDetails) string {
	parts := make([]string, 0, 5)
	for _, f := range []string{d.Name, d.Code, d.Brand, d.Application, d.Barcode} {
		if f = Fold(f); f != "" {
			parts = append(parts, f)
		}
	}
	return strings.Join(parts, fieldSeparator)
}
