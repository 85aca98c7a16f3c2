package slug

import (
	"regexp"
	"strings"
)

var slugRegexp = regexp.MustCompile(`[^a-z0-9]+`)

// Generate turns free-form text into a lowercase ASCII slug, suitable as the
// base of a generated username.
//
// Examples:
//   - "Ada Lovelace" → "ada-lovelace"
//   - "José Müller" → "jose-muller"
//   - "  carla.95  " → "carla-95"
func Generate(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))

	// Fold common accented Latin characters to ASCII
	replacer := strings.NewReplacer(
		"à", "a", "á", "a", "â", "a", "ä", "a", "ã", "a", "å", "a",
		"è", "e", "é", "e", "ê", "e", "ë", "e",
		"ì", "i", "í", "i", "î", "i", "ï", "i", "ı", "i",
		"ò", "o", "ó", "o", "ô", "o", "ö", "o", "õ", "o", "ø", "o",
		"ù", "u", "ú", "u", "û", "u", "ü", "u",
		"ç", "c", "ğ", "g", "ñ", "n", "ş", "s", "ß", "ss", "ý", "y",
	)
	slug = replacer.Replace(slug)

	// Replace any remaining non-alphanumeric runs with hyphens
	slug = slugRegexp.ReplaceAllString(slug, "-")

	// Trim leading and trailing hyphens
	slug = strings.Trim(slug, "-")

	return slug
}
