// Package normalize provides the text canonicalization used by header
// mapping and duplicate resolution.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// legalSuffixes lists common legal entity suffixes stripped during company
// name normalization.
var legalSuffixes = []string{
	" LLC", " L.L.C.", " L.L.C",
	" INC", " INC.", " INCORPORATED",
	" CORP", " CORP.", " CORPORATION",
	" LTD", " LTD.", " LIMITED",
	" LP", " L.P.", " L.P",
	" LLP", " L.L.P.", " L.L.P",
	" PC", " P.C.", " P.C",
	" CO", " CO.",
	" PLC", " P.L.C.",
	" PLLC",
}

var (
	multiSpaceRe = regexp.MustCompile(`\s{2,}`)
	separatorRe  = regexp.MustCompile(`[_\-./]+`)
	nonPhoneRe   = regexp.MustCompile(`[^0-9+]`)
	digitsRe     = regexp.MustCompile(`[0-9]+`)

	// Permissive address check: one @, something on each side, a dot in
	// the domain part. Deliverability is the store's problem, not ours.
	emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

	asciiFold = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
)

// Name standardizes an entity name for duplicate matching: uppercase,
// legal suffixes stripped, punctuation folded, spaces collapsed.
func Name(name string) string {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "" {
		return ""
	}

	for _, suffix := range legalSuffixes {
		if strings.HasSuffix(name, suffix) {
			name = strings.TrimSuffix(name, suffix)
			break
		}
	}

	name = strings.NewReplacer(
		",", "",
		".", "",
		"'", "",
		"\"", "",
		"&", "AND",
		"-", " ",
	).Replace(name)

	name = multiSpaceRe.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}

// Domain strips scheme, www prefix, path, and port from a URL or hostname.
func Domain(rawURL string) string {
	d := strings.ToLower(strings.TrimSpace(rawURL))
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	d = strings.TrimPrefix(d, "www.")
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	if i := strings.IndexByte(d, ':'); i >= 0 {
		d = d[:i]
	}
	return d
}

// Header canonicalizes a CSV header for matching: diacritics folded,
// lowercased, separators collapsed to single spaces.
func Header(h string) string {
	if folded, _, err := transform.String(asciiFold, h); err == nil {
		h = folded
	}
	h = strings.ToLower(strings.TrimSpace(h))
	h = separatorRe.ReplaceAllString(h, " ")
	h = multiSpaceRe.ReplaceAllString(h, " ")
	return strings.TrimSpace(h)
}

// Whitespace trims and collapses internal runs of whitespace.
func Whitespace(s string) string {
	return strings.TrimSpace(multiSpaceRe.ReplaceAllString(strings.Join(strings.Fields(s), " "), " "))
}

// Email lowercases and trims an address, returning "" when it does not
// look like one or exceeds the RFC length ceiling.
func Email(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || len(s) > 254 || !emailRe.MatchString(s) {
		return ""
	}
	return s
}

// Phone strips everything but digits and a leading plus, returning "" when
// the digit count falls outside 10–15.
func Phone(s string) string {
	s = nonPhoneRe.ReplaceAllString(strings.TrimSpace(s), "")
	if plus := strings.HasPrefix(s, "+"); plus {
		s = "+" + strings.ReplaceAll(s[1:], "+", "")
	} else {
		s = strings.ReplaceAll(s, "+", "")
	}
	n := len(strings.TrimPrefix(s, "+"))
	if n < 10 || n > 15 {
		return ""
	}
	return s
}

// Digits extracts the concatenated digit runs from s, returning "" when
// s contains no digits at all.
func Digits(s string) string {
	return strings.Join(digitsRe.FindAllString(s, -1), "")
}

// CompositeKey builds the "name:company" style duplicate key from its
// parts, lowercased. Empty parts yield an empty key.
func CompositeKey(parts ...string) string {
	for i, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			return ""
		}
		parts[i] = p
	}
	return strings.Join(parts, ":")
}
