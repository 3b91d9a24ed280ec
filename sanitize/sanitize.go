// Package sanitize maps arbitrary display strings onto portable file-system names.
package sanitize

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Extension is appended to every per-message file name.
const Extension = ".eml"

// maxSubjectRunes bounds the subject part of a message file name.
const maxSubjectRunes = 200

const forbidden = "\"*/:<>?\\|"

// Name strips diacritics from raw and replaces every rune outside printable
// ASCII, or in the forbidden set, with an underscore. The result has the same
// rune count as the accent-stripped input and Name(Name(s)) == Name(s).
func Name(raw string) string {
	if raw == "" {
		return ""
	}

	stripped := stripAccents(raw)
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r > 0x7e || strings.ContainsRune(forbidden, r) {
			return '_'
		}
		return r
	}, stripped)
}

// Filename returns "<id>-<sanitized subject>.eml", or "<id>-NoSubject.eml"
// when subject is empty. Distinct ids always yield distinct names.
func Filename(id uint64, subject string) string {
	prefix := strconv.FormatUint(id, 10) + "-"
	if subject == "" {
		return prefix + "NoSubject" + Extension
	}

	name := Name(subject)
	if r := []rune(name); len(r) > maxSubjectRunes {
		name = string(r[:maxSubjectRunes])
	}
	return prefix + name + Extension
}

func stripAccents(s string) string {
	// A transformer chain carries state, so build one per call.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
