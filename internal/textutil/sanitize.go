package textutil

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// MaxNameBytes caps sanitized names so that sentinel and sidecar suffixes
// still fit inside common 255-byte filename limits.
const MaxNameBytes = 150

// unsafeNameChars are removed from feed and episode names.
const unsafeNameChars = `<>:"/\|?*`

var titleFolder = cases.Fold()

// SanitizeFileName turns a feed or episode title into a single safe path
// segment. The title is NFC-normalized, filesystem-unsafe characters and
// control runes are dropped, whitespace runs collapse to one space, leading
// dots are trimmed, and the result is capped at MaxNameBytes on a rune
// boundary. Titles with nothing usable left become "untitled".
func SanitizeFileName(name string) string {
	name = norm.NFC.String(name)
	var b strings.Builder
	b.Grow(len(name))
	pendingSpace := false
	for _, r := range name {
		switch {
		case strings.ContainsRune(unsafeNameChars, r):
			continue
		case unicode.IsSpace(r):
			pendingSpace = b.Len() > 0
			continue
		case unicode.IsControl(r) || r == utf8.RuneError:
			continue
		}
		if pendingSpace {
			b.WriteByte(' ')
			pendingSpace = false
		}
		b.WriteRune(r)
	}
	out := strings.TrimLeft(b.String(), ".")
	out = strings.TrimSpace(out)
	out = truncateBytes(out, MaxNameBytes)
	out = strings.TrimRight(out, " .")
	if out == "" {
		return "untitled"
	}
	return out
}

// NormalizeTitle produces a comparison key for feed entry titles so that the
// same episode listed twice with cosmetic differences counts once. Case is
// folded and everything except letters and digits is dropped.
func NormalizeTitle(title string) string {
	folded := titleFolder.String(norm.NFKC.String(title))
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func truncateBytes(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}

// Truncate shortens value to at most width runes for display, ending with an
// ellipsis when anything was cut. Newlines are flattened to spaces.
func Truncate(value string, width int) string {
	value = strings.Join(strings.Fields(value), " ")
	if width <= 0 || utf8.RuneCountInString(value) <= width {
		return value
	}
	runes := []rune(value)
	if width <= 3 {
		return string(runes[:width])
	}
	return string(runes[:width-3]) + "..."
}
