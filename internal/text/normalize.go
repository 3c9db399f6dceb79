// Package text cleans extracted PDF text and splits it into sentences and
// words.
package text

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var charReplacer = strings.NewReplacer(
	"\r\n", "\n",
	"\r", "\n",
	"\ufb01", "fi",
	"\ufb02", "fl",
	"\ufb00", "ff",
	"\ufb03", "ffi",
	"\ufb04", "ffl",
	"\u00a0", " ",
	"\u202f", " ",
	"\u2007", " ",
	"\u200b", "",
	"\u200c", "",
	"\u200d", "",
	"\u2060", "",
	"\ufeff", "",
	"\u00ad", "",
	"\u00ae", " ",
	"\u00ab", `"`,
	"\u00bb", `"`,
	"\u201c", `"`,
	"\u201d", `"`,
	"\u201e", `"`,
	"\u2018", "'",
	"\u2019", "'",
	"\u201a", "'",
)

var (
	// OCR renders ñ as "fi" or drops the tilde
	ocrSenorRe      = regexp.MustCompile(`(?i)\b(se)(?:fi|n)(or)(a?)\b`)
	hyphenBreakRe   = regexp.MustCompile(`-[ \t]*\n\s*`)
	trailingSpaceRe = regexp.MustCompile(`[ \t]+\n`)
	spaceRunRe      = regexp.MustCompile(`[ \t]+`)
	blankRunRe      = regexp.MustCompile(`\n{3,}`)
)

// Normalize cleans extracted text: unifies line endings, expands ligatures,
// drops invisible characters, maps typographic quotes to ASCII, repairs
// common OCR spellings of "señor", joins hyphenated line breaks and collapses
// whitespace. It is deterministic and idempotent.
func Normalize(t string) string {
	if t == "" {
		return ""
	}

	t = strings.ToValidUTF8(t, "\ufffd")
	t = norm.NFC.String(t)
	t = charReplacer.Replace(t)
	t = strings.ReplaceAll(t, "\x00", "")

	t = ocrSenorRe.ReplaceAllStringFunc(t, fixSenor)

	t = hyphenBreakRe.ReplaceAllString(t, "")
	t = spaceRunRe.ReplaceAllString(t, " ")
	t = trailingSpaceRe.ReplaceAllString(t, "\n")
	t = blankRunRe.ReplaceAllString(t, "\n\n")

	return strings.TrimSpace(t)
}

// fixSenor rewrites "Sefior", "Senora" and friends to "Señor"/"Señora",
// keeping the case of the match.
func fixSenor(m string) string {
	sub := ocrSenorRe.FindStringSubmatch(m)
	if sub == nil {
		return m
	}
	upper := strings.ToUpper(m) == m
	n := "ñ"
	if upper {
		n = "Ñ"
	}
	return sub[1] + n + sub[2] + sub[3]
}

// JoinPages concatenates page texts with a blank line between pages and
// normalizes the result.
func JoinPages(pages []string) string {
	return Normalize(strings.Join(pages, "\n\n"))
}

var stripMarks = runes.Remove(runes.In(unicode.Mn))

// StripAccents decomposes t (NFKD) and drops combining marks, so "Cédula"
// becomes "Cedula" and "ñ" becomes "n".
func StripAccents(t string) string {
	out, _, err := transform.String(transform.Chain(norm.NFKD, stripMarks), t)
	if err != nil {
		return t
	}
	return out
}

var invisibleRe = regexp.MustCompile(`[\x{200B}-\x{200D}\x{2060}\x{FEFF}\x{00AD}]`)

// Fold strips accents, removes invisible characters and lowercases. Used for
// keyword and blacklist matching.
func Fold(t string) string {
	return strings.ToLower(StripAccents(invisibleRe.ReplaceAllString(t, "")))
}

// SanitizeForJSON returns a NUL-free, valid UTF-8, NFC string
func SanitizeForJSON(t string) string {
	if t == "" {
		return ""
	}
	t = strings.ToValidUTF8(t, "\ufffd")
	t = strings.ReplaceAll(t, "\x00", "")
	return norm.NFC.String(t)
}
