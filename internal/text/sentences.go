package text

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Abbreviations that end in a period without ending the sentence. Compared
// against the folded word before the period.
var abbreviations = map[string]struct{}{
	"sr": {}, "sra": {}, "sres": {}, "srta": {}, "dr": {}, "dra": {},
	"no": {}, "nro": {}, "num": {}, "art": {}, "arts": {}, "lic": {},
	"ing": {}, "av": {}, "cra": {}, "cll": {}, "cc": {}, "etc": {},
}

// Sentence is a sentence with its byte offsets in the source text.
type Sentence struct {
	Text  string
	Start int
	End   int
}

// Sentences splits t into sentences. A sentence ends at '.', '!' or '?'
// followed by whitespace, or at a blank line. Periods after known
// abbreviations and single-letter initials do not end a sentence. Every
// returned sentence is a trimmed substring of t.
func Sentences(t string) []string {
	spans := SentenceSpans(t)
	if len(spans) == 0 {
		return nil
	}
	out := make([]string, len(spans))
	for i, s := range spans {
		out[i] = s.Text
	}
	return out
}

// SentenceSpans is Sentences with byte offsets
func SentenceSpans(t string) []Sentence {
	if strings.TrimSpace(t) == "" {
		return nil
	}

	var spans []Sentence
	start := 0
	emit := func(end int) {
		seg := t[start:end]
		trimmed := strings.TrimSpace(seg)
		if trimmed != "" {
			lead := strings.Index(seg, trimmed)
			spans = append(spans, Sentence{
				Text:  trimmed,
				Start: start + lead,
				End:   start + lead + len(trimmed),
			})
		}
		start = end
	}

	for i := 0; i < len(t); {
		r, size := utf8.DecodeRuneInString(t[i:])
		next := i + size

		switch {
		case r == '.' || r == '!' || r == '?':
			// absorb runs like "?!" or "..."
			for next < len(t) && strings.ContainsRune(".!?", rune(t[next])) {
				next++
			}
			if next >= len(t) {
				break
			}
			nr, _ := utf8.DecodeRuneInString(t[next:])
			if !unicode.IsSpace(nr) {
				break
			}
			if r == '.' && next == i+1 && protectedPeriod(t[start:i]) {
				break
			}
			emit(next)

		case r == '\n' && next < len(t) && t[next] == '\n':
			emit(i)
		}

		i = next
	}
	emit(len(t))

	return spans
}

// protectedPeriod reports whether the word right before a period is an
// abbreviation or an initial.
func protectedPeriod(before string) bool {
	end := len(before)
	begin := end
	for begin > 0 {
		r, size := utf8.DecodeLastRuneInString(before[:begin])
		if !unicode.IsLetter(r) {
			break
		}
		begin -= size
	}
	word := before[begin:end]
	if word == "" {
		return false
	}
	if utf8.RuneCountInString(word) == 1 {
		r, _ := utf8.DecodeRuneInString(word)
		return unicode.IsUpper(r)
	}
	_, ok := abbreviations[Fold(word)]
	return ok
}

var wordRe = regexp.MustCompile(`[\p{L}\p{N}]+`)

// Words returns the letter/digit tokens of s in order
func Words(s string) []string {
	return wordRe.FindAllString(s, -1)
}

// Chunk splits t into pieces of at most maxBytes, breaking between
// sentences. A sentence longer than maxBytes is split at the last space
// that fits, or at a rune boundary when there is none.
func Chunk(t string, maxBytes int) []string {
	t = strings.TrimSpace(t)
	if t == "" || maxBytes <= 0 {
		return nil
	}
	if len(t) <= maxBytes {
		return []string{t}
	}

	var (
		chunks  []string
		current strings.Builder
	)
	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}

	for _, s := range SentenceSpans(t) {
		piece := s.Text
		for len(piece) > maxBytes {
			flush()
			cut := splitPoint(piece, maxBytes)
			chunks = append(chunks, strings.TrimSpace(piece[:cut]))
			piece = strings.TrimSpace(piece[cut:])
		}
		if piece == "" {
			continue
		}
		if current.Len() > 0 && current.Len()+1+len(piece) > maxBytes {
			flush()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(piece)
	}
	flush()

	return chunks
}

func splitPoint(s string, maxBytes int) int {
	if i := strings.LastIndexAny(s[:maxBytes], " \n\t"); i > 0 {
		return i
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if cut == 0 {
		_, size := utf8.DecodeRuneInString(s)
		return size
	}
	return cut
}
