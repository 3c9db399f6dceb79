package extract

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/adverant/nexus/pdf-intake-worker/internal/models"
	"github.com/adverant/nexus/pdf-intake-worker/internal/text"
)

const (
	nameUpper = `[A-ZÁÉÍÓÚÑÜ][A-ZÁÉÍÓÚÑÜ'´\-]+`
	nameTitle = `[A-ZÁÉÍÓÚÑÜ][a-záéíóúñü'´\-]+`
	nameConn  = `(?:d[ea]l?|y|las?|los|das?|dos?)`
	nameTok   = `(?:` + nameUpper + `|` + nameTitle + `)`
	// A name starts with a capitalized word and continues on the same line
	nameSpan = `(` + nameTok + `(?:[ \t]+(?:` + nameTok + `|` + nameConn + `)){1,6})`

	senorVariants = `(?:se(?:ñ|n|f(?:i|fi))?or(?:a)?|sra?\.?)`

	authorityWindow = 100
)

// Trigger phrases that introduce the person a legal document concerns.
// Triggers are case-insensitive, the name itself is not.
var nameTriggers = []*regexp.Regexp{
	// JUAN PÉREZ GÓMEZ, mayor de edad
	regexp.MustCompile(nameSpan + `[ \t]*,[ \t]*(?i:mayor\s+de\s+edad)`),
	regexp.MustCompile(`(?i:tutela\s+promovida\s+por(?:\s+(?:el|la))?(?:\s+` + senorVariants + `)?)\s+` + nameSpan),
	regexp.MustCompile(`(?i:contra\s+(?:los\s+)?herederos(?:\s+determinados)?(?:\s+e\s+indeterminados)?\s+del?(?:\s+` + senorVariants + `)?)\s+` + nameSpan),
	regexp.MustCompile(`(?i:accionante)[ \t]*:\s*` + nameSpan),
	regexp.MustCompile(`(?i:\b` + senorVariants + `)[ \t]+` + nameSpan),
	regexp.MustCompile(`(?i:\bcontra)[ \t]+` + nameSpan),
}

// The signer of a ruling is not the subject
var authorityRe = regexp.MustCompile(`(?:magistrad[oa]|juez[a]?|relator(?:a)?|secretari[oa]|escribiente)(?:\s+ponente)?\s*[:,]?\s*$`)

// Identity form lines such as "Primer Apellido: PÉREZ"
var fieldLineRe = regexp.MustCompile(`(?im)^[ \t]*[*•\-]?[ \t]*(primer|segundo)[ \t]+(apellido|nombre)[ \t]*:[ \t]*(.*)$`)

// PatternName finds the person named after a legal trigger phrase or on
// identity form lines
type PatternName struct{}

// NewPatternName creates the pattern name extractor
func NewPatternName() *PatternName {
	return &PatternName{}
}

type nameHit struct {
	pos  int
	name string
	key  string
}

// ExtractName implements NameExtractor
func (p *PatternName) ExtractName(ctx context.Context, pages []models.PageText) (*models.ExtractionResult, error) {
	if err := checkPages(pages); err != nil {
		return nil, err
	}

	found := newMatchSet()
	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hits := append(triggerNames(page.Text), fieldLineNames(page.Text)...)
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })
		for _, h := range hits {
			found.add(h.key, h.name, page.Index+1)
		}
	}

	return found.result(models.FieldName, models.SourcePattern, models.ConfidenceHigh), nil
}

func triggerNames(t string) []nameHit {
	var hits []nameHit
	for _, re := range nameTriggers {
		for _, loc := range re.FindAllStringSubmatchIndex(t, -1) {
			start, end := loc[2], loc[3]
			before := t[:loc[0]]
			if len(before) > authorityWindow {
				before = before[len(before)-authorityWindow:]
			}
			if authorityRe.MatchString(text.Fold(before)) {
				continue
			}
			raw := dropPartialWord(t, start, end)
			if name, key, ok := normalizeName(raw); ok {
				hits = append(hits, nameHit{pos: start, name: name, key: key})
			}
		}
	}
	return hits
}

// dropPartialWord removes the last word of t[start:end] when the match
// stopped inside a longer word, e.g. a connector "de" read from "dentro".
func dropPartialWord(t string, start, end int) string {
	span := t[start:end]
	if end >= len(t) {
		return span
	}
	if r, _ := utf8.DecodeRuneInString(t[end:]); !unicode.IsLetter(r) {
		return span
	}
	if i := strings.LastIndexAny(span, " \t"); i >= 0 {
		return span[:i]
	}
	return ""
}

// fieldLineNames assembles names from Primer/Segundo Nombre/Apellido lines.
// A repeated label starts a new person. An empty value is read from the
// next non-empty line.
func fieldLineNames(t string) []nameHit {
	var hits []nameHit
	var (
		fields = map[string]string{}
		pos    = -1
	)

	flush := func() {
		if len(fields) == 0 {
			return
		}
		raw := strings.Join([]string{
			fields["primer nombre"], fields["segundo nombre"],
			fields["primer apellido"], fields["segundo apellido"],
		}, " ")
		if name, key, ok := normalizeName(raw); ok {
			hits = append(hits, nameHit{pos: pos, name: name, key: key})
		}
		fields = map[string]string{}
		pos = -1
	}

	for _, loc := range fieldLineRe.FindAllStringSubmatchIndex(t, -1) {
		label := text.Fold(t[loc[2]:loc[3]] + " " + t[loc[4]:loc[5]])
		value := strings.TrimSpace(t[loc[6]:loc[7]])
		if value == "" {
			value = nextLine(t, loc[1])
		}
		if folded := text.Fold(value); folded == "ninguno" || folded == "ninguna" {
			value = ""
		}

		if _, dup := fields[label]; dup {
			flush()
		}
		if pos < 0 {
			pos = loc[0]
		}
		fields[label] = value
	}
	flush()

	return hits
}

// nextLine returns the first non-empty line after offset, unless it is
// another form label
func nextLine(t string, offset int) string {
	for _, line := range strings.Split(t[offset:], "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.Contains(line, ":") {
			return ""
		}
		return line
	}
	return ""
}
