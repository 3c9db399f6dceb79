package extract

import (
	"context"
	"regexp"
	"strings"

	"github.com/adverant/nexus/pdf-intake-worker/internal/models"
)

const (
	cedulaMinDigits = 6
	cedulaMaxDigits = 10

	contextWindow      = 90
	verificationWindow = 60
)

// All patterns run over folded text: lowercase, no accents.
var (
	// 1.234.567 / 1,234,567 / 1 234 567 / 1234567
	cedulaCandidateRe = regexp.MustCompile(`\d{1,3}(?:[., \-]\d{3})+|\d{6,10}`)

	// Filing numbers such as "radicado no. 11001-31-03-005-2021"
	radicadoChainRe = regexp.MustCompile(`(?:radicacion|radicad[oa]|rad\.)\s*(?:n(?:o\.?|°)|num(?:ero)?)?\s*[:\-]?\s*(\d{1,6}(?:[.\-\s]\d{1,6}){2,})`)

	verificationCodeRe = regexp.MustCompile(`\b0\d{7,11}\b`)
	verificationCtxRe  = regexp.MustCompile(`codigo|verificacion|verificar|autenticidad|consulte|ingres[ea]\s+el\s+codigo`)

	// Printed fields of an identity card that carry other numbers
	cedulaBlacklistRe = regexp.MustCompile(`impresion|fabricacion|huella|ind(?:ice|i[cs]e)|validez|estado\s+de\s+la\s+version|` +
		`documento\s+base|notaria|telefono|grupo\s+sanguineo|factor\s+rh|senales\s+particulares|` +
		`direccion|residencia|pagina`)

	cedulaPrimaryRe = regexp.MustCompile(`\b(?:cedula|nuip|nip|cc|numero\s+de\s+documento)\b|\bc\.\s?c\b|identificad[oa]\s+con`)

	nonDigitRe = regexp.MustCompile(`\D`)
)

// PatternCedula finds cédulas introduced by an identity keyword
type PatternCedula struct{}

// NewPatternCedula creates the pattern cédula extractor
func NewPatternCedula() *PatternCedula {
	return &PatternCedula{}
}

// ExtractCedula implements CedulaExtractor
func (p *PatternCedula) ExtractCedula(ctx context.Context, pages []models.PageText) (*models.ExtractionResult, error) {
	if err := checkPages(pages); err != nil {
		return nil, err
	}

	folded, doc := foldedPages(pages)
	banned := bannedNumbers(doc)
	found := newMatchSet()

	for i, page := range folded {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, digits := range cedulaCandidates(page, banned) {
			found.add(digits, digits, pages[i].Index+1)
		}
	}

	return found.result(models.FieldCedula, models.SourcePattern, models.ConfidenceHigh), nil
}

// cedulaCandidates returns the accepted numbers of one folded page in order
func cedulaCandidates(page string, banned map[string]struct{}) []string {
	var out []string
	for _, loc := range cedulaCandidateRe.FindAllStringIndex(page, -1) {
		start, end := loc[0], loc[1]
		if (start > 0 && isDigit(page[start-1])) || (end < len(page) && isDigit(page[end])) {
			continue
		}

		digits := nonDigitRe.ReplaceAllString(page[start:end], "")
		if len(digits) < cedulaMinDigits || len(digits) > cedulaMaxDigits {
			continue
		}
		if _, skip := banned[digits]; skip {
			continue
		}

		left, right := window(page, start, end, contextWindow)
		if cedulaBlacklistRe.MatchString(left + " " + right) {
			continue
		}
		if !cedulaPrimaryRe.MatchString(left) {
			continue
		}
		out = append(out, digits)
	}
	return out
}

// bannedNumbers collects numbers that look like cédulas but belong to a
// filing number or a verification code anywhere in the document. Every
// 6 to 10 digit run inside a filing number is banned.
func bannedNumbers(doc string) map[string]struct{} {
	banned := make(map[string]struct{})

	for _, m := range radicadoChainRe.FindAllStringSubmatch(doc, -1) {
		chain := nonDigitRe.ReplaceAllString(m[1], "")
		for size := cedulaMinDigits; size <= cedulaMaxDigits && size <= len(chain); size++ {
			for i := 0; i+size <= len(chain); i++ {
				banned[chain[i:i+size]] = struct{}{}
			}
		}
	}

	for _, loc := range verificationCodeRe.FindAllStringIndex(doc, -1) {
		left, right := window(doc, loc[0], loc[1], verificationWindow)
		if verificationCtxRe.MatchString(left + " " + right) {
			banned[doc[loc[0]:loc[1]]] = struct{}{}
		}
	}

	return banned
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// digitsOnly strips separators from a number
func digitsOnly(s string) string {
	return nonDigitRe.ReplaceAllString(strings.TrimSpace(s), "")
}
