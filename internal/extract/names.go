package extract

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/adverant/nexus/pdf-intake-worker/internal/text"
)

const (
	minNameTokens = 2
	maxNameTokens = 6
)

// Lowercase particles allowed inside a name
var connectors = map[string]struct{}{
	"de": {}, "del": {}, "la": {}, "las": {}, "los": {}, "y": {},
	"da": {}, "do": {}, "das": {}, "dos": {},
}

// Folded words that never belong to a person name: institutions, roles,
// form labels and OCR noise.
var nameNoise = toSet(
	// institutions
	"republica", "colombia", "registraduria", "nacional", "estado", "civil", "rama", "judicial",
	"ministerio", "direccion", "secretaria", "gobierno", "formulario", "certificado", "documento",
	"radicado", "consulta", "web", "nit", "id", "cc", "c.c", "resolucion", "oficio", "acta",
	"municipal", "departamento", "nro", "no", "n",
	"juzgado", "circuito", "penal", "laboral", "fiscalia", "corte", "suprema", "justicia", "sala",
	"casacion", "policia", "cti", "hospital", "comisaria", "contraloria", "despacho", "notaria",
	"fundacion", "casa", "hogar", "organizacion", "eps", "adres", "dane", "medicina", "legal",
	// roles
	"seccion", "investigaciones", "magistrado", "magistrada", "doctor", "doctora", "jefe", "jefa",
	"lider", "grupo", "profesional", "investigador", "investigadora", "rector", "rectora",
	"defensor", "defensora", "cura", "parroco", "coordinador", "coordinadora", "demandante",
	"accionante", "accionado", "juez", "jueza", "senor", "senora",
	// form labels
	"solicitud", "informacion", "referencia", "asunto", "respecto", "ciudad", "oficina",
	"juridica", "nombre", "nombres", "apellido", "apellidos", "primer", "segundo", "fecha",
	"expedicion", "lugar", "nacimiento", "registro", "defuncion", "cedula", "ciudadania",
	"identificacion", "nuip", "codigo", "postal", "pagina", "publico", "informe", "policial",
	"ejecutoria", "preparacion", "parentesco", "vigilancia", "fiscal", "tutela", "mayor", "edad",
	// pronouns and OCR debris
	"cada", "uno", "una", "unos", "unas", "ellos", "ellas", "este", "esta", "estos", "estas",
	"ese", "esa", "esos", "esas", "aquel", "aquella", "ocr", "ok", "kk", "og",
)

// Folded words a sentence may put right before a name: "Yo JUAN PÉREZ",
// "Don Pedro Rojas". They are dropped from the start of a candidate only.
var namePrefixes = toSet(
	"yo", "el", "ella", "don", "dona", "sr", "sra", "senor", "senora", "dr", "dra",
	"doctor", "doctora", "suscrito", "suscrita", "ciudadano", "ciudadana",
)

func toSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

var nameTrimChars = " .,;:'`´-"

var qepdRe = regexp.MustCompile(`(?i)\(?\s*q\.?\s*e\.?\s*p\.?\s*d\.?\s*\)?`)

func isConnector(tok string) bool {
	_, ok := connectors[strings.ToLower(tok)]
	return ok
}

func isPrefix(tok string) bool {
	_, ok := namePrefixes[strings.Trim(text.Fold(tok), nameTrimChars)]
	return ok
}

func isNoise(tok string) bool {
	_, ok := nameNoise[strings.Trim(text.Fold(tok), nameTrimChars)]
	return ok
}

// cleanName trims punctuation, drops "(q.e.p.d.)", strips leading pronouns
// and courtesy titles and strips connectors and noise words from both ends.
// It returns the remaining tokens.
func cleanName(raw string) []string {
	raw = qepdRe.ReplaceAllString(raw, " ")
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return unicode.IsSpace(r) || r == ',' || r == ';' || r == ':'
	})

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, nameTrimChars)
		if f != "" {
			tokens = append(tokens, f)
		}
	}

	for len(tokens) > 0 && (isConnector(tokens[0]) || isNoise(tokens[0]) || isPrefix(tokens[0])) {
		tokens = tokens[1:]
	}
	for len(tokens) > 0 && (isConnector(tokens[len(tokens)-1]) || isNoise(tokens[len(tokens)-1])) {
		tokens = tokens[:len(tokens)-1]
	}
	return tokens
}

// plausiblePerson reports whether tokens look like a person name: two to six
// words of at least two letters, no institutional words, no gerunds.
func plausiblePerson(tokens []string) bool {
	if len(tokens) < minNameTokens || len(tokens) > maxNameTokens {
		return false
	}
	if isConnector(tokens[0]) || isConnector(tokens[len(tokens)-1]) {
		return false
	}

	words := 0
	for _, tok := range tokens {
		if isConnector(tok) {
			continue
		}
		if isNoise(tok) {
			return false
		}
		folded := text.Fold(tok)
		if letterCount(folded) < 2 {
			return false
		}
		if strings.HasSuffix(folded, "ando") || strings.HasSuffix(folded, "endo") {
			return false
		}
		words++
	}
	return words >= minNameTokens
}

func letterCount(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			n++
		}
	}
	return n
}

// titleName capitalizes each word and keeps connectors lowercase:
// "JUAN DE LA TORRE" becomes "Juan de la Torre".
func titleName(tokens []string) string {
	out := make([]string, len(tokens))
	for i, tok := range tokens {
		lower := strings.ToLower(tok)
		if isConnector(tok) {
			out[i] = lower
			continue
		}
		r, size := utf8.DecodeRuneInString(lower)
		out[i] = string(unicode.ToUpper(r)) + lower[size:]
	}
	return strings.Join(out, " ")
}

// normalizeName cleans a raw candidate and returns its display form and
// deduplication key, or ok=false when it is not a plausible person.
func normalizeName(raw string) (display, key string, ok bool) {
	tokens := cleanName(raw)
	if !plausiblePerson(tokens) {
		return "", "", false
	}
	display = titleName(tokens)
	return display, text.Fold(display), true
}
