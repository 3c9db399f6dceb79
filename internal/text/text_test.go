package text

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"whitespace only", " \t\r\n ", ""},
		{"line endings", "uno\r\ndos\rtres", "uno\ndos\ntres"},
		{"ligatures", "ﬁrma ﬂujo", "firma flujo"},
		{"invisible characters", "ce​dula No", "cedula No"},
		{"quotes", "«hola» “ok” ‘s’", `"hola" "ok" 's'`},
		{"registered sign", "Marca®X", "Marca X"},
		{"ocr senor", "el Sefior Juan y la Senora Ana", "el Señor Juan y la Señora Ana"},
		{"ocr senor upper", "SEFIOR PEDRO", "SEÑOR PEDRO"},
		{"hyphen join", "identifi-\n  cado con", "identificado con"},
		{"space runs", "a  \t b", "a b"},
		{"blank runs", "a\n\n\n\nb", "a\n\nb"},
		{"blank lines with spaces", "a\n \n \n b", "a\n\n b"},
		{"trim", "  texto  ", "texto"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	in := "Sefiora “María”  identifi-\ncada con C.C. 1.234.567\r\n\r\n\r\n\r\nFin"
	once := Normalize(in)
	assert.Equal(t, once, Normalize(once))
}

func TestFold(t *testing.T) {
	assert.Equal(t, "cedula de ciudadania nunez", Fold("Cédula de Ciudadanía Núñez"))
	assert.Equal(t, "numero", Fold("Nú​mero"))
}

func TestSanitizeForJSON(t *testing.T) {
	assert.Equal(t, "ab", SanitizeForJSON("a\x00b"))
	assert.Equal(t, "a�b", SanitizeForJSON("a\xffb"))
	assert.Equal(t, "é", SanitizeForJSON("é"))
}

func TestSentences_Basic(t *testing.T) {
	got := Sentences("Primera frase. Segunda frase! ¿Tercera? Cuarta")
	assert.Equal(t, []string{"Primera frase.", "Segunda frase!", "¿Tercera?", "Cuarta"}, got)
}

func TestSentences_Abbreviations(t *testing.T) {
	got := Sentences("El Sr. Pérez vive en la Cra. 7 No. 12. La Dra. Ruiz firmó el Art. 3. Juan P. Gómez asistió.")
	assert.Equal(t, []string{
		"El Sr. Pérez vive en la Cra. 7 No. 12.",
		"La Dra. Ruiz firmó el Art. 3.",
		"Juan P. Gómez asistió.",
	}, got)
}

func TestSentences_NumbersDoNotSplit(t *testing.T) {
	got := Sentences("Juan Pérez. Cédula 1.234.567. ")
	assert.Equal(t, []string{"Juan Pérez.", "Cédula 1.234.567."}, got)
}

func TestSentences_BlankLineSplits(t *testing.T) {
	got := Sentences("ENCABEZADO SIN PUNTO\n\nCuerpo del texto.")
	assert.Equal(t, []string{"ENCABEZADO SIN PUNTO", "Cuerpo del texto."}, got)
}

func TestSentences_Empty(t *testing.T) {
	assert.Nil(t, Sentences(""))
	assert.Nil(t, Sentences("  \n "))
}

func TestSentenceSpans_AreSubstrings(t *testing.T) {
	src := "  Uno dos.   Tres cuatro?\nCinco seis.  "
	spans := SentenceSpans(src)
	require.Len(t, spans, 3)
	for _, s := range spans {
		assert.Equal(t, s.Text, src[s.Start:s.End])
		assert.True(t, strings.Contains(src, s.Text))
	}
}

func TestWords(t *testing.T) {
	assert.Equal(t, []string{"Cédula", "1", "234", "Núñez"}, Words("Cédula: 1.234 — Núñez!"))
}

func TestChunk(t *testing.T) {
	assert.Nil(t, Chunk("   ", 10))
	assert.Equal(t, []string{"Corto."}, Chunk("Corto.", 100))

	input := "Primera oración. Segunda oración. Tercera oración."
	chunks := Chunk(input, 35)
	assert.Equal(t, []string{"Primera oración. Segunda oración.", "Tercera oración."}, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 35)
	}
}

func TestChunk_LongSentenceSplitsOnSpace(t *testing.T) {
	input := strings.Repeat("palabra ", 20)
	for _, c := range Chunk(input, 30) {
		assert.LessOrEqual(t, len(c), 30)
		assert.NotEmpty(t, c)
		assert.True(t, utf8.ValidString(c))
	}
}
