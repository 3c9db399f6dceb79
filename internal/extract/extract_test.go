package extract

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/adverant/nexus/pdf-intake-worker/internal/errors"
	"github.com/adverant/nexus/pdf-intake-worker/internal/models"
)

func pagesOf(texts ...string) []models.PageText {
	pages := make([]models.PageText, len(texts))
	for i, t := range texts {
		pages[i] = models.PageText{Index: i, Text: t, Method: models.MethodNative}
	}
	return pages
}

type stubEntities struct {
	entities []models.Entity
	err      error
	calls    atomic.Int32
}

func (s *stubEntities) DetectEntities(context.Context, string) ([]models.Entity, error) {
	s.calls.Add(1)
	return s.entities, s.err
}

func TestPatternCedula_IdentifiedWith(t *testing.T) {
	pages := pagesOf("El señor JUAN PÉREZ GÓMEZ, identificado con cédula de ciudadanía No. 1.234.567.890 de Bogotá.")

	got, err := NewPatternCedula().ExtractCedula(context.Background(), pages)

	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.FieldCedula, got.Field)
	assert.Equal(t, "1234567890", got.Value)
	assert.Equal(t, models.SourcePattern, got.Source)
	assert.Equal(t, models.ConfidenceHigh, got.Confidence)
}

func TestPatternCedula_PagesAreMerged(t *testing.T) {
	pages := pagesOf("Accionante cc 12345678 presenta tutela.", "Otra vez C.C. 12.345.678 en el anexo.")

	got, err := NewPatternCedula().ExtractCedula(context.Background(), pages)

	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []models.Match{{Value: "12345678", Pages: []int{1, 2}}}, got.Matches)
}

func TestPatternCedula_Rejections(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"no identity keyword", "El total fue de 1.500.000 pesos."},
		{"blacklisted field nearby", "Cédula: 52.123.456\nDirección: Calle 1 # 2-3"},
		{"verification code", "Cédula de ciudadanía 0123456789 consulte el código de verificación."},
		{"too short", "Cédula 12.345"},
		{"longer digit run", "Cédula 123456789012"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewPatternCedula().ExtractCedula(context.Background(), pagesOf(tt.text))
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestPatternCedula_FilingNumberIsBanned(t *testing.T) {
	pages := pagesOf(
		"Radicado: 11001 31 03 005 2021 00123. Accionante identificado con cédula 1100131.",
		"Cédula 98765432 del accionante.",
	)

	got, err := NewPatternCedula().ExtractCedula(context.Background(), pages)

	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"98765432"}, got.Values())
}

func TestPatternCedula_Input(t *testing.T) {
	_, err := NewPatternCedula().ExtractCedula(context.Background(), nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	got, err := NewPatternCedula().ExtractCedula(context.Background(), []models.PageText{})
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestPatternName_Triggers(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			"tutela promovida por",
			"Acción de tutela promovida por el señor JUAN CARLOS PÉREZ GÓMEZ, identificado con cédula 79.123.456.",
			"Juan Carlos Pérez Gómez",
		},
		{"accionante label", "Accionante: MARÍA LÓPEZ DÍAZ\nAccionado: EPS SURA", "María López Díaz"},
		{"mayor de edad", "Yo, ANA LUCÍA DE LA TORRE, mayor de edad, vecina de Cali", "Ana Lucía de la Torre"},
		{"herederos", "Demanda contra los herederos determinados e indeterminados de PEDRO ROJAS MUÑOZ (q.e.p.d.)", "Pedro Rojas Muñoz"},
		{"contra with partial word", "Proceso contra Juan Pérez dentro del término legal.", "Juan Pérez"},
		{"ocr spelling", "La sefiora Carmen Ruiz Vega solicita copia.", "Carmen Ruiz Vega"},
		{"pronoun before name", "Yo JUAN PÉREZ, mayor de edad, domiciliado en Bogotá", "Juan Pérez"},
		{"courtesy title before name", "Don Pedro Rojas Muñoz, mayor de edad y vecino de Tunja", "Pedro Rojas Muñoz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewPatternName().ExtractName(context.Background(), pagesOf(tt.text))
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Value)
			assert.Equal(t, models.SourcePattern, got.Source)
			assert.Equal(t, models.ConfidenceHigh, got.Confidence)
		})
	}
}

func TestPatternName_AuthorityIsSkipped(t *testing.T) {
	pages := pagesOf("Magistrado Ponente: señor LUIS ALBERTO RAMÍREZ\nAccionante: MARÍA LÓPEZ DÍAZ")

	got, err := NewPatternName().ExtractName(context.Background(), pages)

	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"María López Díaz"}, got.Values())
}

func TestPatternName_InstitutionsRejected(t *testing.T) {
	pages := pagesOf("Señor JUEZ PROMISCUO MUNICIPAL de Funza.", "Contra Juzgado Primero Penal.")

	got, err := NewPatternName().ExtractName(context.Background(), pages)

	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPatternName_FieldLines(t *testing.T) {
	pages := pagesOf(
		"Primer Apellido: PÉREZ\nSegundo Apellido: GÓMEZ\nPrimer Nombre: ANA\nSegundo Nombre: MARÍA",
		"Primer Nombre:\nPEDRO\nSegundo Nombre: NINGUNO\nPrimer Apellido: ROJAS",
	)

	got, err := NewPatternName().ExtractName(context.Background(), pages)

	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []models.Match{
		{Value: "Ana María Pérez Gómez", Pages: []int{1}},
		{Value: "Pedro Rojas", Pages: []int{2}},
	}, got.Matches)
}

func TestPatternName_DeduplicatesAcrossPages(t *testing.T) {
	pages := pagesOf("Al señor JUAN PÉREZ se le notifica.", "Señor Juan Pérez, mayor de edad.")

	got, err := NewPatternName().ExtractName(context.Background(), pages)

	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []models.Match{{Value: "Juan Pérez", Pages: []int{1, 2}}}, got.Matches)
}

func TestPatternName_NoEntities(t *testing.T) {
	got, err := NewPatternName().ExtractName(context.Background(), pagesOf("el documento no menciona a nadie en particular."))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestNLPName_FiltersByTypeAndScore(t *testing.T) {
	svc := &stubEntities{entities: []models.Entity{
		{Type: "ORGANIZATION", Text: "Fiscalía General", Score: 0.99},
		{Type: "PERSON", Text: "Low Score", Score: 0.5},
		{Type: "PERSON", Text: "JUAN PÉREZ", Score: 0.95},
		{Type: "PERSON", Text: "Juez Promiscuo", Score: 0.97},
	}}

	got, err := NewNLPName(svc, NLPOptions{}).ExtractName(context.Background(), pagesOf("texto"))

	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Juan Pérez", got.Value)
	assert.Equal(t, models.SourceNLP, got.Source)
	assert.Equal(t, models.ConfidenceMedium, got.Confidence)
	assert.Len(t, got.Matches, 1)
}

func TestNLPCedula_DigitsOnly(t *testing.T) {
	svc := &stubEntities{entities: []models.Entity{
		{Type: "ID_NUMBER", Text: "1.234.567", Score: 0.9},
		{Type: "ID_NUMBER", Text: "123", Score: 0.9},
		{Type: "PHONE", Text: "3001234567", Score: 0.9},
	}}

	got, err := NewNLPCedula(svc, NLPOptions{}).ExtractCedula(context.Background(), pagesOf("texto"))

	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "1234567", got.Value)
	assert.Equal(t, models.ConfidenceMedium, got.Confidence)
}

func TestNLPCedula_AcceptedEntityTypes(t *testing.T) {
	svc := &stubEntities{entities: []models.Entity{
		{Type: "DATE", Text: "20240315", Score: 0.9},
		{Type: "OTHER", Text: "79 123 456", Score: 0.9},
		{Type: "national_id", Text: "1.020.304.050", Score: 0.9},
		{Type: "CEDULA", Text: "52.111.222", Score: 0.9},
	}}

	got, err := NewNLPCedula(svc, NLPOptions{}).ExtractCedula(context.Background(), pagesOf("texto"))

	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "79123456", got.Value)
	assert.Equal(t, []string{"79123456", "1020304050", "52111222"}, got.Values())
}

func TestNLP_ChunksLongPages(t *testing.T) {
	svc := &stubEntities{}
	long := ""
	for i := 0; i < 10; i++ {
		long += "Esta es una oración de relleno para el documento. "
	}

	_, err := NewNLPName(svc, NLPOptions{MaxChunkBytes: 120}).ExtractName(context.Background(), pagesOf(long))

	require.NoError(t, err)
	assert.Greater(t, svc.calls.Load(), int32(1))
}

func TestChain_NLPNotCalledWhenPatternResolves(t *testing.T) {
	svc := &stubEntities{entities: []models.Entity{{Type: "ID_NUMBER", Text: "99999999", Score: 1}}}
	chain := NewCedulaChain(nil, NewPatternCedula(), NewNLPCedula(svc, NLPOptions{}))

	got, err := chain.Extract(context.Background(), pagesOf("Identificado con cédula 79.123.456"))

	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "79123456", got.Value)
	assert.Equal(t, models.SourcePattern, got.Source)
	assert.Equal(t, int32(0), svc.calls.Load())
}

func TestChain_FallsBackToNLP(t *testing.T) {
	svc := &stubEntities{entities: []models.Entity{{Type: "PERSON", Text: "Laura Gómez", Score: 0.9}}}
	chain := NewNameChain(nil, NewPatternName(), NewNLPName(svc, NLPOptions{}))

	got, err := chain.Extract(context.Background(), pagesOf("sin disparadores aquí"))

	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Laura Gómez", got.Value)
	assert.Equal(t, models.SourceNLP, got.Source)
	assert.Equal(t, int32(1), svc.calls.Load())
}

func TestChain_ServiceErrorLeavesFieldUnresolved(t *testing.T) {
	svcErr := apperrors.NewServiceError("nlp", true, errors.New("unavailable"))
	chain := NewNameChain(nil, NewPatternName(), NewNLPName(&stubEntities{err: svcErr}, NLPOptions{}))

	got, err := chain.Extract(context.Background(), pagesOf("sin disparadores aquí"))

	assert.Nil(t, got)
	assert.ErrorIs(t, err, apperrors.ErrServiceFailed)
}

func TestChain_NothingFound(t *testing.T) {
	chain := NewCedulaChain(nil, NewPatternCedula(), NewNLPCedula(&stubEntities{}, NLPOptions{}))

	got, err := chain.Extract(context.Background(), pagesOf("nada"))

	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestSet_ExtractAll(t *testing.T) {
	failing := &stubEntities{err: apperrors.NewServiceError("nlp", false, errors.New("quota"))}
	set := NewSet(
		NewCedulaChain(nil, NewPatternCedula(), NewNLPCedula(failing, NLPOptions{})),
		NewNameChain(nil, NewPatternName(), NewNLPName(failing, NLPOptions{})),
	)

	out, err := set.ExtractAll(context.Background(), pagesOf("Accionante: MARÍA LÓPEZ DÍAZ"))

	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.Equal(t, models.FieldName, out.Results[0].Field)
	require.Len(t, out.Failures, 1)
	assert.ErrorIs(t, out.Failures[0], apperrors.ErrServiceFailed)

	_, err = set.ExtractAll(context.Background(), nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestSet_ZeroEntities(t *testing.T) {
	set := NewSet(NewCedulaChain(nil, NewPatternCedula()), NewNameChain(nil, NewPatternName()))

	out, err := set.ExtractAll(context.Background(), pagesOf("texto sin entidades"))

	require.NoError(t, err)
	assert.Empty(t, out.Results)
	assert.Empty(t, out.Failures)
}
