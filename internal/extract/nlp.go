package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/adverant/nexus/pdf-intake-worker/internal/models"
	"github.com/adverant/nexus/pdf-intake-worker/internal/text"
)

const (
	// DefaultMaxChunkBytes keeps each request under the entity service limit
	DefaultMaxChunkBytes = 4500
	// DefaultMinPersonScore is the lowest score a PERSON entity may have
	DefaultMinPersonScore = 0.80
)

// Entity types that may carry an identity number. OTHER is where generic
// recognizers put bare numbers; the digit-count check filters it.
var idEntityTypes = map[string]struct{}{
	"ID_NUMBER":   {},
	"NATIONAL_ID": {},
	"CEDULA":      {},
	"OTHER":       {},
}

const personEntityType = "PERSON"

// NLPOptions configures the NLP family
type NLPOptions struct {
	MinScore      float64
	MaxChunkBytes int
}

func (o NLPOptions) withDefaults() NLPOptions {
	if o.MinScore <= 0 {
		o.MinScore = DefaultMinPersonScore
	}
	if o.MaxChunkBytes <= 0 {
		o.MaxChunkBytes = DefaultMaxChunkBytes
	}
	return o
}

// detectByPage sends every page in sentence-aligned chunks and calls visit
// with each entity and its 1-based page. The first service error stops the
// scan.
func detectByPage(ctx context.Context, svc EntityService, pages []models.PageText, maxChunk int, visit func(models.Entity, int)) error {
	for _, page := range pages {
		for _, chunk := range text.Chunk(page.Text, maxChunk) {
			entities, err := svc.DetectEntities(ctx, chunk)
			if err != nil {
				return fmt.Errorf("detect entities on page %d: %w", page.Index+1, err)
			}
			for _, e := range entities {
				visit(e, page.Index+1)
			}
		}
	}
	return nil
}

// NLPCedula reads identity numbers from the entity service
type NLPCedula struct {
	svc  EntityService
	opts NLPOptions
}

// NewNLPCedula creates the NLP cédula extractor
func NewNLPCedula(svc EntityService, opts NLPOptions) *NLPCedula {
	return &NLPCedula{svc: svc, opts: opts.withDefaults()}
}

// ExtractCedula implements CedulaExtractor
func (n *NLPCedula) ExtractCedula(ctx context.Context, pages []models.PageText) (*models.ExtractionResult, error) {
	if err := checkPages(pages); err != nil {
		return nil, err
	}

	found := newMatchSet()
	err := detectByPage(ctx, n.svc, pages, n.opts.MaxChunkBytes, func(e models.Entity, page int) {
		if _, ok := idEntityTypes[strings.ToUpper(e.Type)]; !ok {
			return
		}
		digits := digitsOnly(e.Text)
		if len(digits) < cedulaMinDigits || len(digits) > cedulaMaxDigits {
			return
		}
		found.add(digits, digits, page)
	})
	if err != nil {
		return nil, err
	}

	return found.result(models.FieldCedula, models.SourceNLP, models.ConfidenceMedium), nil
}

// NLPName reads person names from the entity service
type NLPName struct {
	svc  EntityService
	opts NLPOptions
}

// NewNLPName creates the NLP name extractor
func NewNLPName(svc EntityService, opts NLPOptions) *NLPName {
	return &NLPName{svc: svc, opts: opts.withDefaults()}
}

// ExtractName implements NameExtractor
func (n *NLPName) ExtractName(ctx context.Context, pages []models.PageText) (*models.ExtractionResult, error) {
	if err := checkPages(pages); err != nil {
		return nil, err
	}

	found := newMatchSet()
	err := detectByPage(ctx, n.svc, pages, n.opts.MaxChunkBytes, func(e models.Entity, page int) {
		if !strings.EqualFold(e.Type, personEntityType) || e.Score < n.opts.MinScore {
			return
		}
		if name, key, ok := normalizeName(e.Text); ok {
			found.add(key, name, page)
		}
	})
	if err != nil {
		return nil, err
	}

	return found.result(models.FieldName, models.SourceNLP, models.ConfidenceMedium), nil
}
