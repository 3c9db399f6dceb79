// Package extract resolves the cédula and person name of a document. Two
// families implement each capability: pattern heuristics over the normalized
// text and a cloud NLP entity service. A Chain composes them in order.
package extract

import (
	"context"
	"sort"

	apperrors "github.com/adverant/nexus/pdf-intake-worker/internal/errors"
	"github.com/adverant/nexus/pdf-intake-worker/internal/models"
	"github.com/adverant/nexus/pdf-intake-worker/internal/text"
)

// CedulaExtractor finds the identity number of a document. A nil result
// with a nil error means nothing was found.
type CedulaExtractor interface {
	ExtractCedula(ctx context.Context, pages []models.PageText) (*models.ExtractionResult, error)
}

// NameExtractor finds the person a document is about
type NameExtractor interface {
	ExtractName(ctx context.Context, pages []models.PageText) (*models.ExtractionResult, error)
}

// EntityService is the cloud NLP capability the NLP family delegates to
type EntityService interface {
	DetectEntities(ctx context.Context, t string) ([]models.Entity, error)
}

func checkPages(pages []models.PageText) error {
	if pages == nil {
		return apperrors.NewInvalidInputError("extract: pages are nil")
	}
	return nil
}

// matchSet collects distinct values in first-seen order with the 1-based
// pages they occur on
type matchSet struct {
	order []string
	keys  map[string]string
	pages map[string]map[int]struct{}
}

func newMatchSet() *matchSet {
	return &matchSet{
		keys:  make(map[string]string),
		pages: make(map[string]map[int]struct{}),
	}
}

// add records value on page. key deduplicates values that differ only in
// spelling; the first spelling seen is kept.
func (m *matchSet) add(key, value string, page int) {
	if _, ok := m.keys[key]; !ok {
		m.keys[key] = value
		m.order = append(m.order, key)
		m.pages[key] = make(map[int]struct{})
	}
	m.pages[key][page] = struct{}{}
}

func (m *matchSet) empty() bool { return len(m.order) == 0 }

func (m *matchSet) result(field models.Field, source models.Source, confidence models.Confidence) *models.ExtractionResult {
	if m.empty() {
		return nil
	}
	matches := make([]models.Match, 0, len(m.order))
	for _, key := range m.order {
		pages := make([]int, 0, len(m.pages[key]))
		for p := range m.pages[key] {
			pages = append(pages, p)
		}
		sort.Ints(pages)
		matches = append(matches, models.Match{Value: m.keys[key], Pages: pages})
	}
	return &models.ExtractionResult{
		Field:      field,
		Value:      matches[0].Value,
		Source:     source,
		Confidence: confidence,
		Matches:    matches,
	}
}

// foldedPages returns the folded text of each page and the whole document
func foldedPages(pages []models.PageText) ([]string, string) {
	out := make([]string, len(pages))
	total := 0
	for i, p := range pages {
		out[i] = text.Fold(p.Text)
		total += len(out[i]) + 2
	}
	doc := make([]byte, 0, total)
	for i, f := range out {
		if i > 0 {
			doc = append(doc, '\n', '\n')
		}
		doc = append(doc, f...)
	}
	return out, string(doc)
}

func window(s string, start, end, size int) (left, right string) {
	lo := start - size
	if lo < 0 {
		lo = 0
	}
	hi := end + size
	if hi > len(s) {
		hi = len(s)
	}
	return s[lo:start], s[end:hi]
}
