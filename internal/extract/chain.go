package extract

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/adverant/nexus/pdf-intake-worker/internal/errors"
	"github.com/adverant/nexus/pdf-intake-worker/internal/logging"
	"github.com/adverant/nexus/pdf-intake-worker/internal/models"
)

type strategyFunc func(ctx context.Context, pages []models.PageText) (*models.ExtractionResult, error)

// Chain runs strategies in order and returns the first result. Later
// strategies are not called once one resolves the field. A strategy error
// is remembered and the next strategy runs; if none resolves the field the
// errors are returned with a nil result.
type Chain struct {
	field      models.Field
	strategies []strategyFunc
	logger     *logging.Logger
}

// NewCedulaChain builds the cédula chain from extractors in priority order
func NewCedulaChain(logger *logging.Logger, extractors ...CedulaExtractor) *Chain {
	c := &Chain{field: models.FieldCedula, logger: orNop(logger)}
	for _, e := range extractors {
		if e != nil {
			c.strategies = append(c.strategies, e.ExtractCedula)
		}
	}
	return c
}

// NewNameChain builds the name chain from extractors in priority order
func NewNameChain(logger *logging.Logger, extractors ...NameExtractor) *Chain {
	c := &Chain{field: models.FieldName, logger: orNop(logger)}
	for _, e := range extractors {
		if e != nil {
			c.strategies = append(c.strategies, e.ExtractName)
		}
	}
	return c
}

func orNop(l *logging.Logger) *logging.Logger {
	if l == nil {
		return logging.Nop()
	}
	return l
}

// Field returns the field the chain resolves
func (c *Chain) Field() models.Field { return c.field }

// Extract runs the chain
func (c *Chain) Extract(ctx context.Context, pages []models.PageText) (*models.ExtractionResult, error) {
	if err := checkPages(pages); err != nil {
		return nil, err
	}

	var errs []error
	for i, run := range c.strategies {
		result, err := run(ctx, pages)
		if err != nil {
			if errors.Is(err, apperrors.ErrInvalidInput) {
				return nil, err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			c.logger.Warn("Extraction strategy failed, trying next",
				"field", c.field, "strategy", i, "error", err)
			errs = append(errs, err)
			continue
		}
		if result != nil {
			return result, nil
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%s: %w", c.field, errors.Join(errs...))
	}
	return nil, nil
}

// ExtractCedula lets a cédula chain stand in for a single extractor
func (c *Chain) ExtractCedula(ctx context.Context, pages []models.PageText) (*models.ExtractionResult, error) {
	return c.Extract(ctx, pages)
}

// ExtractName lets a name chain stand in for a single extractor
func (c *Chain) ExtractName(ctx context.Context, pages []models.PageText) (*models.ExtractionResult, error) {
	return c.Extract(ctx, pages)
}

// Outcome is what the extractors produced for one document. Failures lists
// strategy errors that left a field unresolved.
type Outcome struct {
	Results  []*models.ExtractionResult
	Failures []error
}

// Set runs several chains over the same pages concurrently
type Set struct {
	chains []*Chain
}

// NewSet creates a Set. Results keep the order of chains.
func NewSet(chains ...*Chain) *Set {
	return &Set{chains: chains}
}

// ExtractAll runs every chain. Unresolved fields are absent from Results.
// Only invalid input or cancellation is returned as an error.
func (s *Set) ExtractAll(ctx context.Context, pages []models.PageText) (Outcome, error) {
	if err := checkPages(pages); err != nil {
		return Outcome{}, err
	}

	results := make([]*models.ExtractionResult, len(s.chains))
	failures := make([]error, len(s.chains))

	var g errgroup.Group
	for i, chain := range s.chains {
		g.Go(func() error {
			res, err := chain.Extract(ctx, pages)
			if err != nil {
				if errors.Is(err, apperrors.ErrInvalidInput) || ctx.Err() != nil {
					return err
				}
				failures[i] = err
				return nil
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Outcome{}, err
	}

	var out Outcome
	for i := range s.chains {
		if results[i] != nil {
			out.Results = append(out.Results, results[i])
		}
		if failures[i] != nil {
			out.Failures = append(out.Failures, failures[i])
		}
	}
	return out, nil
}
