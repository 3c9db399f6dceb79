// Package summarize builds short extractive summaries. An engine ranks the
// candidate sentences; the chosen ones are returned in document order.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/adverant/nexus/pdf-intake-worker/internal/logging"
	"github.com/adverant/nexus/pdf-intake-worker/internal/models"
	"github.com/adverant/nexus/pdf-intake-worker/internal/text"
)

// ErrDegenerate is returned by an engine that cannot rank the input
var ErrDegenerate = errors.New("summarize: degenerate input")

// Engine ranks sentences. It returns the indices of up to n sentences to
// keep, in any order.
type Engine interface {
	Name() models.SummaryEngine
	Select(ctx context.Context, sentences []string, n int) ([]int, error)
}

// Options configures a Summarizer
type Options struct {
	// Preferred engine; nil means TextRank
	Preferred Engine
	// Sentences shorter than this many runes are not candidates unless
	// every sentence is that short
	MinSentenceRunes int
	Logger           *logging.Logger
}

// Summarizer runs the preferred engine, then the frequency engine, then
// takes the lead sentences. It never returns an error.
type Summarizer struct {
	engines  []Engine
	minRunes int
	log      *logging.Logger
}

// New creates a Summarizer
func New(opts Options) *Summarizer {
	preferred := opts.Preferred
	if preferred == nil {
		preferred = NewTextRank()
	}
	engines := []Engine{preferred}
	if preferred.Name() != models.EngineFrequency {
		engines = append(engines, NewFrequency())
	}

	minRunes := opts.MinSentenceRunes
	if minRunes <= 0 {
		minRunes = 10
	}
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}

	return &Summarizer{engines: engines, minRunes: minRunes, log: log}
}

// Summarize returns a summary of at most n sentences
func (s *Summarizer) Summarize(t string, n int) string {
	return s.SummarizeDetailed(context.Background(), t, n).Text
}

// SummarizeDetailed returns the summary with the engine that produced it
func (s *Summarizer) SummarizeDetailed(ctx context.Context, t string, n int) models.Summary {
	if strings.TrimSpace(t) == "" || n <= 0 {
		return models.Summary{Engine: models.EngineNone}
	}

	all := text.Sentences(t)
	if len(all) == 0 {
		return models.Summary{Engine: models.EngineNone}
	}

	candidates := make([]string, 0, len(all))
	for _, sent := range all {
		if utf8.RuneCountInString(sent) >= s.minRunes {
			candidates = append(candidates, sent)
		}
	}
	if len(candidates) == 0 {
		candidates = all
	}

	for _, engine := range s.engines {
		picked, err := safeSelect(ctx, engine, candidates, n)
		if err != nil {
			s.log.Debug("summary engine failed, falling back", "engine", engine.Name(), "error", err)
			continue
		}
		if len(picked) == 0 {
			continue
		}
		return build(candidates, picked, n, engine.Name())
	}

	lead := make([]int, 0, n)
	for i := 0; i < len(candidates) && i < n; i++ {
		lead = append(lead, i)
	}
	return build(candidates, lead, n, models.EngineLead)
}

// safeSelect turns an engine panic into an error
func safeSelect(ctx context.Context, engine Engine, sentences []string, n int) (picked []int, err error) {
	defer func() {
		if r := recover(); r != nil {
			picked = nil
			err = fmt.Errorf("engine %s panicked: %v", engine.Name(), r)
		}
	}()
	return engine.Select(ctx, sentences, n)
}

func build(candidates []string, picked []int, n int, engine models.SummaryEngine) models.Summary {
	seen := make(map[int]struct{}, len(picked))
	idx := make([]int, 0, len(picked))
	for _, i := range picked {
		if i < 0 || i >= len(candidates) {
			continue
		}
		if _, dup := seen[i]; dup {
			continue
		}
		seen[i] = struct{}{}
		idx = append(idx, i)
	}
	if len(idx) > n {
		idx = idx[:n]
	}
	sort.Ints(idx)

	parts := make([]string, len(idx))
	for k, i := range idx {
		parts[k] = candidates[i]
	}

	return models.Summary{
		Text:      strings.Join(parts, " "),
		Engine:    engine,
		Sentences: len(parts),
		Truncated: len(candidates) > len(parts),
	}
}

// topN returns the indices of the n highest scores, ties going to the
// earlier sentence
func topN(scores []float64, n int) []int {
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return scores[idx[a]] > scores[idx[b]]
	})
	if len(idx) > n {
		idx = idx[:n]
	}
	return idx
}

// contentWords returns the folded non-stopword tokens of a sentence and the
// total token count
func contentWords(sentence string) ([]string, int) {
	words := text.Words(sentence)
	out := make([]string, 0, len(words))
	for _, w := range words {
		f := text.Fold(w)
		if isStopword(f) {
			continue
		}
		out = append(out, f)
	}
	return out, len(words)
}

// EngineByName maps a configured engine name to an Engine. The key-phrase
// engine needs a detector.
func EngineByName(name string, detector KeyPhraseDetector) (Engine, error) {
	switch models.SummaryEngine(strings.ToLower(name)) {
	case "", models.EngineTextRank:
		return NewTextRank(), nil
	case models.EngineFrequency:
		return NewFrequency(), nil
	case models.EngineKeyPhrases:
		if detector == nil {
			return nil, fmt.Errorf("summary engine %q requires the NLP service", name)
		}
		return NewKeyPhrases(detector), nil
	default:
		return nil, fmt.Errorf("unknown summary engine %q", name)
	}
}
