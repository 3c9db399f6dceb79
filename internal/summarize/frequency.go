package summarize

import (
	"context"

	"github.com/adverant/nexus/pdf-intake-worker/internal/models"
)

// Frequency scores a sentence by the summed normalized frequency of its
// content words divided by its token count. It never fails.
type Frequency struct{}

// NewFrequency creates the frequency engine
func NewFrequency() *Frequency { return &Frequency{} }

// Name implements Engine
func (f *Frequency) Name() models.SummaryEngine { return models.EngineFrequency }

// Select implements Engine
func (f *Frequency) Select(_ context.Context, sentences []string, n int) ([]int, error) {
	return topN(f.Scores(sentences), n), nil
}

// Scores returns one score per sentence. Sentences whose score is undefined
// (no tokens, or an all-stopword document) score zero.
func (f *Frequency) Scores(sentences []string) []float64 {
	freq := make(map[string]int)
	tokens := make([][]string, len(sentences))
	counts := make([]int, len(sentences))
	for i, s := range sentences {
		tokens[i], counts[i] = contentWords(s)
		for _, w := range tokens[i] {
			freq[w]++
		}
	}

	maxFreq := 0
	for _, c := range freq {
		if c > maxFreq {
			maxFreq = c
		}
	}

	scores := make([]float64, len(sentences))
	if maxFreq == 0 {
		return scores
	}
	for i := range sentences {
		if counts[i] == 0 {
			continue
		}
		sum := 0.0
		for _, w := range tokens[i] {
			sum += float64(freq[w]) / float64(maxFreq)
		}
		scores[i] = sum / float64(counts[i])
	}
	return scores
}
