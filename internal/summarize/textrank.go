package summarize

import (
	"context"
	"math"

	"github.com/adverant/nexus/pdf-intake-worker/internal/models"
)

// TextRank ranks sentences by damped power iteration over a content-word
// overlap graph.
type TextRank struct {
	Damping       float64
	MaxIterations int
	Epsilon       float64
}

// NewTextRank creates the statistical engine with the usual parameters
func NewTextRank() *TextRank {
	return &TextRank{Damping: 0.85, MaxIterations: 50, Epsilon: 1e-4}
}

// Name implements Engine
func (t *TextRank) Name() models.SummaryEngine { return models.EngineTextRank }

// Select implements Engine. It returns ErrDegenerate when no two sentences
// share a content word.
func (t *TextRank) Select(ctx context.Context, sentences []string, n int) ([]int, error) {
	size := len(sentences)
	if size == 0 {
		return nil, ErrDegenerate
	}

	sets := make([]map[string]struct{}, size)
	for i, s := range sentences {
		words, _ := contentWords(s)
		set := make(map[string]struct{}, len(words))
		for _, w := range words {
			set[w] = struct{}{}
		}
		sets[i] = set
	}

	weights := make([][]float64, size)
	outSum := make([]float64, size)
	edges := 0
	for i := range weights {
		weights[i] = make([]float64, size)
	}
	for i := 0; i < size; i++ {
		for j := i + 1; j < size; j++ {
			w := similarity(sets[i], sets[j])
			if w == 0 {
				continue
			}
			weights[i][j], weights[j][i] = w, w
			outSum[i] += w
			outSum[j] += w
			edges++
		}
	}
	if edges == 0 {
		return nil, ErrDegenerate
	}

	scores := make([]float64, size)
	for i := range scores {
		scores[i] = 1.0 / float64(size)
	}
	next := make([]float64, size)
	base := (1 - t.Damping) / float64(size)

	for iter := 0; iter < t.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		delta := 0.0
		for i := 0; i < size; i++ {
			sum := 0.0
			for j := 0; j < size; j++ {
				if weights[j][i] == 0 || outSum[j] == 0 {
					continue
				}
				sum += weights[j][i] / outSum[j] * scores[j]
			}
			next[i] = base + t.Damping*sum
			delta += math.Abs(next[i] - scores[i])
		}
		scores, next = next, scores
		if delta < t.Epsilon {
			break
		}
	}

	return topN(scores, n), nil
}

// similarity is the shared word count normalized by the log of both sizes
func similarity(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for w := range a {
		if _, ok := b[w]; ok {
			shared++
		}
	}
	if shared == 0 {
		return 0
	}
	denom := math.Log(float64(len(a))+1) + math.Log(float64(len(b))+1)
	return float64(shared) / denom
}
