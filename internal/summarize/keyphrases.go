package summarize

import (
	"context"
	"fmt"
	"strings"

	"github.com/adverant/nexus/pdf-intake-worker/internal/models"
	"github.com/adverant/nexus/pdf-intake-worker/internal/text"
)

// KeyPhraseDetector is the part of the NLP service the key-phrase engine uses
type KeyPhraseDetector interface {
	DetectKeyPhrases(ctx context.Context, t string) ([]models.KeyPhrase, error)
}

// KeyPhrases scores each sentence by the summed score of the service's key
// phrases it contains. Phrases below MinScore are ignored.
type KeyPhrases struct {
	detector KeyPhraseDetector
	MinScore float64
}

// NewKeyPhrases creates the key-phrase engine
func NewKeyPhrases(detector KeyPhraseDetector) *KeyPhrases {
	return &KeyPhrases{detector: detector, MinScore: 0.8}
}

// Name implements Engine
func (k *KeyPhrases) Name() models.SummaryEngine { return models.EngineKeyPhrases }

// Select implements Engine. Service errors and an empty phrase set are
// returned as errors so the next engine runs.
func (k *KeyPhrases) Select(ctx context.Context, sentences []string, n int) ([]int, error) {
	if k.detector == nil {
		return nil, fmt.Errorf("key phrase detector not configured")
	}

	phrases, err := k.detector.DetectKeyPhrases(ctx, strings.Join(sentences, " "))
	if err != nil {
		return nil, fmt.Errorf("detect key phrases: %w", err)
	}

	kept := make(map[string]float64)
	for _, p := range phrases {
		folded := strings.TrimSpace(text.Fold(p.Text))
		if folded == "" || p.Score < k.MinScore {
			continue
		}
		if p.Score > kept[folded] {
			kept[folded] = p.Score
		}
	}
	if len(kept) == 0 {
		return nil, ErrDegenerate
	}

	scores := make([]float64, len(sentences))
	matched := false
	for i, s := range sentences {
		folded := text.Fold(s)
		for phrase, score := range kept {
			if strings.Contains(folded, phrase) {
				scores[i] += score
				matched = true
			}
		}
	}
	if !matched {
		return nil, ErrDegenerate
	}

	return topN(scores, n), nil
}
