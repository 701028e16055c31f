package analytics

import "strings"

// SentimentScorer scores a single message in [-1, 1]. The lexicon
// implementation below is a deliberately crude stand-in; a real NLP model can
// be substituted here without touching the analytics control flow.
type SentimentScorer interface {
	Score(text string) float64
}

// LexiconScorer counts positive and negative keywords. Each net keyword
// moves the score by 0.2, clamped to [-1, 1].
type LexiconScorer struct {
	positive []string
	negative []string
}

// NewLexiconScorer creates a scorer with the default english lexicon.
func NewLexiconScorer() *LexiconScorer {
	return &LexiconScorer{
		positive: []string{
			"thanks", "thank", "great", "good", "awesome", "perfect", "love",
			"excellent", "happy", "amazing", "wonderful", "appreciate", "nice",
			"helpful", "best",
		},
		negative: []string{
			"bad", "terrible", "awful", "hate", "angry", "disappointed",
			"frustrated", "horrible", "worst", "useless", "annoyed", "upset",
			"broken", "problem", "complaint",
		},
	}
}

func (s *LexiconScorer) Score(text string) float64 {
	lower := strings.ToLower(text)

	count := 0
	for _, w := range s.positive {
		if strings.Contains(lower, w) {
			count++
		}
	}
	for _, w := range s.negative {
		if strings.Contains(lower, w) {
			count--
		}
	}

	score := float64(count) / 5
	return clamp(score, -1, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
