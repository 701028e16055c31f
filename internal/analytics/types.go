package analytics

import "time"

// BehaviorProfile is the derived behavioral picture of one identity. It is
// computed on demand from conversation transcripts and cached with a TTL;
// nothing stores it canonically.
type BehaviorProfile struct {
	Communication CommunicationPatterns `json:"communication"`
	Engagement    EngagementMetrics     `json:"engagement"`
	Sentiment     SentimentEvolution    `json:"sentiment"`
	Predictive    PredictiveIndicators  `json:"predictive"`
	AnalyzedAt    time.Time             `json:"analyzedAt"`
}

// CommunicationPatterns describes how the user writes.
type CommunicationPatterns struct {
	AvgMessageLength float64       `json:"avgMessageLength"`
	QuestionRate     float64       `json:"questionRate"`    // questions per user message
	ExclamationRate  float64       `json:"exclamationRate"` // exclamations per user message
	CapsRate         float64       `json:"capsRate"`        // fraction of letters that are uppercase
	EmojiRate        float64       `json:"emojiRate"`       // emoji per user message
	AvgResponseDelay time.Duration `json:"avgResponseDelay"`
	Style            Style         `json:"style"`
}

// Style classifies message verbosity by average length.
type Style string

const (
	StyleBrief    Style = "brief"    // < 20 chars
	StyleConcise  Style = "concise"  // < 50 chars
	StyleDetailed Style = "detailed" // < 100 chars
	StyleVerbose  Style = "verbose"  // >= 100 chars
)

// EngagementMetrics describes how actively the user participates.
type EngagementMetrics struct {
	Sessions           int     `json:"sessions"`
	MessagesPerSession float64 `json:"messagesPerSession"`
	InitiationRate     float64 `json:"initiationRate"` // sessions opened by the user
	CompletionRate     float64 `json:"completionRate"` // sessions closed by the assistant
	Level              float64 `json:"level"`          // [0,1]
}

// SentimentEvolution tracks sentiment across the transcript.
type SentimentEvolution struct {
	Overall   float64 `json:"overall"`   // mean per-message sentiment in [-1,1]
	Trend     float64 `json:"trend"`     // mean(second half) - mean(first half)
	Stability float64 `json:"stability"` // 1 / (1 + variance)
}

// PredictiveIndicators are additive, clamped risk/opportunity scores in [0,1].
type PredictiveIndicators struct {
	ChurnRisk       float64 `json:"churnRisk"`
	UpsellPotential float64 `json:"upsellPotential"`
	SupportRisk     float64 `json:"supportRisk"`
}
