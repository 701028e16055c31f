package analytics

import (
	"strings"
	"time"
	"unicode"

	"github.com/kalambet/wachat/internal/memory"
)

// sessionGap separates two turns into distinct sessions, and also caps the
// session-duration normalization for the engagement level.
const sessionGap = 30 * time.Minute

// Engine derives a BehaviorProfile from a conversation transcript. Analyze
// is a pure function of its input plus the clock: malformed or empty
// transcripts yield zeroed/neutral defaults, never an error; transcripts
// arrive from an external collaborator and are not fully trusted.
type Engine struct {
	scorer SentimentScorer
	clock  memory.Clock
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// NewEngine creates an Engine with the default lexicon sentiment scorer.
func NewEngine() *Engine {
	return &Engine{scorer: NewLexiconScorer(), clock: realClock{}}
}

// NewEngineWith creates an Engine with a custom scorer and clock (for testing).
func NewEngineWith(scorer SentimentScorer, clock memory.Clock) *Engine {
	return &Engine{scorer: scorer, clock: clock}
}

// Analyze computes the full behavior profile for one transcript, assumed to
// be ordered by timestamp.
func (e *Engine) Analyze(turns []memory.Turn) BehaviorProfile {
	now := e.clock.Now()
	profile := BehaviorProfile{AnalyzedAt: now}
	if len(turns) == 0 {
		return profile
	}

	profile.Communication = e.communicationPatterns(turns)
	profile.Engagement = e.engagementMetrics(turns)
	profile.Sentiment = e.sentimentEvolution(turns)
	profile.Predictive = e.predictiveIndicators(turns, profile, now)
	return profile
}

func (e *Engine) communicationPatterns(turns []memory.Turn) CommunicationPatterns {
	var p CommunicationPatterns

	userCount := 0
	totalLen := 0
	questions := 0
	exclamations := 0
	letters := 0
	upperLetters := 0
	emoji := 0

	var delaySum time.Duration
	delays := 0

	for i, t := range turns {
		if t.Speaker != "user" {
			continue
		}
		userCount++
		totalLen += len(t.Text)
		questions += strings.Count(t.Text, "?")
		exclamations += strings.Count(t.Text, "!")
		for _, r := range t.Text {
			if unicode.IsLetter(r) {
				letters++
				if unicode.IsUpper(r) {
					upperLetters++
				}
			}
			if isEmoji(r) {
				emoji++
			}
		}

		// Inbound→outbound delay: user turn answered by the next assistant turn.
		if i+1 < len(turns) && turns[i+1].Speaker == "assistant" {
			d := turns[i+1].Timestamp.Sub(t.Timestamp)
			if d > 0 {
				delaySum += d
				delays++
			}
		}
	}

	if userCount == 0 {
		return p
	}

	p.AvgMessageLength = float64(totalLen) / float64(userCount)
	p.QuestionRate = float64(questions) / float64(userCount)
	p.ExclamationRate = float64(exclamations) / float64(userCount)
	p.EmojiRate = float64(emoji) / float64(userCount)
	if letters > 0 {
		p.CapsRate = float64(upperLetters) / float64(letters)
	}
	if delays > 0 {
		p.AvgResponseDelay = delaySum / time.Duration(delays)
	}
	p.Style = classifyStyle(p.AvgMessageLength)
	return p
}

func classifyStyle(avgLength float64) Style {
	switch {
	case avgLength < 20:
		return StyleBrief
	case avgLength < 50:
		return StyleConcise
	case avgLength < 100:
		return StyleDetailed
	default:
		return StyleVerbose
	}
}

func (e *Engine) engagementMetrics(turns []memory.Turn) EngagementMetrics {
	var m EngagementMetrics

	sessions := splitSessions(turns)
	m.Sessions = len(sessions)
	if m.Sessions == 0 {
		return m
	}

	totalMessages := 0
	initiated := 0
	completed := 0
	var durationSum time.Duration
	for _, s := range sessions {
		totalMessages += len(s)
		if s[0].Speaker == "user" {
			initiated++
		}
		if s[len(s)-1].Speaker == "assistant" {
			completed++
		}
		durationSum += s[len(s)-1].Timestamp.Sub(s[0].Timestamp)
	}

	m.MessagesPerSession = float64(totalMessages) / float64(m.Sessions)
	m.InitiationRate = float64(initiated) / float64(m.Sessions)
	m.CompletionRate = float64(completed) / float64(m.Sessions)

	// Engagement level blends volume with session length, the latter
	// normalized against the 30-minute cap.
	avgDuration := durationSum / time.Duration(m.Sessions)
	volumeScore := clamp(m.MessagesPerSession/10, 0, 1)
	durationScore := clamp(float64(avgDuration)/float64(sessionGap), 0, 1)
	m.Level = clamp(0.6*volumeScore+0.4*durationScore, 0, 1)
	return m
}

// splitSessions groups turns into sessions separated by gaps longer than
// sessionGap.
func splitSessions(turns []memory.Turn) [][]memory.Turn {
	var sessions [][]memory.Turn
	var current []memory.Turn
	for i, t := range turns {
		if i > 0 && t.Timestamp.Sub(turns[i-1].Timestamp) > sessionGap {
			sessions = append(sessions, current)
			current = nil
		}
		current = append(current, t)
	}
	if len(current) > 0 {
		sessions = append(sessions, current)
	}
	return sessions
}

func (e *Engine) sentimentEvolution(turns []memory.Turn) SentimentEvolution {
	var s SentimentEvolution

	var scores []float64
	for _, t := range turns {
		if t.Speaker != "user" {
			continue
		}
		scores = append(scores, e.scorer.Score(t.Text))
	}
	if len(scores) == 0 {
		s.Stability = 1
		return s
	}

	s.Overall = mean(scores)
	s.Stability = 1 / (1 + variance(scores))

	if len(scores) >= 2 {
		half := len(scores) / 2
		s.Trend = mean(scores[half:]) - mean(scores[:half])
	}
	return s
}

func (e *Engine) predictiveIndicators(turns []memory.Turn, p BehaviorProfile, now time.Time) PredictiveIndicators {
	var ind PredictiveIndicators

	// Support risk: heavy questioning, negative mood, or shouting.
	if p.Communication.QuestionRate > 0.5 {
		ind.SupportRisk += 0.4
	}
	if p.Sentiment.Overall < -0.2 {
		ind.SupportRisk += 0.3
	}
	if p.Communication.ExclamationRate > 0.5 {
		ind.SupportRisk += 0.3
	}
	ind.SupportRisk = clamp(ind.SupportRisk, 0, 1)

	// Churn risk: silence, souring sentiment, high support need.
	lastActivity := turns[len(turns)-1].Timestamp
	if !lastActivity.IsZero() {
		idle := now.Sub(lastActivity)
		if idle > 30*24*time.Hour {
			ind.ChurnRisk += 0.3
		}
		if idle > 60*24*time.Hour {
			ind.ChurnRisk += 0.2
		}
	}
	if p.Sentiment.Trend < -0.2 {
		ind.ChurnRisk += 0.3
	}
	if ind.SupportRisk > 0.5 {
		ind.ChurnRisk += 0.2
	}
	ind.ChurnRisk = clamp(ind.ChurnRisk, 0, 1)

	// Upsell potential: engaged, satisfied, and improving.
	if p.Engagement.Level > 0.6 {
		ind.UpsellPotential += 0.4
	}
	if p.Sentiment.Overall > 0.2 {
		ind.UpsellPotential += 0.3
	}
	if p.Sentiment.Trend > 0.1 {
		ind.UpsellPotential += 0.3
	}
	ind.UpsellPotential = clamp(ind.UpsellPotential, 0, 1)

	return ind
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func variance(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	m := mean(vals)
	sum := 0.0
	for _, v := range vals {
		d := v - m
		sum += d * d
	}
	return sum / float64(len(vals))
}

func isEmoji(r rune) bool {
	return (r >= 0x1F300 && r <= 0x1FAFF) ||
		(r >= 0x2600 && r <= 0x27BF) ||
		(r >= 0x1F000 && r <= 0x1F2FF)
}
