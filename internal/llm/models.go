package llm

import "slices"

// CatalogEntry describes one model in the static catalog. Scores are in
// [0,1]; CostScore is a cost level, so selection inverts it (cheaper is
// better).
type CatalogEntry struct {
	ID           string
	Tier         string   // "fast" or "quality"
	BestFor      []string // conversation types this model suits
	SpeedScore   float64
	CostScore    float64
	QualityScore float64
}

// SelectOptions steers model selection. At most one Prioritize flag is
// expected; when none is set a balanced score decides.
type SelectOptions struct {
	PrioritizeSpeed   bool
	PrioritizeCost    bool
	PrioritizeQuality bool
	OverrideTag       string
}

// defaultCatalog is the read-only model catalog, shared across handlers.
var defaultCatalog = []CatalogEntry{
	{
		ID:           "openai/gpt-4o-mini",
		Tier:         "fast",
		BestFor:      []string{"support", "onboarding", "general"},
		SpeedScore:   0.9,
		CostScore:    0.1,
		QualityScore: 0.7,
	},
	{
		ID:           "anthropic/claude-3-5-haiku",
		Tier:         "fast",
		BestFor:      []string{"support", "general"},
		SpeedScore:   0.85,
		CostScore:    0.15,
		QualityScore: 0.75,
	},
	{
		ID:           "openai/gpt-4o",
		Tier:         "quality",
		BestFor:      []string{"sales", "custom"},
		SpeedScore:   0.6,
		CostScore:    0.6,
		QualityScore: 0.9,
	},
	{
		ID:           "anthropic/claude-3-5-sonnet",
		Tier:         "quality",
		BestFor:      []string{"sales", "custom", "onboarding"},
		SpeedScore:   0.55,
		CostScore:    0.7,
		QualityScore: 0.95,
	},
}

// SelectModel picks a model identifier for a conversation type. An explicit
// override tag wins verbatim. Otherwise the catalog is filtered to entries
// suited to the conversation type, falling back to the fast tier when nothing
// matches, and the best-scoring candidate on the requested axis wins.
func SelectModel(conversationType string, opts SelectOptions) string {
	return selectFromCatalog(defaultCatalog, conversationType, opts)
}

func selectFromCatalog(catalog []CatalogEntry, conversationType string, opts SelectOptions) string {
	if opts.OverrideTag != "" {
		return opts.OverrideTag
	}

	var candidates []CatalogEntry
	for _, e := range catalog {
		if slices.Contains(e.BestFor, conversationType) {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		for _, e := range catalog {
			if e.Tier == "fast" {
				candidates = append(candidates, e)
			}
		}
	}
	if len(candidates) == 0 {
		candidates = catalog
	}

	best := candidates[0]
	bestScore := score(best, opts)
	for _, e := range candidates[1:] {
		if s := score(e, opts); s > bestScore {
			best, bestScore = e, s
		}
	}
	return best.ID
}

func score(e CatalogEntry, opts SelectOptions) float64 {
	switch {
	case opts.PrioritizeSpeed:
		return e.SpeedScore
	case opts.PrioritizeCost:
		return 1 - e.CostScore
	case opts.PrioritizeQuality:
		return e.QualityScore
	}
	return (e.SpeedScore + (1 - e.CostScore) + e.QualityScore) / 3
}
