package llm

import "testing"

func TestSelectModelOverrideWinsVerbatim(t *testing.T) {
	got := SelectModel("sales", SelectOptions{
		OverrideTag:       "tenant/custom-model",
		PrioritizeQuality: true,
	})
	if got != "tenant/custom-model" {
		t.Errorf("got %q, want the override tag verbatim", got)
	}
}

func TestSelectModelFiltersByConversationType(t *testing.T) {
	got := SelectModel("sales", SelectOptions{PrioritizeQuality: true})
	if got != "anthropic/claude-3-5-sonnet" {
		t.Errorf("got %q, want the highest-quality sales model", got)
	}
}

func TestSelectModelFallsBackToFastTier(t *testing.T) {
	got := SelectModel("no-such-type", SelectOptions{})
	for _, e := range defaultCatalog {
		if e.ID == got {
			if e.Tier != "fast" {
				t.Errorf("got %q from tier %q, want fast-tier fallback", got, e.Tier)
			}
			return
		}
	}
	t.Errorf("got %q, not in catalog", got)
}

func TestSelectModelPriorityAxes(t *testing.T) {
	catalog := []CatalogEntry{
		{ID: "speedy", Tier: "fast", BestFor: []string{"x"}, SpeedScore: 0.9, CostScore: 0.5, QualityScore: 0.5},
		{ID: "cheap", Tier: "fast", BestFor: []string{"x"}, SpeedScore: 0.5, CostScore: 0.1, QualityScore: 0.5},
		{ID: "smart", Tier: "fast", BestFor: []string{"x"}, SpeedScore: 0.5, CostScore: 0.9, QualityScore: 0.9},
	}

	tests := []struct {
		name string
		opts SelectOptions
		want string
	}{
		{"speed", SelectOptions{PrioritizeSpeed: true}, "speedy"},
		{"cost", SelectOptions{PrioritizeCost: true}, "cheap"},
		{"quality", SelectOptions{PrioritizeQuality: true}, "smart"},
		{"balanced", SelectOptions{}, "speedy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := selectFromCatalog(catalog, "x", tt.opts); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
