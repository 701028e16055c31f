package assembler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/kalambet/wachat/internal/analytics"
	"github.com/kalambet/wachat/internal/knowledge"
	"github.com/kalambet/wachat/internal/memory"
	"github.com/kalambet/wachat/internal/profile"
)

type mockProfiles struct {
	resolve func(ctx context.Context, phone string) profile.Profile
}

func (m *mockProfiles) Resolve(ctx context.Context, phone string) profile.Profile {
	return m.resolve(ctx, phone)
}

type mockHistory struct {
	recent func(ctx context.Context, identity string, window int) ([]memory.Turn, error)
}

func (m *mockHistory) Recent(ctx context.Context, identity string, window int) ([]memory.Turn, error) {
	return m.recent(ctx, identity, window)
}

type mockKnowledge struct {
	retrieve func(ctx context.Context, query string, topK int, minSimilarity float32) []knowledge.Snippet
}

func (m *mockKnowledge) Retrieve(ctx context.Context, query string, topK int, minSimilarity float32) []knowledge.Snippet {
	return m.retrieve(ctx, query, topK, minSimilarity)
}

type mockBehavior struct {
	profile func(identity string, turns []memory.Turn) analytics.BehaviorProfile
}

func (m *mockBehavior) Profile(identity string, turns []memory.Turn) analytics.BehaviorProfile {
	return m.profile(identity, turns)
}

func TestAssembleAllSections(t *testing.T) {
	turns := []memory.Turn{
		{Speaker: "user", Text: "hi", Timestamp: time.Now()},
		{Speaker: "assistant", Text: "hello!", Timestamp: time.Now()},
	}

	a := New(
		&mockProfiles{resolve: func(_ context.Context, phone string) profile.Profile {
			return profile.Profile{Phone: phone, DisplayName: "Jordan Smith", Tags: []string{"vip"}}
		}},
		&mockHistory{recent: func(_ context.Context, identity string, window int) ([]memory.Turn, error) {
			if window != 10 {
				t.Errorf("window = %d, want 10", window)
			}
			return turns, nil
		}},
		&mockKnowledge{retrieve: func(_ context.Context, query string, _ int, _ float32) []knowledge.Snippet {
			return []knowledge.Snippet{
				{ID: "1", Title: "Refunds", Content: "We refund within 30 days.", Similarity: 0.92},
				{ID: "2", Title: "Shipping", Content: "5-7 days.", Similarity: 0.81},
			}
		}},
		&mockBehavior{profile: func(identity string, got []memory.Turn) analytics.BehaviorProfile {
			if len(got) != 2 {
				t.Errorf("behavior analysis got %d turns, want 2", len(got))
			}
			return analytics.BehaviorProfile{
				Communication: analytics.CommunicationPatterns{Style: analytics.StyleBrief},
			}
		}},
		Options{},
		zerolog.Nop(),
	)

	pc := a.Assemble(context.Background(), "+15551234567", "refund policy?")
	if pc.Profile.DisplayName != "Jordan Smith" {
		t.Errorf("profile = %+v", pc.Profile)
	}
	if len(pc.History) != 2 {
		t.Errorf("history = %d turns, want 2", len(pc.History))
	}
	if pc.Snippet == nil || pc.Snippet.Title != "Refunds" {
		t.Errorf("snippet = %+v, want top-1 Refunds", pc.Snippet)
	}
	if pc.Behavior.Communication.Style != analytics.StyleBrief {
		t.Errorf("behavior = %+v", pc.Behavior)
	}
}

func TestAssembleDegradesOnHistoryFailure(t *testing.T) {
	behaviorCalled := false
	a := New(
		&mockProfiles{resolve: func(_ context.Context, phone string) profile.Profile {
			return profile.Profile{Phone: phone, Minimal: true}
		}},
		&mockHistory{recent: func(_ context.Context, _ string, _ int) ([]memory.Turn, error) {
			return nil, errors.New("storage unreachable")
		}},
		&mockKnowledge{retrieve: func(_ context.Context, _ string, _ int, _ float32) []knowledge.Snippet {
			return nil
		}},
		&mockBehavior{profile: func(_ string, _ []memory.Turn) analytics.BehaviorProfile {
			behaviorCalled = true
			return analytics.BehaviorProfile{}
		}},
		Options{},
		zerolog.Nop(),
	)

	pc := a.Assemble(context.Background(), "+15551234567", "hello")
	if pc.History != nil {
		t.Errorf("history = %v, want nil after storage failure", pc.History)
	}
	if pc.Snippet != nil {
		t.Errorf("snippet = %+v, want nil", pc.Snippet)
	}
	if behaviorCalled {
		t.Error("behavior analysis ran without a transcript fetch")
	}
	if !pc.Profile.Minimal {
		t.Error("profile section missing")
	}
}

func TestAssembleNilSources(t *testing.T) {
	a := New(nil, nil, nil, nil, Options{}, zerolog.Nop())
	pc := a.Assemble(context.Background(), "+15551234567", "hello")
	if pc.Identity != "+15551234567" || pc.Message != "hello" {
		t.Errorf("pc = %+v", pc)
	}
}
