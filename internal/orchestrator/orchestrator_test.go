package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/kalambet/wachat/internal/agent"
	"github.com/kalambet/wachat/internal/analytics"
	"github.com/kalambet/wachat/internal/assembler"
	"github.com/kalambet/wachat/internal/generator"
	"github.com/kalambet/wachat/internal/knowledge"
	"github.com/kalambet/wachat/internal/llm"
	"github.com/kalambet/wachat/internal/memory"
	"github.com/kalambet/wachat/internal/policy"
	"github.com/kalambet/wachat/internal/profile"
	"github.com/kalambet/wachat/internal/storage"
)

type stubLLM struct {
	requests []llm.ChatRequest
	reply    string
	err      error
}

func (c *stubLLM) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	c.requests = append(c.requests, req)
	if c.err != nil {
		return nil, c.err
	}
	return &llm.ChatResponse{Choices: []llm.Choice{{
		Message: llm.Message{Role: "assistant", Content: c.reply},
	}}}, nil
}

type stubProfiles struct {
	profile profile.Profile
}

func (s *stubProfiles) Resolve(_ context.Context, phone string) profile.Profile {
	p := s.profile
	p.Phone = phone
	return p
}

type stubKnowledge struct{}

func (stubKnowledge) Retrieve(context.Context, string, int, float32) []knowledge.Snippet {
	return nil
}

type stubBehavior struct{}

func (stubBehavior) Profile(string, []memory.Turn) analytics.BehaviorProfile {
	return analytics.BehaviorProfile{}
}

type memRecorder struct {
	turns []storage.Turn
	err   error
}

func (r *memRecorder) RecordTurn(t storage.Turn) error {
	if r.err != nil {
		return r.err
	}
	r.turns = append(r.turns, t)
	return nil
}

type memSender struct {
	sent []string
	err  error
}

func (s *memSender) Send(_ context.Context, phone, text string) error {
	s.sent = append(s.sent, text)
	return s.err
}

type fixture struct {
	orch     *Orchestrator
	llm      *stubLLM
	recorder *memRecorder
	sender   *memSender
}

func newFixture(rules *policy.RuleSet, userProfile profile.Profile, llmStub *stubLLM) *fixture {
	window := memory.NewInMemoryStore(10)
	asm := assembler.New(
		&stubProfiles{profile: userProfile},
		window,
		stubKnowledge{},
		stubBehavior{},
		assembler.Options{},
		zerolog.Nop(),
	)
	gen := generator.New(llmStub, nil, llm.SelectOptions{}, zerolog.Nop())
	recorder := &memRecorder{}
	sender := &memSender{}

	orch := New(
		policy.NewEngine(rules),
		asm, gen, window, recorder, sender, nil,
		zerolog.Nop(),
	)
	return &fixture{orch: orch, llm: llmStub, recorder: recorder, sender: sender}
}

func TestHandleUnknownContactOnboarding(t *testing.T) {
	llmStub := &stubLLM{reply: "Hi, welcome! I'm the assistant for Acme. What's your name?"}
	f := newFixture(nil, profile.Profile{DisplayName: "Unknown Contact", Minimal: true}, llmStub)

	result := f.orch.Handle(context.Background(), Inbound{Phone: "+15551234567", Text: "hello"})
	if result.Outcome != OutcomeGenerated {
		t.Fatalf("outcome = %q", result.Outcome)
	}
	if !strings.Contains(result.Reply, "What's your name?") {
		t.Errorf("reply = %q", result.Reply)
	}

	// Onboarding register selected for the minimal profile.
	system := f.llm.requests[0].Messages[0].Content
	if !strings.Contains(system, "ask for their name") {
		t.Errorf("system prompt = %q, want onboarding instructions", system)
	}

	// Both turns persisted for the identity.
	if len(f.recorder.turns) != 2 {
		t.Fatalf("recorded %d turns, want 2", len(f.recorder.turns))
	}
	if f.recorder.turns[0].Speaker != "user" || f.recorder.turns[0].Content != "hello" {
		t.Errorf("inbound turn = %+v", f.recorder.turns[0])
	}
	if f.recorder.turns[1].Speaker != "assistant" || f.recorder.turns[1].Identity != "+15551234567" {
		t.Errorf("outbound turn = %+v", f.recorder.turns[1])
	}

	if len(f.sender.sent) != 1 || f.sender.sent[0] != result.Reply {
		t.Errorf("sent = %v", f.sender.sent)
	}
}

func TestHandleHandoffSkipsGeneration(t *testing.T) {
	rules := &policy.RuleSet{HandoffKeywords: []string{"human"}}
	llmStub := &stubLLM{reply: "should not be used"}
	f := newFixture(rules, profile.Profile{DisplayName: "Sam"}, llmStub)

	result := f.orch.Handle(context.Background(), Inbound{Phone: "+15551234567", Text: "I want a human about pricing"})
	if result.Outcome != OutcomeHandoff {
		t.Fatalf("outcome = %q", result.Outcome)
	}
	if len(f.llm.requests) != 0 {
		t.Error("LLM must not be called on handoff")
	}
	if len(f.recorder.turns) != 1 {
		t.Errorf("recorded %d turns, want just the inbound", len(f.recorder.turns))
	}
	if len(f.sender.sent) != 0 {
		t.Errorf("sent = %v, want nothing without a handoff notice", f.sender.sent)
	}
}

func TestHandleAutomatedReply(t *testing.T) {
	rules := &policy.RuleSet{AutomationRules: []policy.Rule{{
		ID:              "hours",
		Enabled:         true,
		TriggerKeywords: []string{"hours"},
		Response:        "We are open 9-5.",
	}}}
	llmStub := &stubLLM{}
	f := newFixture(rules, profile.Profile{DisplayName: "Sam"}, llmStub)

	result := f.orch.Handle(context.Background(), Inbound{Phone: "+15551234567", Text: "what are your hours?"})
	if result.Outcome != OutcomeAutomated || result.Reply != "We are open 9-5." {
		t.Fatalf("result = %+v", result)
	}
	if len(f.llm.requests) != 0 {
		t.Error("LLM must not be called for automated replies")
	}
	if len(f.recorder.turns) != 2 {
		t.Errorf("recorded %d turns, want 2", len(f.recorder.turns))
	}
	if f.sender.sent[0] != "We are open 9-5." {
		t.Errorf("sent = %v", f.sender.sent)
	}
}

func TestHandleApologyOnGenerationFailure(t *testing.T) {
	llmStub := &stubLLM{err: errors.New("provider down")}
	f := newFixture(nil, profile.Profile{DisplayName: "Sam"}, llmStub)

	result := f.orch.Handle(context.Background(), Inbound{Phone: "+15551234567", Text: "hello"})
	if result.Outcome != OutcomeApology {
		t.Fatalf("outcome = %q", result.Outcome)
	}
	if result.Reply != apologyText {
		t.Errorf("reply = %q", result.Reply)
	}
	// The apology still goes through persistence and delivery.
	if len(f.recorder.turns) != 2 || f.recorder.turns[1].Content != apologyText {
		t.Errorf("turns = %+v", f.recorder.turns)
	}
	if len(f.sender.sent) != 1 {
		t.Errorf("sent = %v", f.sender.sent)
	}
}

func TestHandleDiscardsInvalidMessages(t *testing.T) {
	f := newFixture(nil, profile.Profile{}, &stubLLM{})

	if r := f.orch.Handle(context.Background(), Inbound{Phone: "", Text: "hi"}); r.Outcome != OutcomeDiscarded {
		t.Errorf("outcome = %q, want discarded for missing phone", r.Outcome)
	}
	if r := f.orch.Handle(context.Background(), Inbound{Phone: "+15551234567", Text: ""}); r.Outcome != OutcomeDiscarded {
		t.Errorf("outcome = %q, want discarded for missing text", r.Outcome)
	}
	if len(f.recorder.turns) != 0 {
		t.Errorf("turns = %+v, want none", f.recorder.turns)
	}
}

func TestHandleSurvivesStorageOutage(t *testing.T) {
	llmStub := &stubLLM{reply: "still works"}
	f := newFixture(nil, profile.Profile{DisplayName: "Sam"}, llmStub)
	f.recorder.err = errors.New("disk full")

	result := f.orch.Handle(context.Background(), Inbound{Phone: "+15551234567", Text: "hello"})
	if result.Outcome != OutcomeGenerated {
		t.Fatalf("outcome = %q, storage failure must not block delivery", result.Outcome)
	}
	if len(f.sender.sent) != 1 {
		t.Errorf("sent = %v", f.sender.sent)
	}
}

func TestIdentityLockIsPerIdentity(t *testing.T) {
	f := newFixture(nil, profile.Profile{}, &stubLLM{})

	a1 := f.orch.identityLock("+15551234567")
	a2 := f.orch.identityLock("+15551234567")
	b := f.orch.identityLock("+15550000000")
	if a1 != a2 {
		t.Error("same identity must share a lock")
	}
	if a1 == b {
		t.Error("different identities must not share a lock")
	}
}

type scriptedLLM struct {
	responses []llm.ChatResponse
}

func (c *scriptedLLM) Chat(context.Context, llm.ChatRequest) (*llm.ChatResponse, error) {
	resp := c.responses[0]
	c.responses = c.responses[1:]
	return &resp, nil
}

// crmWriteTool stands in for the CRM tool: invoking it counts as a write.
type crmWriteTool struct {
	wrote bool
}

func (t *crmWriteTool) Spec() llm.Tool {
	return llm.Tool{Type: "function", Function: llm.ToolSpec{Name: "crm"}}
}

func (t *crmWriteTool) Invoke(context.Context, json.RawMessage) string {
	t.wrote = true
	return `{"ok":true}`
}

func (t *crmWriteTool) Mutated() bool { return t.wrote }

type recordingInvalidator struct {
	identities []string
}

func (r *recordingInvalidator) Invalidate(identity string) {
	r.identities = append(r.identities, identity)
}

func TestHandleInvalidatesCachesAfterCRMWrite(t *testing.T) {
	scripted := &scriptedLLM{responses: []llm.ChatResponse{
		{Choices: []llm.Choice{{
			FinishReason: "tool_calls",
			Message: llm.Message{
				Role: "assistant",
				ToolCalls: []llm.ToolCall{{
					ID:       "call_1",
					Type:     "function",
					Function: llm.FunctionCall{Name: "crm", Arguments: "{}"},
				}},
			},
		}}},
		{Choices: []llm.Choice{{
			Message: llm.Message{Role: "assistant", Content: "Done, I've updated your contact."},
		}}},
	}}

	window := memory.NewInMemoryStore(10)
	asm := assembler.New(
		&stubProfiles{profile: profile.Profile{DisplayName: "Sam"}},
		window, stubKnowledge{}, stubBehavior{},
		assembler.Options{}, zerolog.Nop(),
	)
	tools := func() []agent.Tool { return []agent.Tool{&crmWriteTool{}} }
	gen := generator.New(scripted, tools, llm.SelectOptions{}, zerolog.Nop())

	orch := New(policy.NewEngine(nil), asm, gen, window, &memRecorder{}, &memSender{}, nil, zerolog.Nop())
	profileCache := &recordingInvalidator{}
	behaviorCache := &recordingInvalidator{}
	orch.InvalidateOnWrite(profileCache, behaviorCache)

	result := orch.Handle(context.Background(), Inbound{Phone: "+15551234567", Text: "tag me as vip"})
	if result.Outcome != OutcomeGenerated {
		t.Fatalf("outcome = %q", result.Outcome)
	}

	for _, cache := range []*recordingInvalidator{profileCache, behaviorCache} {
		if len(cache.identities) != 1 || cache.identities[0] != "+15551234567" {
			t.Errorf("invalidated = %v, want the writer's identity", cache.identities)
		}
	}
}

func TestHandleKeepsCachesWithoutCRMWrite(t *testing.T) {
	llmStub := &stubLLM{reply: "just an answer"}
	f := newFixture(nil, profile.Profile{DisplayName: "Sam"}, llmStub)
	cache := &recordingInvalidator{}
	f.orch.InvalidateOnWrite(cache)

	f.orch.Handle(context.Background(), Inbound{Phone: "+15551234567", Text: "hello"})
	if len(cache.identities) != 0 {
		t.Errorf("invalidated = %v, want nothing without a write", cache.identities)
	}
}

func TestHandlePromptHistoryExcludesCurrentMessage(t *testing.T) {
	llmStub := &stubLLM{reply: "ok"}
	f := newFixture(nil, profile.Profile{DisplayName: "Sam"}, llmStub)

	f.orch.Handle(context.Background(), Inbound{Phone: "+15551234567", Text: "first"})
	f.orch.Handle(context.Background(), Inbound{Phone: "+15551234567", Text: "second"})

	// Second request: history holds the first exchange, and "second" appears
	// only as the final user message.
	req := f.llm.requests[1]
	count := 0
	for _, m := range req.Messages {
		if m.Content == "second" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("current message appears %d times in prompt, want 1", count)
	}
	if len(req.Messages) != 1+2+1 {
		t.Errorf("messages = %d, want system + 2 history + current", len(req.Messages))
	}
}
