// Package generator turns an assembled prompt context into a reply, either by
// direct completion or through the tool-calling agent loop. Generation never
// returns an error to the pipeline: a failed or empty completion yields no
// reply, and the orchestrator falls back to an apology message.
package generator

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/kalambet/wachat/internal/agent"
	"github.com/kalambet/wachat/internal/assembler"
	"github.com/kalambet/wachat/internal/llm"
)

const defaultMaxTokens = 512

// Lower temperature keeps personalized replies anchored to the provided
// context; open-ended types get more room.
const (
	customTemperature  = 0.4
	defaultTemperature = 0.7
)

// ToolFactory builds a fresh tool set per generation. CRM tool guard state is
// per-turn, so tools must not be shared across messages.
type ToolFactory func() []agent.Tool

// Generator produces replies from prompt contexts.
type Generator struct {
	client    agent.ChatClient
	tools     ToolFactory
	selection llm.SelectOptions
	maxTokens int
	logger    zerolog.Logger
}

// New creates a Generator. A nil tool factory disables agent mode and every
// generation is a direct completion.
func New(client agent.ChatClient, tools ToolFactory, selection llm.SelectOptions, logger zerolog.Logger) *Generator {
	return &Generator{
		client:    client,
		tools:     tools,
		selection: selection,
		maxTokens: defaultMaxTokens,
		logger:    logger,
	}
}

// Generate produces a reply for the assembled context. ok reports whether a
// reply was produced; transport failures and empty completions return
// ok=false rather than an error. mutated reports whether a tool wrote to an
// external system during generation, so callers can invalidate caches
// derived from it.
func (g *Generator) Generate(ctx context.Context, pc assembler.PromptContext, conversationType string) (reply string, ok, mutated bool) {
	model := llm.SelectModel(conversationType, g.selection)

	temperature := defaultTemperature
	if conversationType == TypeCustom || conversationType == TypeOnboarding {
		temperature = customTemperature
	}

	req := llm.ChatRequest{
		Model:       model,
		Messages:    buildMessages(pc, conversationType),
		MaxTokens:   g.maxTokens,
		Temperature: &temperature,
	}

	var tools []agent.Tool
	if g.tools != nil {
		tools = g.tools()
	}

	msg, err := g.complete(ctx, req, tools)
	mutated = anyMutated(tools)
	if err != nil {
		g.logger.Warn().Err(err).Str("model", model).Str("identity", pc.Identity).Msg("reply generation failed")
		return "", false, mutated
	}
	if msg == nil || msg.Content == "" {
		return "", false, mutated
	}
	return msg.Content, true, mutated
}

func (g *Generator) complete(ctx context.Context, req llm.ChatRequest, tools []agent.Tool) (*llm.Message, error) {
	if len(tools) > 0 {
		runner := agent.NewRunner(g.client, tools, g.logger)
		return runner.Run(ctx, req)
	}
	resp, err := g.client.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.FirstMessage(), nil
}

// anyMutated checks the tool set after a run. Writes that happened before a
// later failure still count: the external state changed either way.
func anyMutated(tools []agent.Tool) bool {
	for _, t := range tools {
		if m, isMutator := t.(agent.Mutator); isMutator && m.Mutated() {
			return true
		}
	}
	return false
}

// historyWindow bounds how many transcript turns enter the prompt.
const historyWindow = 10

func buildMessages(pc assembler.PromptContext, conversationType string) []llm.Message {
	messages := []llm.Message{{Role: "system", Content: systemPrompt(conversationType, pc)}}

	history := pc.History
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	for _, t := range history {
		role := "user"
		if t.Speaker == "assistant" {
			role = "assistant"
		}
		messages = append(messages, llm.Message{Role: role, Content: t.Text})
	}

	return append(messages, llm.Message{Role: "user", Content: pc.Message})
}
