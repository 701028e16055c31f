// Package agent runs the tool-calling loop for reply generation: the model
// may invoke CRM and knowledge tools mid-generation, and the loop feeds
// results back until the model produces a final text reply.
package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/kalambet/wachat/internal/llm"
)

// maxIterations bounds the tool loop so a model that keeps requesting tools
// cannot spin forever.
const maxIterations = 6

// Tool is one callable exposed to the model. Invoke returns a
// JSON-serializable result string; failures cross the tool boundary as error
// strings inside the result, never as Go errors.
type Tool interface {
	Spec() llm.Tool
	Invoke(ctx context.Context, args json.RawMessage) string
}

// Mutator is implemented by tools whose invocations may write to an external
// system. Callers check it after a generation to decide whether cached state
// derived from that system is now stale.
type Mutator interface {
	Mutated() bool
}

// ChatClient is the slice of the LLM client the runner needs.
type ChatClient interface {
	Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error)
}

// Runner executes the agent loop for one generation.
type Runner struct {
	client ChatClient
	tools  map[string]Tool
	specs  []llm.Tool
	logger zerolog.Logger
}

// NewRunner creates a Runner over the given tools.
func NewRunner(client ChatClient, tools []Tool, logger zerolog.Logger) *Runner {
	byName := make(map[string]Tool, len(tools))
	specs := make([]llm.Tool, 0, len(tools))
	for _, t := range tools {
		spec := t.Spec()
		byName[spec.Function.Name] = t
		specs = append(specs, spec)
	}
	return &Runner{client: client, tools: byName, specs: specs, logger: logger}
}

// Run drives the conversation until the model stops calling tools or the
// iteration bound is hit, and returns the final assistant message.
func (r *Runner) Run(ctx context.Context, req llm.ChatRequest) (*llm.Message, error) {
	req.Tools = r.specs
	messages := req.Messages

	for range maxIterations {
		req.Messages = messages
		resp, err := r.client.Chat(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("chat completion: %w", err)
		}
		msg := resp.FirstMessage()
		if msg == nil {
			return nil, fmt.Errorf("completion returned no choices")
		}
		if len(msg.ToolCalls) == 0 {
			return msg, nil
		}

		messages = append(messages, *msg)
		for _, call := range msg.ToolCalls {
			result := r.dispatch(ctx, call)
			messages = append(messages, llm.Message{
				Role:       "tool",
				ToolCallID: call.ID,
				Name:       call.Function.Name,
				Content:    result,
			})
		}
	}

	return nil, fmt.Errorf("tool loop exceeded %d iterations", maxIterations)
}

func (r *Runner) dispatch(ctx context.Context, call llm.ToolCall) string {
	tool, ok := r.tools[call.Function.Name]
	if !ok {
		return fmt.Sprintf(`{"error":"unknown tool %q"}`, call.Function.Name)
	}
	r.logger.Debug().Str("tool", call.Function.Name).Msg("invoking tool")
	return tool.Invoke(ctx, json.RawMessage(call.Function.Arguments))
}

// errorResult encodes an error string as a tool result.
func errorResult(err error) string {
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(b)
}

// jsonResult encodes any value as a tool result, degrading to an error
// string when the value cannot be marshaled.
func jsonResult(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return errorResult(err)
	}
	return string(b)
}
