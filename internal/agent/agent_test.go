package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/kalambet/wachat/internal/knowledge"
	"github.com/kalambet/wachat/internal/llm"
)

type scriptedClient struct {
	responses []llm.ChatResponse
	requests  []llm.ChatRequest
}

func (c *scriptedClient) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	c.requests = append(c.requests, req)
	if len(c.responses) == 0 {
		return &llm.ChatResponse{}, nil
	}
	resp := c.responses[0]
	c.responses = c.responses[1:]
	return &resp, nil
}

type echoTool struct {
	invocations []string
}

func (t *echoTool) Spec() llm.Tool {
	return llm.Tool{Type: "function", Function: llm.ToolSpec{Name: "echo"}}
}

func (t *echoTool) Invoke(_ context.Context, args json.RawMessage) string {
	t.invocations = append(t.invocations, string(args))
	return `{"echoed":true}`
}

func textResponse(content string) llm.ChatResponse {
	return llm.ChatResponse{Choices: []llm.Choice{{
		Message:      llm.Message{Role: "assistant", Content: content},
		FinishReason: "stop",
	}}}
}

func toolResponse(name, args string) llm.ChatResponse {
	return llm.ChatResponse{Choices: []llm.Choice{{
		Message: llm.Message{
			Role: "assistant",
			ToolCalls: []llm.ToolCall{{
				ID:       "call_1",
				Type:     "function",
				Function: llm.FunctionCall{Name: name, Arguments: args},
			}},
		},
		FinishReason: "tool_calls",
	}}}
}

func TestRunnerDirectReply(t *testing.T) {
	client := &scriptedClient{responses: []llm.ChatResponse{textResponse("hi there")}}
	runner := NewRunner(client, nil, zerolog.Nop())

	msg, err := runner.Run(context.Background(), llm.ChatRequest{
		Model:    "m",
		Messages: []llm.Message{{Role: "user", Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if msg.Content != "hi there" {
		t.Errorf("content = %q", msg.Content)
	}
}

func TestRunnerDispatchesToolCalls(t *testing.T) {
	client := &scriptedClient{responses: []llm.ChatResponse{
		toolResponse("echo", `{"q":"refunds"}`),
		textResponse("answered with tool help"),
	}}
	tool := &echoTool{}
	runner := NewRunner(client, []Tool{tool}, zerolog.Nop())

	msg, err := runner.Run(context.Background(), llm.ChatRequest{
		Model:    "m",
		Messages: []llm.Message{{Role: "user", Content: "q"}},
	})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if msg.Content != "answered with tool help" {
		t.Errorf("content = %q", msg.Content)
	}
	if len(tool.invocations) != 1 || tool.invocations[0] != `{"q":"refunds"}` {
		t.Errorf("invocations = %v", tool.invocations)
	}

	// The second request must carry the assistant tool-call message and the
	// tool result keyed by call id.
	second := client.requests[1]
	last := second.Messages[len(second.Messages)-1]
	if last.Role != "tool" || last.ToolCallID != "call_1" || last.Content != `{"echoed":true}` {
		t.Errorf("tool message = %+v", last)
	}
}

func TestRunnerUnknownTool(t *testing.T) {
	client := &scriptedClient{responses: []llm.ChatResponse{
		toolResponse("nope", `{}`),
		textResponse("recovered"),
	}}
	runner := NewRunner(client, nil, zerolog.Nop())

	msg, err := runner.Run(context.Background(), llm.ChatRequest{Model: "m"})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if msg.Content != "recovered" {
		t.Errorf("content = %q", msg.Content)
	}
	second := client.requests[1]
	last := second.Messages[len(second.Messages)-1]
	if !strings.Contains(last.Content, "unknown tool") {
		t.Errorf("tool result = %q, want unknown-tool error string", last.Content)
	}
}

func TestRunnerBoundsIterations(t *testing.T) {
	var responses []llm.ChatResponse
	for range maxIterations + 2 {
		responses = append(responses, toolResponse("echo", `{}`))
	}
	client := &scriptedClient{responses: responses}
	runner := NewRunner(client, []Tool{&echoTool{}}, zerolog.Nop())

	if _, err := runner.Run(context.Background(), llm.ChatRequest{Model: "m"}); err == nil {
		t.Fatal("expected iteration-bound error")
	}
	if len(client.requests) != maxIterations {
		t.Errorf("requests = %d, want %d", len(client.requests), maxIterations)
	}
}

type stubSearcher struct {
	snippets []knowledge.Snippet
}

func (s *stubSearcher) Retrieve(_ context.Context, _ string, _ int, _ float32) []knowledge.Snippet {
	return s.snippets
}

func TestKnowledgeToolConcatenates(t *testing.T) {
	tool := NewKnowledgeTool(&stubSearcher{snippets: []knowledge.Snippet{
		{Title: "Refunds", Content: "We refund within 30 days."},
		{Title: "Shipping", Content: "5-7 business days."},
	}}, 3, 0.7)

	got := tool.Invoke(context.Background(), json.RawMessage(`{"query":"refund"}`))
	want := "Refunds: We refund within 30 days.\n\nShipping: 5-7 business days."
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestKnowledgeToolEmptyResult(t *testing.T) {
	tool := NewKnowledgeTool(&stubSearcher{}, 3, 0.7)
	got := tool.Invoke(context.Background(), json.RawMessage(`{"query":"anything"}`))
	if got != "No relevant knowledge found." {
		t.Errorf("got %q", got)
	}
}
