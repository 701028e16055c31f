package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/kalambet/wachat/internal/knowledge"
	"github.com/kalambet/wachat/internal/llm"
)

// KnowledgeSearcher is the slice of the retriever the tool needs.
type KnowledgeSearcher interface {
	Retrieve(ctx context.Context, query string, topK int, minSimilarity float32) []knowledge.Snippet
}

// KnowledgeTool lets the model search the knowledge base mid-generation.
// Results come back as one concatenated text blob.
type KnowledgeTool struct {
	retriever     KnowledgeSearcher
	topK          int
	minSimilarity float32
}

// NewKnowledgeTool creates a KnowledgeTool over the retriever.
func NewKnowledgeTool(retriever KnowledgeSearcher, topK int, minSimilarity float32) *KnowledgeTool {
	return &KnowledgeTool{retriever: retriever, topK: topK, minSimilarity: minSimilarity}
}

func (t *KnowledgeTool) Spec() llm.Tool {
	return llm.Tool{
		Type: "function",
		Function: llm.ToolSpec{
			Name:        "search_knowledge",
			Description: "Search the business knowledge base for passages relevant to a query.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string"},
				},
				"required": []string{"query"},
			},
		},
	}
}

func (t *KnowledgeTool) Invoke(ctx context.Context, raw json.RawMessage) string {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return errorResult(err)
	}
	if args.Query == "" {
		return errorResult(errors.New("search_knowledge requires query"))
	}

	snippets := t.retriever.Retrieve(ctx, args.Query, t.topK, t.minSimilarity)
	if len(snippets) == 0 {
		return "No relevant knowledge found."
	}

	var b strings.Builder
	for i, s := range snippets {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(s.Title)
		b.WriteString(": ")
		b.WriteString(s.Content)
	}
	return b.String()
}
