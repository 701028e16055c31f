package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/wachat/internal/crm"
	"github.com/kalambet/wachat/internal/knowledge"
	"github.com/kalambet/wachat/internal/storage"
)

// MCPRetriever abstracts knowledge search for the MCP layer.
type MCPRetriever interface {
	Retrieve(ctx context.Context, query string, topK int, minSimilarity float32) []knowledge.Snippet
}

// MCPDeps holds dependencies for the MCP server. CRM may be nil; the
// lookup_contact tool then reports that the CRM is not configured.
type MCPDeps struct {
	Store     *storage.Store
	Retriever MCPRetriever
	CRM       crm.Client
}

// NewMCPServer exposes the knowledge base and CRM lookups to MCP clients, so
// operators can inspect what the assistant sees.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"wachat",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("wachat — WhatsApp assistant knowledge base and CRM access."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_knowledge",
			mcp.WithDescription("Search the business knowledge base and return relevant snippets."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 3)")),
		),
		mcpSearchKnowledge(deps),
	)

	s.AddTool(
		mcp.NewTool("lookup_contact",
			mcp.WithDescription("Look up a CRM contact by phone number."),
			mcp.WithString("phone", mcp.Description("Phone number in E.164 format"), mcp.Required()),
		),
		mcpLookupContact(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"wachat://knowledge",
			"Knowledge Documents",
			mcp.WithResourceDescription("Titles and categories of all stored knowledge documents"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceKnowledge(deps),
	)

	return s
}

func mcpSearchKnowledge(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 3)
		if limit <= 0 {
			limit = 3
		}
		if limit > 20 {
			limit = 20
		}

		snippets := deps.Retriever.Retrieve(ctx, query, limit, 0)
		if len(snippets) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(snippets)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpLookupContact(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		phone, err := req.RequireString("phone")
		if err != nil {
			return mcpError("phone is required"), nil
		}
		if deps.CRM == nil {
			return mcpError("CRM is not configured"), nil
		}

		contact, err := deps.CRM.FindContactByPhone(ctx, NormalizePhone(phone))
		if errors.Is(err, crm.ErrContactNotFound) {
			return mcpText(`{"found":false}`), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("lookup failed: %v", err)), nil
		}

		b, err := json.Marshal(map[string]any{"found": true, "contact": contact})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal contact: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceKnowledge(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		docs, err := deps.Store.AllKnowledgeDocs()
		if err != nil {
			return nil, fmt.Errorf("failed to list documents: %w", err)
		}

		type docSummary struct {
			ID        string `json:"id"`
			Title     string `json:"title"`
			Category  string `json:"category"`
			Source    string `json:"source"`
			CreatedAt string `json:"created_at"`
		}
		summaries := make([]docSummary, len(docs))
		for i, d := range docs {
			summaries[i] = docSummary{
				ID:        d.ID,
				Title:     d.Title,
				Category:  d.Category,
				Source:    d.Source,
				CreatedAt: d.CreatedAt.Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal documents: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
