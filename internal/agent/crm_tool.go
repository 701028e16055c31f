package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kalambet/wachat/internal/crm"
	"github.com/kalambet/wachat/internal/llm"
)

// CRMTool exposes the CRM to the model as a single action-dispatch tool.
// A fresh CRMTool is constructed per inbound message: its write guards are
// per-turn state, enforcing lookup-before-create and at most one contact
// creation per turn.
type CRMTool struct {
	client crm.Client

	lookedUp map[string]bool // phones checked for existence this turn
	created  bool            // a contact was already created this turn
	wrote    bool            // any CRM write succeeded this turn
}

// NewCRMTool creates a CRMTool with fresh per-turn guard state.
func NewCRMTool(client crm.Client) *CRMTool {
	return &CRMTool{client: client, lookedUp: make(map[string]bool)}
}

type crmArgs struct {
	Action         string   `json:"action"`
	Phone          string   `json:"phone,omitempty"`
	Email          string   `json:"email,omitempty"`
	FirstName      string   `json:"firstName,omitempty"`
	ContactID      string   `json:"contactId,omitempty"`
	ConversationID string   `json:"conversationId,omitempty"`
	Tags           []string `json:"tags,omitempty"`
}

func (t *CRMTool) Spec() llm.Tool {
	return llm.Tool{
		Type: "function",
		Function: llm.ToolSpec{
			Name: "crm",
			Description: "Access the CRM. Actions: get-contact (phone or email), create (phone, firstName, tags), " +
				"add-tags (contactId, tags), get-all-tasks (contactId), search-opportunity (contactId), " +
				"get-pipelines, get-messages (conversationId). Always get-contact before create.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"action": map[string]any{
						"type": "string",
						"enum": []string{
							"get-contact", "create", "add-tags", "get-all-tasks",
							"search-opportunity", "get-pipelines", "get-messages",
						},
					},
					"phone":          map[string]any{"type": "string"},
					"email":          map[string]any{"type": "string"},
					"firstName":      map[string]any{"type": "string"},
					"contactId":      map[string]any{"type": "string"},
					"conversationId": map[string]any{"type": "string"},
					"tags":           map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
				"required": []string{"action"},
			},
		},
	}
}

func (t *CRMTool) Invoke(ctx context.Context, raw json.RawMessage) string {
	var args crmArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return errorResult(fmt.Errorf("invalid arguments: %w", err))
	}

	switch args.Action {
	case "get-contact":
		return t.getContact(ctx, args)
	case "create":
		return t.createContact(ctx, args)
	case "add-tags":
		if err := t.client.AddTags(ctx, args.ContactID, args.Tags); err != nil {
			return errorResult(err)
		}
		t.wrote = true
		return jsonResult(map[string]bool{"ok": true})
	case "get-all-tasks":
		tasks, err := t.client.Tasks(ctx, args.ContactID)
		if err != nil {
			return errorResult(err)
		}
		return jsonResult(tasks)
	case "search-opportunity":
		opps, err := t.client.SearchOpportunities(ctx, args.ContactID)
		if err != nil {
			return errorResult(err)
		}
		return jsonResult(opps)
	case "get-pipelines":
		pipelines, err := t.client.Pipelines(ctx)
		if err != nil {
			return errorResult(err)
		}
		return jsonResult(pipelines)
	case "get-messages":
		msgs, err := t.client.Messages(ctx, args.ConversationID)
		if err != nil {
			return errorResult(err)
		}
		return jsonResult(msgs)
	default:
		return errorResult(fmt.Errorf("unknown action %q", args.Action))
	}
}

func (t *CRMTool) getContact(ctx context.Context, args crmArgs) string {
	query := args.Phone
	if query == "" {
		query = args.Email
	}
	if query == "" {
		return errorResult(errors.New("get-contact requires phone or email"))
	}
	if args.Phone != "" {
		t.lookedUp[args.Phone] = true
	}

	// The CRM's contact search matches either field.
	contact, err := t.client.FindContactByPhone(ctx, query)
	if errors.Is(err, crm.ErrContactNotFound) {
		return jsonResult(map[string]any{"found": false})
	}
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(map[string]any{"found": true, "contact": contact})
}

func (t *CRMTool) createContact(ctx context.Context, args crmArgs) string {
	if args.Phone == "" {
		return errorResult(errors.New("create requires phone"))
	}
	if t.created {
		return errorResult(errors.New("a contact was already created this turn"))
	}
	if !t.lookedUp[args.Phone] {
		return errorResult(errors.New("call get-contact for this phone before create"))
	}

	contact, err := t.client.CreateContact(ctx, args.Phone, args.FirstName, args.Tags)
	if err != nil {
		return errorResult(err)
	}
	t.created = true
	t.wrote = true
	return jsonResult(map[string]any{"contact": contact})
}

// Mutated reports whether any CRM write succeeded this turn. Profile and
// behavior caches keyed on the contact are stale once it returns true.
func (t *CRMTool) Mutated() bool { return t.wrote }
