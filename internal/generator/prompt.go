package generator

import (
	"fmt"
	"strings"

	"github.com/kalambet/wachat/internal/analytics"
	"github.com/kalambet/wachat/internal/assembler"
)

// Conversation types steer the system template and model selection.
const (
	TypeGeneral    = "general"
	TypeSupport    = "support"
	TypeSales      = "sales"
	TypeOnboarding = "onboarding"
	TypeCustom     = "custom"
)

var systemTemplates = map[string]string{
	TypeGeneral: "You are a helpful WhatsApp assistant for a business. " +
		"Answer briefly and conversationally, as one WhatsApp message.",
	TypeSupport: "You are a support assistant for a business, replying on WhatsApp. " +
		"Resolve the customer's issue using the knowledge provided. If you cannot resolve it, say so honestly.",
	TypeSales: "You are a sales assistant for a business, replying on WhatsApp. " +
		"Be helpful first, persuasive second. Never invent prices or terms not present in the knowledge provided.",
	TypeOnboarding: "You are a WhatsApp assistant meeting a new customer for the first time. " +
		"Greet them warmly, introduce the business, and ask for their name so you can register them. " +
		"Once they share a name, use the CRM tool: look the contact up first, then create it.",
	TypeCustom: "You are a WhatsApp assistant replying on behalf of a business. " +
		"Follow the customer's established tone and keep continuity with the transcript.",
}

// systemPrompt renders the per-type template plus whatever context sections
// were assembled. Missing sections are simply not rendered.
func systemPrompt(conversationType string, pc assembler.PromptContext) string {
	tmpl, ok := systemTemplates[conversationType]
	if !ok {
		tmpl = systemTemplates[TypeGeneral]
	}

	var b strings.Builder
	b.WriteString(tmpl)

	if !pc.Profile.Minimal && pc.Profile.DisplayName != "" {
		fmt.Fprintf(&b, "\n\nYou are talking to %s.", pc.Profile.DisplayName)
		if len(pc.Profile.Tags) > 0 {
			fmt.Fprintf(&b, " Customer tags: %s.", strings.Join(pc.Profile.Tags, ", "))
		}
	}

	if pc.Snippet != nil {
		fmt.Fprintf(&b, "\n\nRelevant knowledge — %s:\n%s", pc.Snippet.Title, pc.Snippet.Content)
	}

	if hints := toneHints(pc.Behavior); len(hints) > 0 {
		b.WriteString("\n\nTone guidance: ")
		b.WriteString(strings.Join(hints, " "))
	}

	return b.String()
}

// toneHints translates behavior signals into prompt-level guidance.
func toneHints(b analytics.BehaviorProfile) []string {
	var hints []string
	switch b.Communication.Style {
	case analytics.StyleBrief:
		hints = append(hints, "The customer writes very short messages; keep replies to one or two sentences.")
	case analytics.StyleVerbose:
		hints = append(hints, "The customer writes long messages; a fuller reply is fine.")
	}
	if b.Predictive.ChurnRisk > 0.6 {
		hints = append(hints, "This customer is at risk of leaving; be especially attentive and offer concrete next steps.")
	}
	if b.Predictive.SupportRisk > 0.5 {
		hints = append(hints, "The customer sounds frustrated; acknowledge the frustration before answering.")
	}
	return hints
}
