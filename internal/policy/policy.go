// Package policy decides what happens to an inbound message before any model
// is consulted. Evaluation is deterministic and ordered: explicit handoff
// keywords beat configured handoff rules, which beat automation rules, which
// beat LLM generation. First match wins.
package policy

import "strings"

// DecisionKind enumerates policy outcomes.
type DecisionKind string

const (
	// DecisionHandoff hands the conversation to a human agent; no AI reply
	// is generated.
	DecisionHandoff DecisionKind = "handoff"
	// DecisionAutomatedReply answers with a canned response from a rule.
	DecisionAutomatedReply DecisionKind = "automated_reply"
	// DecisionNoMatch lets the message continue to AI generation.
	DecisionNoMatch DecisionKind = "no_match"
)

// ExplicitHandoffReason marks handoffs triggered by a global keyword rather
// than a configured rule.
const ExplicitHandoffReason = "explicit request"

// Decision is the outcome of evaluating a message against the rule set.
type Decision struct {
	Kind    DecisionKind
	RuleID  string
	Reason  string
	Message string // canned reply or handoff notice to send, may be empty
}

// Engine evaluates inbound messages against an immutable rule set. Rule
// mutation happens only through configuration reload: build a new Engine and
// swap it in.
type Engine struct {
	rules *RuleSet
}

// NewEngine creates an Engine over the given rule set. A nil rule set means
// every message falls through to generation.
func NewEngine(rules *RuleSet) *Engine {
	if rules == nil {
		rules = &RuleSet{}
	}
	return &Engine{rules: rules}
}

// Evaluate runs the ordered policy for one inbound message.
func (e *Engine) Evaluate(message string) Decision {
	lower := strings.ToLower(message)

	for _, kw := range e.rules.HandoffKeywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return Decision{Kind: DecisionHandoff, Reason: ExplicitHandoffReason}
		}
	}

	for _, r := range e.rules.HandoffRules {
		if !r.Enabled {
			continue
		}
		if r.matches(lower) {
			return Decision{
				Kind:    DecisionHandoff,
				RuleID:  r.ID,
				Reason:  r.Reason,
				Message: r.Response,
			}
		}
	}

	for _, r := range e.rules.AutomationRules {
		if !r.Enabled {
			continue
		}
		if r.matches(lower) {
			return Decision{
				Kind:    DecisionAutomatedReply,
				RuleID:  r.ID,
				Reason:  r.Reason,
				Message: r.Response,
			}
		}
	}

	return Decision{Kind: DecisionNoMatch}
}

func (r Rule) matches(lowerMessage string) bool {
	for _, kw := range r.TriggerKeywords {
		if kw != "" && strings.Contains(lowerMessage, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
