package crm

import (
	"errors"
	"time"
)

// ErrContactNotFound is returned when the CRM has no contact for the lookup.
// Callers distinguish it from transport failures: a missing contact is a
// normal onboarding state, an unreachable CRM is a degradation.
var ErrContactNotFound = errors.New("contact not found")

// Contact is the CRM's view of a person.
type Contact struct {
	ID           string            `json:"id"`
	FirstName    string            `json:"firstName"`
	LastName     string            `json:"lastName"`
	Phone        string            `json:"phone"`
	Email        string            `json:"email"`
	Source       string            `json:"source"`
	Tags         []string          `json:"tags"`
	CustomFields map[string]string `json:"customFields"`
	LastActivity time.Time         `json:"lastActivity"`
}

// DisplayName returns the best human-readable name for the contact.
func (c Contact) DisplayName() string {
	switch {
	case c.FirstName != "" && c.LastName != "":
		return c.FirstName + " " + c.LastName
	case c.FirstName != "":
		return c.FirstName
	case c.LastName != "":
		return c.LastName
	default:
		return c.Phone
	}
}

// Task is an open CRM task attached to a contact.
type Task struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	DueDate   time.Time `json:"dueDate"`
	Completed bool      `json:"completed"`
}

// Opportunity is a sales opportunity in a pipeline.
type Opportunity struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	PipelineID    string  `json:"pipelineId"`
	StageID       string  `json:"pipelineStageId"`
	Status        string  `json:"status"`
	MonetaryValue float64 `json:"monetaryValue"`
}

// Pipeline is a sales pipeline with its stages.
type Pipeline struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Stages []PipelineStage `json:"stages"`
}

// PipelineStage is one stage within a pipeline.
type PipelineStage struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Message is one message from the CRM's own conversation log.
type Message struct {
	ID        string    `json:"id"`
	Direction string    `json:"direction"` // "inbound" or "outbound"
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"dateAdded"`
}
