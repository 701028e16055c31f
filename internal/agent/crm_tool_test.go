package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/kalambet/wachat/internal/crm"
)

type mockCRM struct {
	findContact func(ctx context.Context, phone string) (crm.Contact, error)
	create      func(ctx context.Context, phone, firstName string, tags []string) (crm.Contact, error)
	createCalls int
}

func (m *mockCRM) FindContactByPhone(ctx context.Context, phone string) (crm.Contact, error) {
	if m.findContact != nil {
		return m.findContact(ctx, phone)
	}
	return crm.Contact{}, crm.ErrContactNotFound
}

func (m *mockCRM) CreateContact(ctx context.Context, phone, firstName string, tags []string) (crm.Contact, error) {
	m.createCalls++
	if m.create != nil {
		return m.create(ctx, phone, firstName, tags)
	}
	return crm.Contact{ID: "new-id", Phone: phone, FirstName: firstName, Tags: tags}, nil
}

func (m *mockCRM) AddTags(context.Context, string, []string) error { return nil }

func (m *mockCRM) Tasks(context.Context, string) ([]crm.Task, error) {
	return []crm.Task{{ID: "t1", Title: "Follow up"}}, nil
}

func (m *mockCRM) SearchOpportunities(context.Context, string) ([]crm.Opportunity, error) {
	return nil, nil
}

func (m *mockCRM) Pipelines(context.Context) ([]crm.Pipeline, error) { return nil, nil }

func (m *mockCRM) Messages(context.Context, string) ([]crm.Message, error) { return nil, nil }

func invoke(t *testing.T, tool *CRMTool, args string) string {
	t.Helper()
	return tool.Invoke(context.Background(), json.RawMessage(args))
}

func TestCRMToolGetContactNotFound(t *testing.T) {
	tool := NewCRMTool(&mockCRM{})

	got := invoke(t, tool, `{"action":"get-contact","phone":"+15551234567"}`)
	if got != `{"found":false}` {
		t.Errorf("got %q", got)
	}
}

func TestCRMToolGetContactByEmail(t *testing.T) {
	mock := &mockCRM{
		findContact: func(_ context.Context, query string) (crm.Contact, error) {
			if query != "sam@example.com" {
				return crm.Contact{}, crm.ErrContactNotFound
			}
			return crm.Contact{ID: "c-1", Email: "sam@example.com"}, nil
		},
	}
	tool := NewCRMTool(mock)

	got := invoke(t, tool, `{"action":"get-contact","email":"sam@example.com"}`)
	if !strings.Contains(got, `"found":true`) || !strings.Contains(got, "c-1") {
		t.Errorf("got %q", got)
	}
}

func TestCRMToolCreateRequiresLookupFirst(t *testing.T) {
	mock := &mockCRM{}
	tool := NewCRMTool(mock)

	got := invoke(t, tool, `{"action":"create","phone":"+15551234567","firstName":"Sam"}`)
	if !strings.Contains(got, "get-contact") {
		t.Errorf("got %q, want lookup-before-create error", got)
	}
	if mock.createCalls != 0 {
		t.Errorf("createCalls = %d, want 0", mock.createCalls)
	}
}

func TestCRMToolCreateAfterLookup(t *testing.T) {
	mock := &mockCRM{}
	tool := NewCRMTool(mock)

	invoke(t, tool, `{"action":"get-contact","phone":"+15551234567"}`)
	got := invoke(t, tool, `{"action":"create","phone":"+15551234567","firstName":"Sam"}`)
	if !strings.Contains(got, `"new-id"`) {
		t.Errorf("got %q, want created contact", got)
	}
	if mock.createCalls != 1 {
		t.Errorf("createCalls = %d, want 1", mock.createCalls)
	}
}

func TestCRMToolSingleCreatePerTurn(t *testing.T) {
	mock := &mockCRM{}
	tool := NewCRMTool(mock)

	invoke(t, tool, `{"action":"get-contact","phone":"+15551234567"}`)
	invoke(t, tool, `{"action":"create","phone":"+15551234567","firstName":"Sam"}`)

	invoke(t, tool, `{"action":"get-contact","phone":"+15550000000"}`)
	got := invoke(t, tool, `{"action":"create","phone":"+15550000000","firstName":"Alex"}`)
	if !strings.Contains(got, "already created") {
		t.Errorf("got %q, want single-create error", got)
	}
	if mock.createCalls != 1 {
		t.Errorf("createCalls = %d, want 1", mock.createCalls)
	}
}

func TestCRMToolLookupResetsPerTool(t *testing.T) {
	// A new tool instance means a new turn: the guard state must not leak.
	mock := &mockCRM{}

	first := NewCRMTool(mock)
	invoke(t, first, `{"action":"get-contact","phone":"+15551234567"}`)
	invoke(t, first, `{"action":"create","phone":"+15551234567","firstName":"Sam"}`)

	second := NewCRMTool(mock)
	invoke(t, second, `{"action":"get-contact","phone":"+15551234567"}`)
	got := invoke(t, second, `{"action":"create","phone":"+15551234567","firstName":"Sam"}`)
	if strings.Contains(got, "already created") {
		t.Errorf("got %q, guard state leaked across turns", got)
	}
}

func TestCRMToolReportsWrites(t *testing.T) {
	tool := NewCRMTool(&mockCRM{})

	if tool.Mutated() {
		t.Fatal("fresh tool reports a write")
	}

	invoke(t, tool, `{"action":"get-contact","phone":"+15551234567"}`)
	if tool.Mutated() {
		t.Error("lookup counted as a write")
	}

	invoke(t, tool, `{"action":"create","phone":"+15551234567","firstName":"Sam"}`)
	if !tool.Mutated() {
		t.Error("successful create not counted as a write")
	}
}

func TestCRMToolAddTagsReportsWrite(t *testing.T) {
	tool := NewCRMTool(&mockCRM{})

	invoke(t, tool, `{"action":"add-tags","contactId":"c1","tags":["vip"]}`)
	if !tool.Mutated() {
		t.Error("successful add-tags not counted as a write")
	}
}

func TestCRMToolFailedCreateIsNotAWrite(t *testing.T) {
	mock := &mockCRM{
		create: func(context.Context, string, string, []string) (crm.Contact, error) {
			return crm.Contact{}, errors.New("crm unavailable")
		},
	}
	tool := NewCRMTool(mock)

	invoke(t, tool, `{"action":"get-contact","phone":"+15551234567"}`)
	invoke(t, tool, `{"action":"create","phone":"+15551234567","firstName":"Sam"}`)
	if tool.Mutated() {
		t.Error("failed create counted as a write")
	}
}

func TestCRMToolTasks(t *testing.T) {
	tool := NewCRMTool(&mockCRM{})
	got := invoke(t, tool, `{"action":"get-all-tasks","contactId":"c1"}`)
	if !strings.Contains(got, "Follow up") {
		t.Errorf("got %q", got)
	}
}

func TestCRMToolUnknownAction(t *testing.T) {
	tool := NewCRMTool(&mockCRM{})
	got := invoke(t, tool, `{"action":"drop-tables"}`)
	if !strings.Contains(got, "unknown action") {
		t.Errorf("got %q", got)
	}
}
