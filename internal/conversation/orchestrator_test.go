package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/movario/moving-ai-platform/internal/business"
	"github.com/movario/moving-ai-platform/internal/leads"
)

type stubConfigs struct {
	cfg *business.Config
}

func (s stubConfigs) Get(_ context.Context, tenantID string) (*business.Config, error) {
	if s.cfg != nil {
		return s.cfg, nil
	}
	return business.DefaultConfig(tenantID), nil
}

type orchestratorFixture struct {
	orch     *Orchestrator
	repo     *leads.InMemoryRepository
	store    *InMemoryStore
	notifier *countingNotifier
}

func newOrchestratorFixture(t *testing.T, client LLMClient) *orchestratorFixture {
	t.Helper()
	repo := leads.NewInMemoryRepository()
	store := NewInMemoryStore()
	notifier := &countingNotifier{}
	trigger := NewActionTrigger(repo, store, notifier, nil, nil)
	gateway := NewGateway(client, "test-model", nil, WithRetryPolicy(0, time.Millisecond))
	orch := NewOrchestrator(store, repo, stubConfigs{}, NewPromptBuilder(nil, 0, nil), gateway, trigger, nil)
	return &orchestratorFixture{orch: orch, repo: repo, store: store, notifier: notifier}
}

func TestStartConversation(t *testing.T) {
	ctx := context.Background()
	fix := newOrchestratorFixture(t, &scriptedClient{responses: []func() (LLMResponse, error){success("ok")}})

	started, err := fix.orch.StartConversation(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.Conversation.Status != StatusActive {
		t.Errorf("status: %s", started.Conversation.Status)
	}
	if started.Lead == nil || started.Lead.TenantID != "tenant-1" {
		t.Errorf("lead: %+v", started.Lead)
	}
	if started.Greeting == "" {
		t.Error("expected a greeting")
	}

	history, err := fix.orch.GetHistory(ctx, started.Conversation.ID, "tenant-1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].Role != ChatRoleAssistant || history[0].Content != started.Greeting {
		t.Errorf("greeting not recorded: %+v", history)
	}
}

func TestProcessMessageFullQualification(t *testing.T) {
	ctx := context.Background()
	reply := `Parfait, un conseiller vous rappelle sous 24h ouvrées.<!--DATA:{"score":85}-->`
	fix := newOrchestratorFixture(t, &scriptedClient{responses: []func() (LLMResponse, error){success(reply)}})

	started, err := fix.orch.StartConversation(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	date := time.Now().AddDate(0, 0, 5).Format("02/01/2006")
	userText := fmt.Sprintf(
		"Bonjour, je m'appelle Marie Dupont. Je déménage de Paris vers Lyon le %s, environ 30m³, formule standard. Mon email est a@b.fr et mon téléphone 0612345678.",
		date,
	)

	out, err := fix.orch.ProcessMessage(ctx, MessageRequest{
		ConversationID: started.Conversation.ID,
		TenantID:       "tenant-1",
		UserText:       userText,
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if strings.Contains(out.Text, hiddenBlockStart) {
		t.Errorf("hidden block leaked: %q", out.Text)
	}
	if out.Score != 85 {
		t.Errorf("score: got %d, want 85", out.Score)
	}
	if out.Priority != leads.PriorityHot {
		t.Errorf("priority: got %s, want hot", out.Priority)
	}

	if !containsAction(out.Actions, ActionNotificationQueued) ||
		!containsAction(out.Actions, ActionCRMPushQueued) ||
		!containsAction(out.Actions, ActionConversationQualified) {
		t.Errorf("actions: %v", out.Actions)
	}
	if fix.notifier.calls != 1 {
		t.Errorf("notifier calls: %d", fix.notifier.calls)
	}

	lead, err := fix.repo.GetByID(ctx, started.Lead.ID)
	if err != nil {
		t.Fatalf("get lead: %v", err)
	}
	if lead.Email != "a@b.fr" || lead.Phone != "0612345678" {
		t.Errorf("contact not merged: %q %q", lead.Email, lead.Phone)
	}
	if lead.FirstName != "Marie" || lead.LastName != "Dupont" {
		t.Errorf("name not merged: %q %q", lead.FirstName, lead.LastName)
	}
	if lead.ProjectData[leads.KeyOriginCity] != "Paris" || lead.ProjectData[leads.KeyDestinationCity] != "Lyon" {
		t.Errorf("route not merged: %v", lead.ProjectData)
	}
	if !lead.NotificationSent || !lead.CRMPushed {
		t.Error("action flags not persisted")
	}

	history, err := fix.orch.GetHistory(ctx, started.Conversation.ID, "tenant-1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	// greeting + user + assistant
	if len(history) != 3 {
		t.Fatalf("history length: %d", len(history))
	}
	if history[1].Role != ChatRoleUser || history[2].Role != ChatRoleAssistant {
		t.Errorf("history order: %s, %s", history[1].Role, history[2].Role)
	}
	if strings.Contains(history[2].Content, hiddenBlockStart) {
		t.Error("hidden block persisted in history")
	}
}

func TestProcessMessageActionsFireOnlyOnce(t *testing.T) {
	ctx := context.Background()
	reply := `Bien noté !<!--DATA:{}-->`
	client := &scriptedClient{responses: []func() (LLMResponse, error){success(reply)}}
	fix := newOrchestratorFixture(t, client)

	started, err := fix.orch.StartConversation(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	date := time.Now().AddDate(0, 0, 5).Format("02/01/2006")
	qualify := fmt.Sprintf(
		"Je m'appelle Marie Dupont, je déménage de Paris vers Lyon le %s, 30m³, formule standard, a@b.fr, 0612345678",
		date,
	)
	first, err := fix.orch.ProcessMessage(ctx, MessageRequest{
		ConversationID: started.Conversation.ID,
		TenantID:       "tenant-1",
		UserText:       qualify,
	})
	if err != nil {
		t.Fatalf("first turn: %v", err)
	}
	if !containsAction(first.Actions, ActionNotificationQueued) {
		t.Fatalf("first turn actions: %v", first.Actions)
	}

	second, err := fix.orch.ProcessMessage(ctx, MessageRequest{
		ConversationID: started.Conversation.ID,
		TenantID:       "tenant-1",
		UserText:       "Merci, à bientôt !",
	})
	if err != nil {
		t.Fatalf("second turn: %v", err)
	}
	if len(second.Actions) != 0 {
		t.Errorf("second turn re-fired actions: %v", second.Actions)
	}
	if fix.notifier.calls != 1 {
		t.Errorf("notifier calls: %d", fix.notifier.calls)
	}
}

func TestProcessMessageApologyOnModelFailure(t *testing.T) {
	ctx := context.Background()
	fix := newOrchestratorFixture(t, &scriptedClient{responses: []func() (LLMResponse, error){permanentFailure}})

	started, err := fix.orch.StartConversation(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	out, err := fix.orch.ProcessMessage(ctx, MessageRequest{
		ConversationID: started.Conversation.ID,
		TenantID:       "tenant-1",
		UserText:       "Je déménage de Paris vers Lyon",
	})
	if err != nil {
		t.Fatalf("expected graceful degradation, got %v", err)
	}
	if out.Text != apologyReply {
		t.Errorf("text: %q", out.Text)
	}
	if len(out.Actions) != 0 {
		t.Errorf("actions on failed turn: %v", out.Actions)
	}

	// The failed turn must not be persisted.
	history, err := fix.orch.GetHistory(ctx, started.Conversation.ID, "tenant-1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("failed turn persisted: %d messages", len(history))
	}

	lead, err := fix.repo.GetByID(ctx, started.Lead.ID)
	if err != nil {
		t.Fatalf("get lead: %v", err)
	}
	if lead.Score != 0 || len(lead.ProjectData) != 0 {
		t.Errorf("lead mutated on failed turn: %+v", lead)
	}
}

func TestProcessMessageClosedConversation(t *testing.T) {
	ctx := context.Background()
	fix := newOrchestratorFixture(t, &scriptedClient{responses: []func() (LLMResponse, error){success("ok")}})

	started, err := fix.orch.StartConversation(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := fix.orch.CloseConversation(ctx, started.Conversation.ID, "tenant-1"); err != nil {
		t.Fatalf("close: %v", err)
	}

	_, err = fix.orch.ProcessMessage(ctx, MessageRequest{
		ConversationID: started.Conversation.ID,
		TenantID:       "tenant-1",
		UserText:       "Bonjour ?",
	})
	if !errors.Is(err, ErrConversationClosed) {
		t.Errorf("expected ErrConversationClosed, got %v", err)
	}
}

func TestProcessMessageUnknownConversation(t *testing.T) {
	fix := newOrchestratorFixture(t, &scriptedClient{responses: []func() (LLMResponse, error){success("ok")}})

	_, err := fix.orch.ProcessMessage(context.Background(), MessageRequest{
		ConversationID: "missing",
		UserText:       "Bonjour",
	})
	if !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestProcessMessageWrongTenant(t *testing.T) {
	ctx := context.Background()
	fix := newOrchestratorFixture(t, &scriptedClient{responses: []func() (LLMResponse, error){success("ok")}})

	started, err := fix.orch.StartConversation(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	_, err = fix.orch.ProcessMessage(ctx, MessageRequest{
		ConversationID: started.Conversation.ID,
		TenantID:       "tenant-2",
		UserText:       "Bonjour",
	})
	if !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("expected tenant isolation, got %v", err)
	}
}

func TestTenantIsolationOnReadAndMutate(t *testing.T) {
	ctx := context.Background()
	fix := newOrchestratorFixture(t, &scriptedClient{responses: []func() (LLMResponse, error){success("ok")}})

	started, err := fix.orch.StartConversation(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	id := started.Conversation.ID

	if _, err := fix.orch.GetHistory(ctx, id, "tenant-2"); !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("foreign tenant read history: %v", err)
	}
	if err := fix.orch.RateConversation(ctx, id, "tenant-2", 5); !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("foreign tenant rated conversation: %v", err)
	}
	if err := fix.orch.CloseConversation(ctx, id, "tenant-2"); !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("foreign tenant closed conversation: %v", err)
	}

	// The owner is unaffected by the rejected attempts.
	conv, err := fix.store.GetConversation(ctx, id, "tenant-1")
	if err != nil {
		t.Fatalf("owner lookup: %v", err)
	}
	if conv.Status != StatusActive {
		t.Errorf("status mutated by foreign tenant: %s", conv.Status)
	}
	if _, err := fix.orch.GetHistory(ctx, id, "tenant-1"); err != nil {
		t.Errorf("owner history: %v", err)
	}
}

func TestProcessMessageStreamDeliversFilteredChunks(t *testing.T) {
	ctx := context.Background()
	client := &chunkedClient{chunks: []string{"Bonjour ", "le prix est 500€", `<!--DATA:{"a":1}-->`}}
	fix := newOrchestratorFixture(t, client)

	started, err := fix.orch.StartConversation(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	var parts []string
	out, err := fix.orch.ProcessMessageStream(ctx, MessageRequest{
		ConversationID: started.Conversation.ID,
		TenantID:       "tenant-1",
		UserText:       "Quel est le prix ?",
	}, func(s string) { parts = append(parts, s) })
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	visible := strings.TrimSpace(strings.Join(parts, ""))
	if visible != "Bonjour le prix est 500€" {
		t.Errorf("streamed text: %q", visible)
	}
	if out.Text != "Bonjour le prix est 500€" {
		t.Errorf("final text: %q", out.Text)
	}
}

func TestRateConversation(t *testing.T) {
	ctx := context.Background()
	fix := newOrchestratorFixture(t, &scriptedClient{responses: []func() (LLMResponse, error){success("ok")}})

	started, err := fix.orch.StartConversation(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := fix.orch.RateConversation(ctx, started.Conversation.ID, "tenant-1", 5); err != nil {
		t.Fatalf("rate: %v", err)
	}
	lead, err := fix.repo.GetByID(ctx, started.Lead.ID)
	if err != nil {
		t.Fatalf("get lead: %v", err)
	}
	if lead.Satisfaction != 5 {
		t.Errorf("satisfaction: %d", lead.Satisfaction)
	}

	if err := fix.orch.RateConversation(ctx, started.Conversation.ID, "tenant-1", 6); err == nil {
		t.Error("expected out-of-range error")
	}
	if err := fix.orch.RateConversation(ctx, started.Conversation.ID, "tenant-1", 0); err == nil {
		t.Error("expected out-of-range error")
	}
}

func TestListConversationsByStatus(t *testing.T) {
	ctx := context.Background()
	fix := newOrchestratorFixture(t, &scriptedClient{responses: []func() (LLMResponse, error){success("ok")}})

	first, err := fix.orch.StartConversation(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := fix.orch.StartConversation(ctx, "tenant-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := fix.orch.CloseConversation(ctx, first.Conversation.ID, "tenant-1"); err != nil {
		t.Fatalf("close: %v", err)
	}

	active, err := fix.orch.ListConversations(ctx, "tenant-1", ListOptions{Status: StatusActive})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 1 {
		t.Errorf("active conversations: %d", len(active))
	}

	all, err := fix.orch.ListConversations(ctx, "tenant-1", ListOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("all conversations: %d", len(all))
	}
}
