package conversation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/movario/moving-ai-platform/internal/tenancy"
)

func handlerFixture(t *testing.T, client LLMClient) (*Handler, *orchestratorFixture) {
	t.Helper()
	fix := newOrchestratorFixture(t, client)
	return NewHandler(fix.orch, nil), fix
}

func handlerRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Post("/conversations/start", h.Start)
	r.Post("/conversations/message", h.Message)
	r.Get("/conversations", h.List)
	r.Get("/conversations/{conversationID}/messages", h.History)
	r.Post("/conversations/{conversationID}/rating", h.Rate)
	r.Post("/conversations/{conversationID}/close", h.Close)
	return r
}

func withTenant(req *http.Request, tenantID string) *http.Request {
	return req.WithContext(tenancy.WithTenantID(req.Context(), tenantID))
}

func TestHandlerStart(t *testing.T) {
	h, _ := handlerFixture(t, &scriptedClient{responses: []func() (LLMResponse, error){success("ok")}})
	router := handlerRouter(h)

	req := withTenant(httptest.NewRequest(http.MethodPost, "/conversations/start", nil), "tenant-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status: %d, body: %s", rec.Code, rec.Body.String())
	}
	var result StartResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Conversation == nil || result.Greeting == "" {
		t.Errorf("result: %+v", result)
	}
}

func TestHandlerStartRequiresTenant(t *testing.T) {
	h, _ := handlerFixture(t, &scriptedClient{responses: []func() (LLMResponse, error){success("ok")}})
	router := handlerRouter(h)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/conversations/start", nil))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status: %d", rec.Code)
	}
}

func TestHandlerMessage(t *testing.T) {
	h, fix := handlerFixture(t, &scriptedClient{responses: []func() (LLMResponse, error){
		success(`Très bien, quelle est votre ville de départ ?<!--DATA:{}-->`),
	}})
	router := handlerRouter(h)

	started, err := fix.orch.StartConversation(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	body := `{"conversation_id":"` + started.Conversation.ID + `","message":"Bonjour, je veux déménager"}`
	req := withTenant(httptest.NewRequest(http.MethodPost, "/conversations/message", strings.NewReader(body)), "tenant-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d, body: %s", rec.Code, rec.Body.String())
	}
	var reply Reply
	if err := json.Unmarshal(rec.Body.Bytes(), &reply); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if strings.Contains(reply.Text, hiddenBlockStart) {
		t.Errorf("hidden block leaked: %q", reply.Text)
	}
	if reply.ConversationID != started.Conversation.ID {
		t.Errorf("conversation id: %q", reply.ConversationID)
	}
}

func TestHandlerMessageValidation(t *testing.T) {
	h, _ := handlerFixture(t, &scriptedClient{responses: []func() (LLMResponse, error){success("ok")}})
	router := handlerRouter(h)

	cases := []string{
		`not json`,
		`{"conversation_id":"","message":"salut"}`,
		`{"conversation_id":"conv-1","message":""}`,
	}
	for _, body := range cases {
		req := withTenant(httptest.NewRequest(http.MethodPost, "/conversations/message", strings.NewReader(body)), "tenant-1")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status %d", body, rec.Code)
		}
	}
}

func TestHandlerMessageUnknownConversation(t *testing.T) {
	h, _ := handlerFixture(t, &scriptedClient{responses: []func() (LLMResponse, error){success("ok")}})
	router := handlerRouter(h)

	body := `{"conversation_id":"missing","message":"Bonjour"}`
	req := withTenant(httptest.NewRequest(http.MethodPost, "/conversations/message", strings.NewReader(body)), "tenant-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status: %d", rec.Code)
	}
}

func TestHandlerMessageClosedConversation(t *testing.T) {
	h, fix := handlerFixture(t, &scriptedClient{responses: []func() (LLMResponse, error){success("ok")}})
	router := handlerRouter(h)

	started, err := fix.orch.StartConversation(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := fix.orch.CloseConversation(context.Background(), started.Conversation.ID, "tenant-1"); err != nil {
		t.Fatalf("close: %v", err)
	}

	body := `{"conversation_id":"` + started.Conversation.ID + `","message":"Bonjour"}`
	req := withTenant(httptest.NewRequest(http.MethodPost, "/conversations/message", strings.NewReader(body)), "tenant-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("status: %d", rec.Code)
	}
}

func TestHandlerHistoryAndRate(t *testing.T) {
	h, fix := handlerFixture(t, &scriptedClient{responses: []func() (LLMResponse, error){success("ok")}})
	router := handlerRouter(h)

	started, err := fix.orch.StartConversation(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, withTenant(httptest.NewRequest(http.MethodGet, "/conversations/"+started.Conversation.ID+"/messages", nil), "tenant-1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("history status: %d", rec.Code)
	}
	var payload struct {
		Messages []Message `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Messages) != 1 {
		t.Errorf("messages: %d", len(payload.Messages))
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, withTenant(httptest.NewRequest(http.MethodPost, "/conversations/"+started.Conversation.ID+"/rating", strings.NewReader(`{"rating":4}`)), "tenant-1"))
	if rec.Code != http.StatusNoContent {
		t.Errorf("rating status: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, withTenant(httptest.NewRequest(http.MethodPost, "/conversations/"+started.Conversation.ID+"/rating", strings.NewReader(`{"rating":9}`)), "tenant-1"))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid rating status: %d", rec.Code)
	}
}

func TestHandlerCrossTenantIsNotFound(t *testing.T) {
	h, fix := handlerFixture(t, &scriptedClient{responses: []func() (LLMResponse, error){success("ok")}})
	router := handlerRouter(h)

	started, err := fix.orch.StartConversation(context.Background(), "tenant-a")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	id := started.Conversation.ID

	requests := []*http.Request{
		httptest.NewRequest(http.MethodGet, "/conversations/"+id+"/messages", nil),
		httptest.NewRequest(http.MethodPost, "/conversations/"+id+"/rating", strings.NewReader(`{"rating":4}`)),
		httptest.NewRequest(http.MethodPost, "/conversations/"+id+"/close", nil),
	}
	for _, req := range requests {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, withTenant(req, "tenant-b"))
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s %s as foreign tenant: status %d", req.Method, req.URL.Path, rec.Code)
		}
	}

	// Still readable by its owner.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, withTenant(httptest.NewRequest(http.MethodGet, "/conversations/"+id+"/messages", nil), "tenant-a"))
	if rec.Code != http.StatusOK {
		t.Errorf("owner history status: %d", rec.Code)
	}
}

func TestHandlerList(t *testing.T) {
	h, fix := handlerFixture(t, &scriptedClient{responses: []func() (LLMResponse, error){success("ok")}})
	router := handlerRouter(h)

	if _, err := fix.orch.StartConversation(context.Background(), "tenant-1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	req := withTenant(httptest.NewRequest(http.MethodGet, "/conversations?status=active", nil), "tenant-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	var payload struct {
		Conversations []Conversation `json:"conversations"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Conversations) != 1 {
		t.Errorf("conversations: %d", len(payload.Conversations))
	}
}
