package conversation

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/movario/moving-ai-platform/internal/tenancy"
	"github.com/movario/moving-ai-platform/pkg/logging"
)

// Handler wires HTTP requests to the orchestrator.
type Handler struct {
	orch   *Orchestrator
	logger *logging.Logger
}

// NewHandler creates a conversation handler.
func NewHandler(orch *Orchestrator, logger *logging.Logger) *Handler {
	if orch == nil {
		panic("conversation: orchestrator cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{orch: orch, logger: logger}
}

// Start handles POST /conversations/start.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenancy.TenantIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing tenant", http.StatusBadRequest)
		return
	}

	result, err := h.orch.StartConversation(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("failed to start conversation", "error", err)
		http.Error(w, "Failed to start conversation", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusCreated, result)
}

type messageBody struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

// Message handles POST /conversations/message.
func (h *Handler) Message(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := tenancy.TenantIDFromContext(r.Context())

	var body messageBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.logger.Error("failed to decode message request", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if body.ConversationID == "" || body.Message == "" {
		http.Error(w, "conversation_id and message are required", http.StatusBadRequest)
		return
	}

	reply, err := h.orch.ProcessMessage(r.Context(), MessageRequest{
		ConversationID: body.ConversationID,
		TenantID:       tenantID,
		UserText:       body.Message,
	})
	if err != nil {
		h.writeError(w, "failed to process message", err)
		return
	}

	h.writeJSON(w, http.StatusOK, reply)
}

// History handles GET /conversations/{conversationID}/messages.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	tenantID, _ := tenancy.TenantIDFromContext(r.Context())

	messages, err := h.orch.GetHistory(r.Context(), conversationID, tenantID)
	if err != nil {
		h.writeError(w, "failed to load history", err)
		return
	}
	if messages == nil {
		messages = []Message{}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": conversationID,
		"messages":        messages,
	})
}

type ratingBody struct {
	Rating int `json:"rating"`
}

// Rate handles POST /conversations/{conversationID}/rating.
func (h *Handler) Rate(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	tenantID, _ := tenancy.TenantIDFromContext(r.Context())

	var body ratingBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.orch.RateConversation(r.Context(), conversationID, tenantID, body.Rating); err != nil {
		if errors.Is(err, ErrConversationNotFound) {
			http.Error(w, "conversation not found", http.StatusNotFound)
			return
		}
		// Out-of-range ratings come back as plain errors.
		h.logger.Error("failed to record rating", "conversation_id", conversationID, "error", err)
		http.Error(w, "rating must be between 1 and 5", http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Close handles POST /conversations/{conversationID}/close.
func (h *Handler) Close(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	tenantID, _ := tenancy.TenantIDFromContext(r.Context())

	if err := h.orch.CloseConversation(r.Context(), conversationID, tenantID); err != nil {
		h.writeError(w, "failed to close conversation", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// List handles GET /conversations.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenancy.TenantIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing tenant", http.StatusBadRequest)
		return
	}

	opts := ListOptions{Status: Status(r.URL.Query().Get("status"))}
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
		opts.Limit = limit
	}
	if offset, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil {
		opts.Offset = offset
	}

	conversations, err := h.orch.ListConversations(r.Context(), tenantID, opts)
	if err != nil {
		h.writeError(w, "failed to list conversations", err)
		return
	}
	if conversations == nil {
		conversations = []Conversation{}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"conversations": conversations})
}

func (h *Handler) writeError(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, ErrConversationNotFound):
		http.Error(w, "conversation not found", http.StatusNotFound)
	case errors.Is(err, ErrConversationClosed):
		http.Error(w, "conversation is closed", http.StatusConflict)
	default:
		h.logger.Error(msg, "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to write JSON response", "error", err)
	}
}
