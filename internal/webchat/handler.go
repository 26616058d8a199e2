package webchat

import (
	"context"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/websocket"

	"github.com/movario/moving-ai-platform/internal/conversation"
	"github.com/movario/moving-ai-platform/pkg/logging"
)

// Conversationalist is the slice of the orchestrator the widget needs.
type Conversationalist interface {
	StartConversation(ctx context.Context, tenantID string) (*conversation.StartResult, error)
	ProcessMessageStream(ctx context.Context, req conversation.MessageRequest, onChunk func(string)) (*conversation.Reply, error)
	GetHistory(ctx context.Context, conversationID, tenantID string) ([]conversation.Message, error)
}

// Handler serves the embeddable chat widget over WebSocket. One connection is
// one visitor; messages on a connection are processed strictly in order, with
// reply text streamed chunk by chunk as the model produces it.
type Handler struct {
	orch     Conversationalist
	logger   *logging.Logger
	widgetJS []byte
}

// InboundMessage is what the widget sends.
type InboundMessage struct {
	Type string `json:"type"` // "message", "ping"
	Text string `json:"text"`
}

// OutboundMessage is what we send to the widget.
type OutboundMessage struct {
	Type           string           `json:"type"` // "session", "history", "typing", "chunk", "message", "pong", "error"
	Text           string           `json:"text,omitempty"`
	Role           string           `json:"role,omitempty"`
	ConversationID string           `json:"conversation_id,omitempty"`
	Score          int              `json:"score,omitempty"`
	Priority       string           `json:"priority,omitempty"`
	Timestamp      string           `json:"timestamp,omitempty"`
	Messages       []HistoryMessage `json:"messages,omitempty"`
}

// HistoryMessage is a simplified message for history replay.
type HistoryMessage struct {
	Role      string `json:"role"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// NewHandler creates a web chat handler.
func NewHandler(orch Conversationalist, widgetJS []byte, logger *logging.Logger) *Handler {
	if orch == nil {
		panic("webchat: orchestrator cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		orch:     orch,
		logger:   logger,
		widgetJS: widgetJS,
	}
}

// ServeHTTP upgrades to WebSocket and handles real-time messaging.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	websocket.Handler(func(conn *websocket.Conn) {
		h.serveWS(conn, r)
	}).ServeHTTP(w, r)
}

func (h *Handler) serveWS(conn *websocket.Conn, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant")
	if tenantID == "" {
		_ = websocket.JSON.Send(conn, OutboundMessage{Type: "error", Text: "missing tenant parameter"})
		return
	}

	ctx := r.Context()

	// Resume an existing conversation when the widget reconnects, otherwise
	// open a fresh one and greet.
	conversationID := r.URL.Query().Get("conversation")
	if conversationID == "" {
		started, err := h.orch.StartConversation(ctx, tenantID)
		if err != nil {
			h.logger.Error("webchat: failed to start conversation", "tenant_id", tenantID, "error", err)
			_ = websocket.JSON.Send(conn, OutboundMessage{Type: "error", Text: "could not start conversation"})
			return
		}
		conversationID = started.Conversation.ID

		_ = websocket.JSON.Send(conn, OutboundMessage{Type: "session", ConversationID: conversationID})
		_ = websocket.JSON.Send(conn, OutboundMessage{
			Type:      "message",
			Role:      conversation.ChatRoleAssistant,
			Text:      started.Greeting,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	} else {
		_ = websocket.JSON.Send(conn, OutboundMessage{Type: "session", ConversationID: conversationID})
		h.replayHistory(ctx, conn, conversationID, tenantID)
	}

	h.logger.Info("webchat: connection opened", "tenant_id", tenantID, "conversation_id", conversationID)

	for {
		var msg InboundMessage
		if err := websocket.JSON.Receive(conn, &msg); err != nil {
			h.logger.Debug("webchat: connection closed", "conversation_id", conversationID, "error", err)
			return
		}

		if msg.Type == "ping" {
			_ = websocket.JSON.Send(conn, OutboundMessage{Type: "pong"})
			continue
		}
		if msg.Type != "message" || strings.TrimSpace(msg.Text) == "" {
			continue
		}

		h.processMessage(ctx, conn, tenantID, conversationID, msg.Text)
	}
}

func (h *Handler) replayHistory(ctx context.Context, conn *websocket.Conn, conversationID, tenantID string) {
	messages, err := h.orch.GetHistory(ctx, conversationID, tenantID)
	if err != nil {
		h.logger.Warn("webchat: failed to load history", "conversation_id", conversationID, "error", err)
		return
	}
	if len(messages) == 0 {
		return
	}

	history := make([]HistoryMessage, 0, len(messages))
	for _, m := range messages {
		history = append(history, HistoryMessage{
			Role:      m.Role,
			Text:      m.Content,
			Timestamp: m.CreatedAt.Format(time.RFC3339),
		})
	}
	_ = websocket.JSON.Send(conn, OutboundMessage{Type: "history", Messages: history})
}

func (h *Handler) processMessage(ctx context.Context, conn *websocket.Conn, tenantID, conversationID, text string) {
	_ = websocket.JSON.Send(conn, OutboundMessage{Type: "typing"})

	reply, err := h.orch.ProcessMessageStream(ctx, conversation.MessageRequest{
		ConversationID: conversationID,
		TenantID:       tenantID,
		UserText:       text,
	}, func(chunk string) {
		_ = websocket.JSON.Send(conn, OutboundMessage{Type: "chunk", Text: chunk})
	})
	if err != nil {
		h.logger.Error("webchat: failed to process message", "conversation_id", conversationID, "error", err)
		_ = websocket.JSON.Send(conn, OutboundMessage{
			Type: "error",
			Text: "Désolé, une erreur est survenue. Merci de réessayer.",
		})
		return
	}

	// Final summary event closes the streamed turn.
	_ = websocket.JSON.Send(conn, OutboundMessage{
		Type:           "message",
		Role:           conversation.ChatRoleAssistant,
		Text:           reply.Text,
		ConversationID: reply.ConversationID,
		Score:          reply.Score,
		Priority:       string(reply.Priority),
		Timestamp:      reply.Timestamp.Format(time.RFC3339),
	})
}

// HandleWidgetJS serves the embeddable widget JavaScript.
func (h *Handler) HandleWidgetJS(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/javascript")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	_, _ = w.Write(h.widgetJS)
}
