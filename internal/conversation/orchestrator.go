package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/movario/moving-ai-platform/internal/business"
	"github.com/movario/moving-ai-platform/internal/leads"
	"github.com/movario/moving-ai-platform/pkg/logging"
)

var orchestratorTracer = otel.Tracer("movario.internal.conversation.orchestrator")

// apologyReply is what the user sees when the model is unreachable. Internal
// errors never leak to the transport.
const apologyReply = "Désolé, je rencontre un souci technique. Pouvez-vous renvoyer votre message dans un instant ?"

// ConfigSource resolves per-tenant configuration. *business.Store satisfies it.
type ConfigSource interface {
	Get(ctx context.Context, tenantID string) (*business.Config, error)
}

// MessageRequest is one inbound user message.
type MessageRequest struct {
	ConversationID string
	TenantID       string
	UserText       string
}

// Metadata carries per-turn diagnostics back to the transport.
type Metadata struct {
	TokensUsed int      `json:"tokens_used"`
	LatencyMs  int64    `json:"latency_ms"`
	Extracted  Entities `json:"-"`
}

// Reply is the outcome of one processed message.
type Reply struct {
	ConversationID string         `json:"conversation_id"`
	Text           string         `json:"text"`
	Score          int            `json:"score"`
	Priority       leads.Priority `json:"priority"`
	Lead           *leads.Lead    `json:"lead,omitempty"`
	Actions        []string       `json:"actions"`
	Metadata       Metadata       `json:"metadata"`
	Timestamp      time.Time      `json:"timestamp"`
}

// StartResult is the outcome of opening a conversation.
type StartResult struct {
	Conversation *Conversation `json:"conversation"`
	Lead         *leads.Lead   `json:"lead"`
	Greeting     string        `json:"greeting"`
}

type OrchestratorOption func(*Orchestrator)

// WithContextCache enables the read-through Redis cache for turn context.
func WithContextCache(cache *ContextCache) OrchestratorOption {
	return func(o *Orchestrator) {
		o.cache = cache
	}
}

// Orchestrator sequences the per-message pipeline: load context, build the
// prompt, call the model, extract entities, merge, score, persist, trigger
// actions. It owns the per-turn transaction; concurrent messages for one
// conversation are serialized on a lane while other conversations proceed.
type Orchestrator struct {
	store     Store
	leadsRepo leads.Repository
	configs   ConfigSource
	prompt    *PromptBuilder
	gateway   *Gateway
	merger    *Merger
	actions   *ActionTrigger
	cache     *ContextCache
	lanes     *laneSet
	logger    *logging.Logger
}

func NewOrchestrator(
	store Store,
	leadsRepo leads.Repository,
	configs ConfigSource,
	prompt *PromptBuilder,
	gateway *Gateway,
	actions *ActionTrigger,
	logger *logging.Logger,
	opts ...OrchestratorOption,
) *Orchestrator {
	if store == nil {
		panic("conversation: conversation store cannot be nil")
	}
	if leadsRepo == nil {
		panic("conversation: leads repository cannot be nil")
	}
	if configs == nil {
		panic("conversation: config source cannot be nil")
	}
	if prompt == nil {
		panic("conversation: prompt builder cannot be nil")
	}
	if gateway == nil {
		panic("conversation: llm gateway cannot be nil")
	}
	if actions == nil {
		panic("conversation: action trigger cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	o := &Orchestrator{
		store:     store,
		leadsRepo: leadsRepo,
		configs:   configs,
		prompt:    prompt,
		gateway:   gateway,
		merger:    NewMerger(leadsRepo),
		actions:   actions,
		lanes:     newLaneSet(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// StartConversation opens a new active conversation with a fresh empty lead
// and returns the tenant's configured greeting. The greeting is recorded as
// the first assistant message.
func (o *Orchestrator) StartConversation(ctx context.Context, tenantID string) (*StartResult, error) {
	ctx, span := orchestratorTracer.Start(ctx, "conversation.start")
	defer span.End()
	span.SetAttributes(attribute.String("movario.tenant_id", tenantID))

	cfg, err := o.configs.Get(ctx, tenantID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: load tenant config: %w", err)
	}

	lead, err := o.leadsRepo.Create(ctx, tenantID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: create lead: %w", err)
	}

	conv, err := o.store.CreateConversation(ctx, tenantID, lead.ID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: create conversation: %w", err)
	}

	greeting := cfg.Greeting
	if greeting == "" {
		greeting = business.DefaultConfig(tenantID).Greeting
	}
	if err := o.store.AppendMessage(ctx, &Message{
		ConversationID: conv.ID,
		Role:           ChatRoleAssistant,
		Content:        greeting,
	}); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: record greeting: %w", err)
	}
	o.invalidateContext(ctx, conv.ID)

	o.logger.Info("conversation started",
		"conversation_id", conv.ID,
		"tenant_id", tenantID,
		"lead_id", lead.ID,
	)
	return &StartResult{Conversation: conv, Lead: lead, Greeting: greeting}, nil
}

// ProcessMessage runs the full pipeline for one user message and returns the
// reply plus metadata.
func (o *Orchestrator) ProcessMessage(ctx context.Context, req MessageRequest) (*Reply, error) {
	return o.processTurn(ctx, req, func(ctx context.Context, system []string, history []ChatMessage) (GenerateResult, error) {
		return o.gateway.Generate(ctx, system, history)
	})
}

// ProcessMessageStream is ProcessMessage with incremental delivery: visible
// reply text reaches onChunk as it arrives, hidden data block excluded. The
// returned Reply is the same final summary ProcessMessage would produce.
func (o *Orchestrator) ProcessMessageStream(ctx context.Context, req MessageRequest, onChunk func(string)) (*Reply, error) {
	return o.processTurn(ctx, req, func(ctx context.Context, system []string, history []ChatMessage) (GenerateResult, error) {
		return o.gateway.Stream(ctx, system, history, onChunk)
	})
}

type generateFunc func(ctx context.Context, system []string, history []ChatMessage) (GenerateResult, error)

func (o *Orchestrator) processTurn(ctx context.Context, req MessageRequest, generate generateFunc) (*Reply, error) {
	if req.ConversationID == "" {
		return nil, errors.New("conversation: conversation id is required")
	}
	if req.UserText == "" {
		return nil, errors.New("conversation: user text is required")
	}

	// Serialize per conversation; the LLM round-trip happens inside the lane
	// so a second message for the same conversation waits its turn, while
	// other conversations are untouched.
	unlock := o.lanes.lock(req.ConversationID)
	defer unlock()

	ctx, span := orchestratorTracer.Start(ctx, "conversation.message")
	defer span.End()
	span.SetAttributes(
		attribute.String("movario.conversation_id", req.ConversationID),
		attribute.String("movario.tenant_id", req.TenantID),
	)

	// 1. Load context: conversation, lead, tenant config, history.
	conv, err := o.store.GetConversation(ctx, req.ConversationID, req.TenantID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if conv.Status == StatusClosed || conv.Status == StatusAbandoned {
		return nil, ErrConversationClosed
	}

	var lead *leads.Lead
	if conv.LeadID != "" {
		lead, err = o.leadsRepo.GetByID(ctx, conv.LeadID)
		if err != nil && !errors.Is(err, leads.ErrLeadNotFound) {
			span.RecordError(err)
			return nil, fmt.Errorf("conversation: load lead: %w", err)
		}
	}

	cfg, err := o.configs.Get(ctx, conv.TenantID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: load tenant config: %w", err)
	}

	history, err := o.loadHistory(ctx, conv.ID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	// 2. Build the prompt from config + current lead snapshot.
	systemPrompt := o.prompt.Build(ctx, cfg, lead)

	chat := make([]ChatMessage, 0, len(history)+1)
	for _, msg := range history {
		if msg.Role == ChatRoleSystem {
			continue
		}
		chat = append(chat, ChatMessage{Role: msg.Role, Content: msg.Content})
	}
	chat = append(chat, ChatMessage{Role: ChatRoleUser, Content: req.UserText})

	// 3. Invoke the model. Unrecoverable failure aborts the transaction: the
	// user gets a generic apology and no state changes are persisted.
	result, err := generate(ctx, []string{systemPrompt}, chat)
	if err != nil {
		span.RecordError(err)
		o.logger.Error("llm invocation failed, returning apology",
			"conversation_id", conv.ID, "error", err)
		return &Reply{
			ConversationID: conv.ID,
			Text:           apologyReply,
			Score:          scoreOf(lead),
			Priority:       priorityOf(lead),
			Lead:           lead,
			Actions:        []string{},
			Timestamp:      time.Now().UTC(),
		}, nil
	}
	visibleReply := StripHiddenBlock(result.Text)

	// 4. Extract entities from the raw user text plus the model reply.
	var existingProject map[string]any
	if lead != nil {
		existingProject = lead.ProjectData
	}
	entities := Extract(req.UserText, visibleReply, existingProject)

	// 5. Merge into the lead (skipped when the conversation has no lead).
	if lead != nil && !entities.Empty() {
		lead, err = o.merger.Merge(ctx, lead.ID, entities)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	// 6. Score and persist.
	if lead != nil {
		lead.Score = leads.Score(lead)
		lead.Priority = leads.PriorityForScore(lead.Score)
		if err := o.leadsRepo.Update(ctx, lead); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("conversation: persist score: %w", err)
		}
	}

	// 7. Persist both messages, user first.
	if err := o.store.AppendMessage(ctx, &Message{
		ConversationID: conv.ID,
		Role:           ChatRoleUser,
		Content:        req.UserText,
	}); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: persist user message: %w", err)
	}
	if err := o.store.AppendMessage(ctx, &Message{
		ConversationID: conv.ID,
		Role:           ChatRoleAssistant,
		Content:        visibleReply,
		Tokens:         int(result.Usage.TotalTokens),
		LatencyMs:      result.Latency.Milliseconds(),
	}); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: persist assistant message: %w", err)
	}
	o.invalidateContext(ctx, conv.ID)

	// 8. Fire due actions.
	actions, err := o.actions.Trigger(ctx, lead, conv)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if actions == nil {
		actions = []string{}
	}

	span.SetAttributes(
		attribute.Int("movario.lead.score", scoreOf(lead)),
		attribute.Int("movario.actions.fired", len(actions)),
	)

	// 9. Final summary.
	return &Reply{
		ConversationID: conv.ID,
		Text:           visibleReply,
		Score:          scoreOf(lead),
		Priority:       priorityOf(lead),
		Lead:           lead,
		Actions:        actions,
		Metadata: Metadata{
			TokensUsed: int(result.Usage.TotalTokens),
			LatencyMs:  result.Latency.Milliseconds(),
			Extracted:  entities,
		},
		Timestamp: time.Now().UTC(),
	}, nil
}

// GetHistory returns the persisted message sequence, oldest first. The lookup
// is tenant-scoped: a conversation belonging to another tenant reads as not
// found, never as someone else's transcript.
func (o *Orchestrator) GetHistory(ctx context.Context, conversationID, tenantID string) ([]Message, error) {
	if _, err := o.store.GetConversation(ctx, conversationID, tenantID); err != nil {
		return nil, err
	}
	return o.store.ListMessages(ctx, conversationID)
}

// ListConversations pages a tenant's conversations, optionally by status.
func (o *Orchestrator) ListConversations(ctx context.Context, tenantID string, opts ListOptions) ([]Conversation, error) {
	return o.store.ListConversations(ctx, tenantID, opts)
}

// RateConversation records the prospect's satisfaction rating (1-5) on the
// conversation's lead. Tenant-scoped like GetHistory.
func (o *Orchestrator) RateConversation(ctx context.Context, conversationID, tenantID string, rating int) error {
	if rating < 1 || rating > 5 {
		return fmt.Errorf("conversation: rating %d out of range 1-5", rating)
	}
	conv, err := o.store.GetConversation(ctx, conversationID, tenantID)
	if err != nil {
		return err
	}
	lead, err := o.leadsRepo.GetByID(ctx, conv.LeadID)
	if err != nil {
		return fmt.Errorf("conversation: load lead for rating: %w", err)
	}
	lead.Satisfaction = rating
	if err := o.leadsRepo.Update(ctx, lead); err != nil {
		return fmt.Errorf("conversation: persist rating: %w", err)
	}
	return nil
}

// CloseConversation is the explicit administrative transition to closed. The
// ownership check runs before the status write so a foreign tenant cannot
// close the conversation.
func (o *Orchestrator) CloseConversation(ctx context.Context, conversationID, tenantID string) error {
	if _, err := o.store.GetConversation(ctx, conversationID, tenantID); err != nil {
		return err
	}
	if err := o.store.UpdateStatus(ctx, conversationID, StatusClosed); err != nil {
		return err
	}
	o.invalidateContext(ctx, conversationID)
	return nil
}

// loadHistory is read-through: cache hit, otherwise storage then cache fill.
func (o *Orchestrator) loadHistory(ctx context.Context, conversationID string) ([]Message, error) {
	if o.cache != nil {
		cached, err := o.cache.Load(ctx, conversationID)
		if err != nil {
			o.logger.Warn("context cache read failed", "conversation_id", conversationID, "error", err)
		} else if cached != nil {
			return cached.Messages, nil
		}
	}

	messages, err := o.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("conversation: load history: %w", err)
	}

	if o.cache != nil {
		if err := o.cache.Save(ctx, conversationID, &turnContext{Messages: messages}); err != nil {
			o.logger.Warn("context cache write failed", "conversation_id", conversationID, "error", err)
		}
	}
	return messages, nil
}

func (o *Orchestrator) invalidateContext(ctx context.Context, conversationID string) {
	if o.cache == nil {
		return
	}
	if err := o.cache.Invalidate(ctx, conversationID); err != nil {
		o.logger.Warn("context cache invalidation failed", "conversation_id", conversationID, "error", err)
	}
}

func scoreOf(lead *leads.Lead) int {
	if lead == nil {
		return 0
	}
	return lead.Score
}

func priorityOf(lead *leads.Lead) leads.Priority {
	if lead == nil {
		return leads.PriorityCold
	}
	return lead.Priority
}
