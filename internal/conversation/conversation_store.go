package conversation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Status is the conversation lifecycle state. The orchestrator only ever
// promotes active → qualified automatically; abandoned and closed are reached
// through explicit administrative calls.
type Status string

const (
	StatusActive    Status = "active"
	StatusQualified Status = "qualified"
	StatusAbandoned Status = "abandoned"
	StatusClosed    Status = "closed"
)

// Conversation ties a message thread to a lead and a tenant.
type Conversation struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	LeadID    string    `json:"lead_id"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one turn of a conversation. Creation order is significant: it is
// the history order fed back to the model.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Tokens         int       `json:"tokens,omitempty"`
	LatencyMs      int64     `json:"latency_ms,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ListOptions filters and pages conversation listings.
type ListOptions struct {
	Status Status
	Limit  int
	Offset int
}

// Store persists conversations and their messages.
type Store interface {
	CreateConversation(ctx context.Context, tenantID, leadID string) (*Conversation, error)
	// GetConversation finds a conversation by id, scoped to the tenant when
	// tenantID is non-empty. Returns ErrConversationNotFound when missing.
	GetConversation(ctx context.Context, id, tenantID string) (*Conversation, error)
	UpdateStatus(ctx context.Context, id string, status Status) error
	ListConversations(ctx context.Context, tenantID string, opts ListOptions) ([]Conversation, error)
	AppendMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)
}

// DB is the subset of pgxpool.Pool the store needs. pgxmock satisfies it in
// tests.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore keeps conversations and messages in the relational database.
type PostgresStore struct {
	pool DB
}

func NewPostgresStore(pool DB) *PostgresStore {
	if pool == nil {
		panic("conversation: pgx pool required")
	}
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateConversation(ctx context.Context, tenantID, leadID string) (*Conversation, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, errors.New("conversation: tenant id is required")
	}

	id := uuid.New()
	query := `
		INSERT INTO conversations (id, tenant_id, lead_id, status)
		VALUES ($1, $2, $3, 'active')
		RETURNING created_at, updated_at
	`
	var createdAt, updatedAt time.Time
	if err := s.pool.QueryRow(ctx, query, id, tenantID, leadID).Scan(&createdAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("conversation: insert conversation: %w", err)
	}

	return &Conversation{
		ID:        id.String(),
		TenantID:  tenantID,
		LeadID:    leadID,
		Status:    StatusActive,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}, nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, id, tenantID string) (*Conversation, error) {
	query := `
		SELECT id, tenant_id, lead_id, status, created_at, updated_at
		FROM conversations
		WHERE id = $1 AND ($2 = '' OR tenant_id = $2)
	`
	row := s.pool.QueryRow(ctx, query, id, tenantID)

	var conv Conversation
	if err := row.Scan(&conv.ID, &conv.TenantID, &conv.LeadID, &conv.Status, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("conversation: select conversation: %w", err)
	}
	return &conv, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations SET status = $2, updated_at = now() WHERE id = $1`,
		id, status,
	)
	if err != nil {
		return fmt.Errorf("conversation: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConversationNotFound
	}
	return nil
}

func (s *PostgresStore) ListConversations(ctx context.Context, tenantID string, opts ListOptions) ([]Conversation, error) {
	limit := opts.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `
		SELECT id, tenant_id, lead_id, status, created_at, updated_at
		FROM conversations
		WHERE tenant_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := s.pool.Query(ctx, query, tenantID, string(opts.Status), limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("conversation: list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []Conversation
	for rows.Next() {
		var conv Conversation
		if err := rows.Scan(&conv.ID, &conv.TenantID, &conv.LeadID, &conv.Status, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("conversation: scan conversation: %w", err)
		}
		conversations = append(conversations, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversation: list conversations: %w", err)
	}
	return conversations, nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, msg *Message) error {
	if msg == nil {
		return errors.New("conversation: message is required")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	query := `
		INSERT INTO messages (id, conversation_id, role, content, tokens, latency_ms)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`
	if err := s.pool.QueryRow(ctx, query,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.Tokens, msg.LatencyMs,
	).Scan(&msg.CreatedAt); err != nil {
		return fmt.Errorf("conversation: insert message: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	query := `
		SELECT id, conversation_id, role, content, tokens, latency_ms, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY seq
	`
	rows, err := s.pool.Query(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("conversation: list messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &msg.Tokens, &msg.LatencyMs, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("conversation: scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversation: list messages: %w", err)
	}
	return messages, nil
}

// InMemoryStore is a map-backed Store for tests and local development.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	messages      map[string][]Message
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]Message),
	}
}

func (s *InMemoryStore) CreateConversation(_ context.Context, tenantID, leadID string) (*Conversation, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, errors.New("conversation: tenant id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	conv := &Conversation{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		LeadID:    leadID,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.conversations[conv.ID] = conv
	copied := *conv
	return &copied, nil
}

func (s *InMemoryStore) GetConversation(_ context.Context, id, tenantID string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok || (tenantID != "" && conv.TenantID != tenantID) {
		return nil, ErrConversationNotFound
	}
	copied := *conv
	return &copied, nil
}

func (s *InMemoryStore) UpdateStatus(_ context.Context, id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return ErrConversationNotFound
	}
	conv.Status = status
	conv.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryStore) ListConversations(_ context.Context, tenantID string, opts ListOptions) ([]Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []Conversation
	for _, conv := range s.conversations {
		if conv.TenantID != tenantID {
			continue
		}
		if opts.Status != "" && conv.Status != opts.Status {
			continue
		}
		all = append(all, *conv)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	if opts.Offset >= len(all) {
		return nil, nil
	}
	all = all[opts.Offset:]
	if opts.Limit > 0 && len(all) > opts.Limit {
		all = all[:opts.Limit]
	}
	return all, nil
}

func (s *InMemoryStore) AppendMessage(_ context.Context, msg *Message) error {
	if msg == nil {
		return errors.New("conversation: message is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], *msg)
	return nil
}

func (s *InMemoryStore) ListMessages(_ context.Context, conversationID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[conversationID]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}
