package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const defaultContextTTL = 15 * time.Minute

// turnContext is the per-conversation material the orchestrator needs on every
// message: the message history it feeds back to the model.
type turnContext struct {
	Messages []Message `json:"messages"`
}

// ContextCache is a read-through Redis cache in front of the message store.
// Entries carry a bounded TTL and are explicitly invalidated whenever history
// or the lead changes, so a stale snapshot is never served within the window.
type ContextCache struct {
	redis  *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
}

func NewContextCache(redisClient *redis.Client, ttl time.Duration) *ContextCache {
	if redisClient == nil {
		panic("conversation: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = defaultContextTTL
	}
	return &ContextCache{
		redis:  redisClient,
		ttl:    ttl,
		tracer: otel.Tracer("movario.internal.conversation.cache"),
	}
}

func contextKey(conversationID string) string {
	return fmt.Sprintf("conversation:context:%s", conversationID)
}

// Load returns the cached context, or (nil, nil) on a miss.
func (c *ContextCache) Load(ctx context.Context, conversationID string) (*turnContext, error) {
	ctx, span := c.tracer.Start(ctx, "conversation.cache.load")
	defer span.End()

	data, err := c.redis.Get(ctx, contextKey(conversationID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: load cached context: %w", err)
	}

	var cached turnContext
	if err := json.Unmarshal(data, &cached); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: decode cached context: %w", err)
	}
	return &cached, nil
}

func (c *ContextCache) Save(ctx context.Context, conversationID string, tc *turnContext) error {
	ctx, span := c.tracer.Start(ctx, "conversation.cache.save")
	defer span.End()

	data, err := json.Marshal(tc)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: encode context: %w", err)
	}
	if err := c.redis.Set(ctx, contextKey(conversationID), data, c.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: cache context: %w", err)
	}
	return nil
}

// Invalidate drops the cached context after any write to history or the lead.
func (c *ContextCache) Invalidate(ctx context.Context, conversationID string) error {
	ctx, span := c.tracer.Start(ctx, "conversation.cache.invalidate")
	defer span.End()

	if err := c.redis.Del(ctx, contextKey(conversationID)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: invalidate context: %w", err)
	}
	return nil
}
