package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testCache(t *testing.T) (*ContextCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewContextCache(client, 0), mr
}

func TestContextCacheMissReturnsNil(t *testing.T) {
	cache, _ := testCache(t)

	cached, err := cache.Load(context.Background(), "conv-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cached != nil {
		t.Errorf("expected a miss, got %+v", cached)
	}
}

func TestContextCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	cache, _ := testCache(t)

	saved := &turnContext{Messages: []Message{
		{ID: "m1", ConversationID: "conv-1", Role: ChatRoleAssistant, Content: "Bonjour !"},
		{ID: "m2", ConversationID: "conv-1", Role: ChatRoleUser, Content: "Je déménage bientôt"},
	}}
	if err := cache.Save(ctx, "conv-1", saved); err != nil {
		t.Fatalf("save: %v", err)
	}

	cached, err := cache.Load(ctx, "conv-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cached == nil || len(cached.Messages) != 2 {
		t.Fatalf("cached: %+v", cached)
	}
	if cached.Messages[1].Content != "Je déménage bientôt" {
		t.Errorf("content: %q", cached.Messages[1].Content)
	}
}

func TestContextCacheInvalidate(t *testing.T) {
	ctx := context.Background()
	cache, _ := testCache(t)

	if err := cache.Save(ctx, "conv-1", &turnContext{}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := cache.Invalidate(ctx, "conv-1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	cached, err := cache.Load(ctx, "conv-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cached != nil {
		t.Error("entry survived invalidation")
	}
}

func TestContextCacheEntriesExpire(t *testing.T) {
	ctx := context.Background()
	cache, mr := testCache(t)

	if err := cache.Save(ctx, "conv-1", &turnContext{}); err != nil {
		t.Fatalf("save: %v", err)
	}
	mr.FastForward(defaultContextTTL + time.Minute)

	cached, err := cache.Load(ctx, "conv-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cached != nil {
		t.Error("entry survived past its TTL")
	}
}
