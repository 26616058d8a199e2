package tenancy

import (
	"context"
	"testing"
)

func TestTenantIDRoundTrip(t *testing.T) {
	ctx := WithTenantID(context.Background(), "tenant-1")
	got, ok := TenantIDFromContext(ctx)
	if !ok || got != "tenant-1" {
		t.Errorf("got %q, %v", got, ok)
	}
}

func TestTenantIDAbsent(t *testing.T) {
	if _, ok := TenantIDFromContext(context.Background()); ok {
		t.Error("expected no tenant id")
	}
}

func TestTenantIDEmptyTreatedAsAbsent(t *testing.T) {
	ctx := WithTenantID(context.Background(), "")
	if _, ok := TenantIDFromContext(ctx); ok {
		t.Error("empty tenant id must not count as present")
	}
}
