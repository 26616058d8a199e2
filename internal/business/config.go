// Package business provides per-tenant mover configuration and business logic.
package business

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// PricingCoefficients drive the estimated price range shown during a
// conversation. All amounts are euros.
type PricingCoefficients struct {
	// BasePerM3 is the per-cubic-meter price of the standard tier.
	BasePerM3 float64 `json:"base_per_m3"`
	// PerKm is added per kilometer of the trip, independent of volume.
	PerKm float64 `json:"per_km"`
	// TierMultipliers adjusts the total per service tier (eco/standard/premium).
	TierMultipliers map[string]float64 `json:"tier_multipliers,omitempty"`
	// RangeSpread widens the estimate into [low, high]; 0.15 means ±15%.
	RangeSpread float64 `json:"range_spread"`
}

// Config holds mover-specific configuration. Owned by tenant administration;
// read-only from the conversation pipeline's perspective.
type Config struct {
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
	City     string `json:"city,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty"`

	// ServiceAreaKm bounds the radius the mover serves from its home city.
	ServiceAreaKm float64 `json:"service_area_km"`

	Pricing PricingCoefficients `json:"pricing"`

	// FeatureFlags toggles optional behavior (e.g. "price_estimates",
	// "crm_push") without redeploying.
	FeatureFlags map[string]bool `json:"feature_flags,omitempty"`

	// ExtraInstructions is free text appended to the assistant's sales rules.
	ExtraInstructions string `json:"extra_instructions,omitempty"`

	Greeting string `json:"greeting,omitempty"`
}

// Flag reports a feature flag with a default of false.
func (c *Config) Flag(name string) bool {
	if c == nil || c.FeatureFlags == nil {
		return false
	}
	return c.FeatureFlags[name]
}

// TierMultiplier returns the pricing multiplier for a service tier,
// defaulting to 1.
func (c *Config) TierMultiplier(tier string) float64 {
	if c == nil || c.Pricing.TierMultipliers == nil {
		return 1
	}
	if m, ok := c.Pricing.TierMultipliers[strings.ToLower(strings.TrimSpace(tier))]; ok && m > 0 {
		return m
	}
	return 1
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig(tenantID string) *Config {
	return &Config{
		TenantID:      tenantID,
		Name:          "Déménagements Express",
		City:          "Paris",
		ServiceAreaKm: 800,
		Pricing: PricingCoefficients{
			BasePerM3: 45,
			PerKm:     1.2,
			TierMultipliers: map[string]float64{
				"eco":      0.8,
				"standard": 1.0,
				"premium":  1.5,
			},
			RangeSpread: 0.15,
		},
		FeatureFlags: map[string]bool{
			"price_estimates": true,
			"crm_push":        true,
		},
		Greeting: "Bonjour ! Je suis votre assistant déménagement. Parlez-moi de votre projet : d'où partez-vous, et pour aller où ?",
	}
}

const configTTL = 10 * time.Minute

// Store caches tenant configs in Redis in front of a slower source of truth.
// The cache is read-through with a bounded TTL; Set writes through and
// refreshes the cached copy.
type Store struct {
	redis *redis.Client
}

// NewStore creates a tenant config store.
func NewStore(redisClient *redis.Client) *Store {
	return &Store{redis: redisClient}
}

func (s *Store) key(tenantID string) string {
	return fmt.Sprintf("business:config:%s", tenantID)
}

// Get retrieves a tenant config, returning the default when none is stored.
func (s *Store) Get(ctx context.Context, tenantID string) (*Config, error) {
	data, err := s.redis.Get(ctx, s.key(tenantID)).Bytes()
	if err == redis.Nil {
		return DefaultConfig(tenantID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("business: get config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("business: unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Set saves a tenant config.
func (s *Store) Set(ctx context.Context, cfg *Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("business: marshal config: %w", err)
	}
	if err := s.redis.Set(ctx, s.key(cfg.TenantID), data, configTTL).Err(); err != nil {
		return fmt.Errorf("business: set config: %w", err)
	}
	return nil
}

// Invalidate drops the cached config for a tenant.
func (s *Store) Invalidate(ctx context.Context, tenantID string) error {
	if err := s.redis.Del(ctx, s.key(tenantID)).Err(); err != nil {
		return fmt.Errorf("business: invalidate config: %w", err)
	}
	return nil
}
