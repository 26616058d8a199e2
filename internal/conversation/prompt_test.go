package conversation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/movario/moving-ai-platform/internal/business"
	"github.com/movario/moving-ai-platform/internal/leads"
)

type fixedDistance struct {
	km  float64
	err error
}

func (d fixedDistance) DistanceKm(_ context.Context, _, _ string) (float64, error) {
	return d.km, d.err
}

func qualifiedLead() *leads.Lead {
	return &leads.Lead{
		ID:        "lead-1",
		TenantID:  "tenant-1",
		FirstName: "Marie",
		Email:     "marie@exemple.fr",
		Phone:     "0612345678",
		ProjectData: map[string]any{
			leads.KeyOriginCity:      "Paris",
			leads.KeyOriginPostcode:  "75011",
			leads.KeyDestinationCity: "Lyon",
			leads.KeyVolume:          30.0,
		},
		Score: 75,
	}
}

func TestBuildPromptStructure(t *testing.T) {
	builder := NewPromptBuilder(nil, 0, nil)
	cfg := business.DefaultConfig("tenant-1")
	cfg.Name = "Déménagements Durand"

	prompt := builder.Build(context.Background(), cfg, nil)

	if !strings.Contains(prompt, "Déménagements Durand") {
		t.Error("company name missing from static segment")
	}
	if !strings.Contains(prompt, promptSegmentSeparator) {
		t.Error("segment separator missing")
	}
	static, _, found := strings.Cut(prompt, promptSegmentSeparator)
	if !found {
		t.Fatal("prompt not split by separator")
	}
	if strings.Contains(static, "inconnu") {
		t.Error("dynamic content leaked into the static segment")
	}
	if !strings.Contains(prompt, hiddenBlockStart) {
		t.Error("hidden data block missing")
	}
}

func TestBuildPromptStaticSegmentStableAcrossLeads(t *testing.T) {
	builder := NewPromptBuilder(nil, 0, nil)
	cfg := business.DefaultConfig("tenant-1")

	first, _, _ := strings.Cut(builder.Build(context.Background(), cfg, nil), promptSegmentSeparator)
	second, _, _ := strings.Cut(builder.Build(context.Background(), cfg, qualifiedLead()), promptSegmentSeparator)

	if first != second {
		t.Error("static segment must be byte-identical across leads for one tenant")
	}
}

func TestBuildPromptDynamicChecklist(t *testing.T) {
	builder := NewPromptBuilder(nil, 0, nil)
	prompt := builder.Build(context.Background(), business.DefaultConfig("tenant-1"), qualifiedLead())

	if !strings.Contains(prompt, "Ville de départ : Paris (75011)") {
		t.Errorf("origin line missing:\n%s", prompt)
	}
	if !strings.Contains(prompt, "Ville d'arrivée : Lyon") {
		t.Error("destination line missing")
	}
	if !strings.Contains(prompt, "Taille du logement : 30 m³") {
		t.Error("size line missing")
	}
	if !strings.Contains(prompt, "Nom : inconnu") {
		t.Error("missing fields must read inconnu")
	}
}

func TestBuildPromptPriceRange(t *testing.T) {
	builder := NewPromptBuilder(fixedDistance{km: 400}, 0, nil)
	prompt := builder.Build(context.Background(), business.DefaultConfig("tenant-1"), qualifiedLead())

	if !strings.Contains(prompt, "Fourchette de prix estimée") {
		t.Errorf("price range missing:\n%s", prompt)
	}
}

func TestBuildPromptPriceRangeUsesFallbackDistance(t *testing.T) {
	builder := NewPromptBuilder(fixedDistance{err: errors.New("api down")}, 250, nil)
	prompt := builder.Build(context.Background(), business.DefaultConfig("tenant-1"), qualifiedLead())

	if !strings.Contains(prompt, "Fourchette de prix estimée") {
		t.Error("distance failure must degrade to fallback, not drop the estimate")
	}
}

func TestBuildPromptPriceRangeRequiresContact(t *testing.T) {
	builder := NewPromptBuilder(fixedDistance{km: 400}, 0, nil)
	lead := qualifiedLead()
	lead.Phone = ""

	prompt := builder.Build(context.Background(), business.DefaultConfig("tenant-1"), lead)
	if strings.Contains(prompt, "Fourchette de prix estimée") {
		t.Error("price range shown without full contact details")
	}
}

func TestBuildPromptPriceRangeFlagOptOut(t *testing.T) {
	builder := NewPromptBuilder(fixedDistance{km: 400}, 0, nil)
	cfg := business.DefaultConfig("tenant-1")
	cfg.FeatureFlags["price_estimates"] = false

	prompt := builder.Build(context.Background(), cfg, qualifiedLead())
	if strings.Contains(prompt, "Fourchette de prix estimée") {
		t.Error("price range shown despite opt-out flag")
	}
}

func TestHiddenBlockForLead(t *testing.T) {
	block := hiddenBlockFor(qualifiedLead())

	if !strings.HasPrefix(block, hiddenBlockStart) || !strings.HasSuffix(block, hiddenBlockEnd) {
		t.Fatalf("malformed block: %q", block)
	}
	payload, ok := ParseHiddenBlock(block)
	if !ok {
		t.Fatal("block does not parse")
	}
	if payload["prenom"] != "Marie" || payload["villeDepart"] != "Paris" {
		t.Errorf("payload: %v", payload)
	}
	if payload["score"] != 75.0 {
		t.Errorf("score: %v", payload["score"])
	}
}
