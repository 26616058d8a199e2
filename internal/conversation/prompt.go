package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/movario/moving-ai-platform/internal/business"
	"github.com/movario/moving-ai-platform/internal/geo"
	"github.com/movario/moving-ai-platform/internal/leads"
	"github.com/movario/moving-ai-platform/internal/pricing"
	"github.com/movario/moving-ai-platform/pkg/logging"
)

// promptSegmentSeparator splits the cacheable static segment from the volatile
// dynamic one. Everything before it is byte-identical across turns for a given
// tenant, so upstream prompt caches can key on it.
const promptSegmentSeparator = "===== CONTEXTE DU PROSPECT ====="

const staticPromptTemplate = `Tu es l'assistant commercial de %s, une entreprise de déménagement basée à %s (rayon d'intervention : %.0f km).

RÈGLES DE FORME :
- Réponds toujours en français, sur un ton chaleureux et professionnel.
- Messages courts : 2 à 3 phrases maximum, pas de listes à puces, pas de markdown.
- Une seule question par message.

RÈGLES DE VENTE :
- Ton objectif est de qualifier le projet de déménagement, pas de conclure la vente toi-même.
- Ne promets jamais de date ni de prix ferme : seule l'équipe confirme après visite ou appel.
- Si le prospect demande un prix, donne la fourchette estimée du CONTEXTE quand elle existe, sinon explique qu'il manque le volume ou les villes.
- Quand le prospect a donné email ET téléphone, annonce qu'un conseiller le rappelle sous 24h ouvrées. C'est la phrase de déclenchement : "Un conseiller vous rappelle sous 24h ouvrées."

ÉTAPES DE QUALIFICATION (dans cet ordre, sans re-demander ce qui est déjà connu) :
1. Ville de départ et ville d'arrivée.
2. Taille du logement : surface (m²), nombre de pièces ou volume (m³).
3. Date souhaitée du déménagement.
4. Étage et présence d'un ascenseur.
5. Formule souhaitée : eco, standard ou premium.
6. Prénom, nom, email et téléphone pour être rappelé.

À LA FIN DE CHAQUE RÉPONSE, recopie exactement le bloc de données du CONTEXTE, à l'identique, y compris ses délimiteurs. Ne le mentionne jamais dans le texte visible.`

// PromptBuilder renders the system prompt from tenant config plus the current
// lead snapshot. Not pure: the dynamic segment may resolve the trip distance
// through an external lookup, degrading to a fixed fallback on any failure.
type PromptBuilder struct {
	distance   geo.DistanceClient
	fallbackKm float64
	logger     *logging.Logger
}

func NewPromptBuilder(distance geo.DistanceClient, fallbackKm float64, logger *logging.Logger) *PromptBuilder {
	if fallbackKm <= 0 {
		fallbackKm = 200
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &PromptBuilder{
		distance:   distance,
		fallbackKm: fallbackKm,
		logger:     logger,
	}
}

// Build assembles static segment + separator + dynamic segment + hidden data
// block.
func (b *PromptBuilder) Build(ctx context.Context, cfg *business.Config, lead *leads.Lead) string {
	var prompt strings.Builder
	prompt.WriteString(b.staticSegment(cfg))
	prompt.WriteString("\n\n")
	prompt.WriteString(promptSegmentSeparator)
	prompt.WriteString("\n")
	prompt.WriteString(b.dynamicSegment(ctx, cfg, lead))
	prompt.WriteString("\n\nBloc de données à recopier tel quel en fin de réponse :\n")
	prompt.WriteString(hiddenBlockFor(lead))
	return prompt.String()
}

func (b *PromptBuilder) staticSegment(cfg *business.Config) string {
	name := "votre déménageur"
	city := "France"
	areaKm := 800.0
	if cfg != nil {
		if strings.TrimSpace(cfg.Name) != "" {
			name = cfg.Name
		}
		if strings.TrimSpace(cfg.City) != "" {
			city = cfg.City
		}
		if cfg.ServiceAreaKm > 0 {
			areaKm = cfg.ServiceAreaKm
		}
	}

	segment := fmt.Sprintf(staticPromptTemplate, name, city, areaKm)
	if cfg != nil && strings.TrimSpace(cfg.ExtraInstructions) != "" {
		segment += "\n\nCONSIGNES SPÉCIFIQUES DE L'ENTREPRISE :\n" + strings.TrimSpace(cfg.ExtraInstructions)
	}
	return segment
}

// dynamicSegment is the per-turn checklist of known and missing lead fields,
// plus a price range once volume, distance and contact identity are known.
func (b *PromptBuilder) dynamicSegment(ctx context.Context, cfg *business.Config, lead *leads.Lead) string {
	var seg strings.Builder
	seg.WriteString("État de la qualification :\n")

	writeItem := func(label, value string) {
		if value != "" {
			seg.WriteString(fmt.Sprintf("- %s : %s\n", label, value))
		} else {
			seg.WriteString(fmt.Sprintf("- %s : inconnu\n", label))
		}
	}

	if lead == nil {
		lead = &leads.Lead{}
	}

	writeItem("Prénom", lead.FirstName)
	writeItem("Nom", lead.LastName)
	writeItem("Email", lead.Email)
	writeItem("Téléphone", lead.Phone)
	writeItem("Ville de départ", locationLabel(lead, leads.KeyOriginCity, leads.KeyOriginPostcode))
	writeItem("Ville d'arrivée", locationLabel(lead, leads.KeyDestinationCity, leads.KeyDestPostcode))
	writeItem("Taille du logement", sizeLabel(lead))
	writeItem("Date souhaitée", lead.ProjectString(leads.KeyDesiredDate))
	writeItem("Formule", lead.ProjectString(leads.KeyServiceTier))

	if estimate, ok := b.priceRange(ctx, cfg, lead); ok {
		seg.WriteString(fmt.Sprintf("- Fourchette de prix estimée : %d à %d €\n", estimate.LowEuros, estimate.HighEuros))
	}

	return strings.TrimRight(seg.String(), "\n")
}

// priceRange computes the price bracket once volume, both cities and contact
// identity are known. Distance failures degrade to the fallback distance
// rather than failing the prompt build.
func (b *PromptBuilder) priceRange(ctx context.Context, cfg *business.Config, lead *leads.Lead) (pricing.Estimate, bool) {
	// Missing flag map means the tenant never opted out.
	if cfg != nil && cfg.FeatureFlags != nil && !cfg.Flag("price_estimates") {
		return pricing.Estimate{}, false
	}
	if !lead.HasContact() {
		return pricing.Estimate{}, false
	}
	volume, ok := leads.EstimatedVolume(lead)
	if !ok {
		return pricing.Estimate{}, false
	}

	origin := lead.ProjectString(leads.KeyOriginCity)
	dest := lead.ProjectString(leads.KeyDestinationCity)
	if origin == "" || dest == "" {
		return pricing.Estimate{}, false
	}

	distanceKm := b.fallbackKm
	if b.distance != nil {
		if km, err := b.distance.DistanceKm(ctx, origin, dest); err != nil {
			b.logger.Warn("distance lookup failed, using fallback",
				"origin", origin, "destination", dest,
				"fallback_km", b.fallbackKm, "error", err)
		} else {
			distanceKm = km
		}
	}

	tier := lead.ProjectString(leads.KeyServiceTier)
	if tier == "" {
		tier = "standard"
	}
	return pricing.EstimateRange(cfg, volume, distanceKm, tier)
}

// hiddenBlockFor serializes the lead snapshot into the hidden data block the
// model must echo back verbatim.
func hiddenBlockFor(lead *leads.Lead) string {
	snapshot := map[string]any{}
	if lead != nil {
		if lead.FirstName != "" {
			snapshot["prenom"] = lead.FirstName
		}
		if lead.LastName != "" {
			snapshot["nom"] = lead.LastName
		}
		if lead.Email != "" {
			snapshot["email"] = lead.Email
		}
		if lead.Phone != "" {
			snapshot["telephone"] = lead.Phone
		}
		for key, value := range lead.ProjectData {
			snapshot[key] = value
		}
		snapshot["score"] = lead.Score
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		data = []byte("{}")
	}
	return hiddenBlockStart + string(data) + hiddenBlockEnd
}

func locationLabel(lead *leads.Lead, cityKey, postcodeKey string) string {
	city := lead.ProjectString(cityKey)
	code := lead.ProjectString(postcodeKey)
	switch {
	case city != "" && code != "":
		return fmt.Sprintf("%s (%s)", city, code)
	case city != "":
		return city
	default:
		return code
	}
}

func sizeLabel(lead *leads.Lead) string {
	if v, ok := lead.ProjectFloat(leads.KeyVolume); ok {
		return fmt.Sprintf("%.0f m³", v)
	}
	if s, ok := lead.ProjectFloat(leads.KeySurface); ok {
		return fmt.Sprintf("%.0f m²", s)
	}
	if r, ok := lead.ProjectFloat(leads.KeyRooms); ok {
		return fmt.Sprintf("%.0f pièces", r)
	}
	return ""
}
