package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/movario/moving-ai-platform/internal/business"
	"github.com/movario/moving-ai-platform/internal/leads"
	"github.com/movario/moving-ai-platform/pkg/logging"
)

// ConfigSource resolves the tenant's mover configuration, which carries the
// sales inbox the alert goes to. *business.Store satisfies it.
type ConfigSource interface {
	Get(ctx context.Context, tenantID string) (*business.Config, error)
}

// Service emails the mover's sales team when a lead qualifies. It implements
// conversation.Notifier.
type Service struct {
	email   EmailSender
	configs ConfigSource
	logger  *logging.Logger
}

// NewService creates a notification service.
func NewService(email EmailSender, configs ConfigSource, logger *logging.Logger) *Service {
	if email == nil {
		panic("notify: email sender cannot be nil")
	}
	if configs == nil {
		panic("notify: config source cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		email:   email,
		configs: configs,
		logger:  logger,
	}
}

// NotifyQualifiedLead sends the lead summary to the tenant's sales inbox. A
// tenant without a configured email address is logged and skipped, not an
// error: the flag on the lead still marks the notification as handled.
func (s *Service) NotifyQualifiedLead(ctx context.Context, lead *leads.Lead) error {
	if lead == nil {
		return nil
	}

	cfg, err := s.configs.Get(ctx, lead.TenantID)
	if err != nil {
		return fmt.Errorf("notify: load tenant config: %w", err)
	}
	if strings.TrimSpace(cfg.Email) == "" {
		s.logger.Warn("no sales inbox configured, skipping lead alert",
			"tenant_id", lead.TenantID, "lead_id", lead.ID)
		return nil
	}

	msg := EmailMessage{
		To:      cfg.Email,
		ToName:  cfg.Name,
		Subject: leadSubject(lead),
		Body:    leadBody(lead),
	}
	if err := s.email.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: send lead alert: %w", err)
	}

	s.logger.Info("qualified lead alert sent",
		"tenant_id", lead.TenantID,
		"lead_id", lead.ID,
		"score", lead.Score,
		"priority", lead.Priority,
	)
	return nil
}

func leadSubject(lead *leads.Lead) string {
	name := displayName(lead)
	return fmt.Sprintf("Nouveau lead qualifié : %s (%d/100)", name, lead.Score)
}

// leadBody renders the plain-text summary the sales team reads before calling
// back. Only known fields appear.
func leadBody(lead *leads.Lead) string {
	var b strings.Builder
	b.WriteString("Un prospect vient d'être qualifié par l'assistant.\n\n")

	writeLine := func(label, value string) {
		if value != "" {
			fmt.Fprintf(&b, "%s : %s\n", label, value)
		}
	}

	writeLine("Nom", displayName(lead))
	writeLine("Email", lead.Email)
	writeLine("Téléphone", lead.Phone)
	writeLine("Départ", locationLine(lead, leads.KeyOriginCity, leads.KeyOriginPostcode))
	writeLine("Arrivée", locationLine(lead, leads.KeyDestinationCity, leads.KeyDestPostcode))
	if volume, ok := leads.EstimatedVolume(lead); ok {
		writeLine("Volume estimé", fmt.Sprintf("%.0f m³", volume))
	}
	writeLine("Date souhaitée", lead.ProjectString(leads.KeyDesiredDate))
	writeLine("Formule", lead.ProjectString(leads.KeyServiceTier))

	fmt.Fprintf(&b, "\nScore : %d/100 (priorité %s)\n", lead.Score, lead.Priority)
	b.WriteString("À rappeler sous 24h ouvrées.\n")
	return b.String()
}

func displayName(lead *leads.Lead) string {
	name := strings.TrimSpace(lead.FirstName + " " + lead.LastName)
	if name == "" {
		return "prospect anonyme"
	}
	return name
}

func locationLine(lead *leads.Lead, cityKey, postcodeKey string) string {
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
