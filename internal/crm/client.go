// Package crm pushes qualified leads to an external CRM over a webhook.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/movario/moving-ai-platform/internal/leads"
	"github.com/movario/moving-ai-platform/pkg/logging"
)

// Pusher sends a lead snapshot to the tenant's CRM.
type Pusher interface {
	PushLead(ctx context.Context, lead *leads.Lead) error
}

// WebhookClient posts lead snapshots to a configured webhook URL.
type WebhookClient struct {
	url        string
	token      string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewWebhookClient creates a CRM webhook client. Returns nil when no URL is
// configured, which disables CRM pushes.
func NewWebhookClient(url, token string, logger *logging.Logger) *WebhookClient {
	if strings.TrimSpace(url) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookClient{
		url:        url,
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

type leadPayload struct {
	LeadID      string         `json:"lead_id"`
	TenantID    string         `json:"tenant_id"`
	FirstName   string         `json:"first_name,omitempty"`
	LastName    string         `json:"last_name,omitempty"`
	Email       string         `json:"email,omitempty"`
	Phone       string         `json:"phone,omitempty"`
	Score       int            `json:"score"`
	Priority    string         `json:"priority"`
	ProjectData map[string]any `json:"project_data,omitempty"`
}

// PushLead posts the lead to the webhook.
func (c *WebhookClient) PushLead(ctx context.Context, lead *leads.Lead) error {
	if c == nil {
		return errors.New("crm: webhook not configured")
	}
	if lead == nil {
		return errors.New("crm: lead is required")
	}

	body, err := json.Marshal(leadPayload{
		LeadID:      lead.ID,
		TenantID:    lead.TenantID,
		FirstName:   lead.FirstName,
		LastName:    lead.LastName,
		Email:       lead.Email,
		Phone:       lead.Phone,
		Score:       lead.Score,
		Priority:    string(lead.Priority),
		ProjectData: lead.ProjectData,
	})
	if err != nil {
		return fmt.Errorf("crm: encode lead: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("crm: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("crm: push lead: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("crm: push lead returned %d", resp.StatusCode)
	}

	c.logger.Info("crm lead pushed", "lead_id", lead.ID, "score", lead.Score)
	return nil
}
