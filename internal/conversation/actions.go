package conversation

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/movario/moving-ai-platform/internal/leads"
	"github.com/movario/moving-ai-platform/pkg/logging"
)

// Action identifiers returned by the trigger.
const (
	ActionNotificationQueued    = "notification_queued"
	ActionCRMPushQueued         = "crm_push_queued"
	ActionConversationQualified = "conversation_qualified"
)

// qualificationThreshold is the score at which a lead is considered qualified.
const qualificationThreshold = 70

var actionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "movario",
		Subsystem: "conversation",
		Name:      "actions_total",
		Help:      "Downstream actions fired by the trigger",
	},
	[]string{"action"},
)

func init() {
	prometheus.MustRegister(actionsTotal)
}

// Notifier tells the sales team about a qualified lead.
type Notifier interface {
	NotifyQualifiedLead(ctx context.Context, lead *leads.Lead) error
}

// CRMPusher sends a lead snapshot to the tenant's CRM.
type CRMPusher interface {
	PushLead(ctx context.Context, lead *leads.Lead) error
}

// ActionTrigger fires at-most-once side effects from the updated lead state.
// Idempotence comes from persisted flags on the lead and the conversation
// status: once a flag is set or the status has moved past active, the
// corresponding action never fires again.
type ActionTrigger struct {
	repo     leads.Repository
	store    Store
	notifier Notifier
	crm      CRMPusher
	logger   *logging.Logger
}

// NewActionTrigger wires the trigger. notifier and crm may be nil; the
// corresponding flags are still set so the action fires exactly once when the
// collaborator is configured later.
func NewActionTrigger(repo leads.Repository, store Store, notifier Notifier, crm CRMPusher, logger *logging.Logger) *ActionTrigger {
	if repo == nil {
		panic("conversation: leads repository cannot be nil")
	}
	if store == nil {
		panic("conversation: conversation store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ActionTrigger{
		repo:     repo,
		store:    store,
		notifier: notifier,
		crm:      crm,
		logger:   logger,
	}
}

// Trigger inspects the lead and conversation and fires whichever sub-actions
// are due. Each sub-action is independent; any subset may fire in one call.
// Dispatch failures are logged, not propagated: the action is "queued" once
// its flag is set.
func (t *ActionTrigger) Trigger(ctx context.Context, lead *leads.Lead, conv *Conversation) ([]string, error) {
	if lead == nil || conv == nil {
		return nil, nil
	}

	var fired []string
	leadDirty := false

	if lead.Score >= qualificationThreshold && !lead.NotificationSent {
		if t.notifier != nil {
			if err := t.notifier.NotifyQualifiedLead(ctx, lead); err != nil {
				t.logger.Error("lead notification dispatch failed", "lead_id", lead.ID, "error", err)
			}
		}
		lead.NotificationSent = true
		leadDirty = true
		fired = append(fired, ActionNotificationQueued)
	}

	if lead.HasContact() && !lead.CRMPushed {
		if t.crm != nil {
			if err := t.crm.PushLead(ctx, lead); err != nil {
				t.logger.Error("crm push dispatch failed", "lead_id", lead.ID, "error", err)
			}
		}
		lead.CRMPushed = true
		leadDirty = true
		fired = append(fired, ActionCRMPushQueued)
	}

	if lead.Score >= qualificationThreshold && conv.Status == StatusActive {
		if err := t.store.UpdateStatus(ctx, conv.ID, StatusQualified); err != nil {
			return fired, fmt.Errorf("conversation: qualify conversation %s: %w", conv.ID, err)
		}
		conv.Status = StatusQualified
		fired = append(fired, ActionConversationQualified)
	}

	if leadDirty {
		if err := t.repo.Update(ctx, lead); err != nil {
			return fired, fmt.Errorf("conversation: persist action flags for lead %s: %w", lead.ID, err)
		}
	}

	for _, action := range fired {
		actionsTotal.WithLabelValues(action).Inc()
		t.logger.Info("action fired", "action", action, "lead_id", lead.ID, "score", lead.Score)
	}
	return fired, nil
}
