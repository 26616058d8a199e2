package conversation

import (
	"context"
	"fmt"

	"github.com/movario/moving-ai-platform/internal/leads"
)

// Merger folds per-turn extractions into the persistent lead record.
type Merger struct {
	repo leads.Repository
}

func NewMerger(repo leads.Repository) *Merger {
	if repo == nil {
		panic("conversation: leads repository cannot be nil")
	}
	return &Merger{repo: repo}
}

// Merge applies entities to the lead and persists the result. Identity fields
// are overwritten by any non-empty extracted value: a fresh extraction is
// assumed more correct than what was stored. Project-data merges key by key,
// new values overwriting old ones; keys absent from the extraction keep their
// prior values. Returns leads.ErrLeadNotFound when the id is unknown.
func (m *Merger) Merge(ctx context.Context, leadID string, entities Entities) (*leads.Lead, error) {
	lead, err := m.repo.GetByID(ctx, leadID)
	if err != nil {
		return nil, fmt.Errorf("conversation: merge lead %s: %w", leadID, err)
	}

	if entities.FirstName != "" {
		lead.FirstName = entities.FirstName
	}
	if entities.LastName != "" {
		lead.LastName = entities.LastName
	}
	if entities.Email != "" {
		lead.Email = entities.Email
	}
	if entities.Phone != "" {
		lead.Phone = entities.Phone
	}

	if len(entities.Project) > 0 {
		if lead.ProjectData == nil {
			lead.ProjectData = make(map[string]any, len(entities.Project))
		}
		for key, value := range entities.Project {
			lead.ProjectData[key] = value
		}
	}

	if err := m.repo.Update(ctx, lead); err != nil {
		return nil, fmt.Errorf("conversation: persist merged lead %s: %w", leadID, err)
	}
	return lead, nil
}
