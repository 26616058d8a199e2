package leads

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for lead storage
type Repository interface {
	Create(ctx context.Context, tenantID string) (*Lead, error)
	GetByID(ctx context.Context, id string) (*Lead, error)
	Update(ctx context.Context, lead *Lead) error
}

// InMemoryRepository is an in-memory Repository used in tests and local development.
type InMemoryRepository struct {
	mu    sync.RWMutex
	leads map[string]*Lead
}

// NewInMemoryRepository creates a new in-memory repository
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		leads: make(map[string]*Lead),
	}
}

// Create registers an empty lead for the tenant.
func (r *InMemoryRepository) Create(ctx context.Context, tenantID string) (*Lead, error) {
	if tenantID == "" {
		return nil, ErrMissingTenantID
	}

	now := time.Now().UTC()
	lead := &Lead{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		ProjectData: make(map[string]any),
		Priority:    PriorityCold,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	r.mu.Lock()
	r.leads[lead.ID] = cloneLead(lead)
	r.mu.Unlock()

	return lead, nil
}

// GetByID retrieves a lead by ID
func (r *InMemoryRepository) GetByID(ctx context.Context, id string) (*Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lead, ok := r.leads[id]
	if !ok {
		return nil, ErrLeadNotFound
	}
	return cloneLead(lead), nil
}

// Update overwrites the stored lead.
func (r *InMemoryRepository) Update(ctx context.Context, lead *Lead) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.leads[lead.ID]; !ok {
		return ErrLeadNotFound
	}
	updated := cloneLead(lead)
	updated.UpdatedAt = time.Now().UTC()
	r.leads[lead.ID] = updated
	return nil
}

func cloneLead(l *Lead) *Lead {
	out := *l
	out.ProjectData = make(map[string]any, len(l.ProjectData))
	for k, v := range l.ProjectData {
		out.ProjectData[k] = v
	}
	return &out
}
