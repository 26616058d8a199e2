package leads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the repository needs. pgxmock satisfies it
// in tests.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresRepository stores leads in the relational database.
type PostgresRepository struct {
	pool DB
}

// NewPostgresRepository initializes a repo backed by pgxpool.
func NewPostgresRepository(pool DB) *PostgresRepository {
	if pool == nil {
		panic("leads: pgx pool required")
	}
	return &PostgresRepository{pool: pool}
}

// Create inserts a fresh empty lead for the tenant.
func (r *PostgresRepository) Create(ctx context.Context, tenantID string) (*Lead, error) {
	if tenantID == "" {
		return nil, ErrMissingTenantID
	}

	id := uuid.New()
	query := `
		INSERT INTO leads (id, tenant_id, project_data, score, priority)
		VALUES ($1, $2, '{}'::jsonb, 0, 'cold')
		RETURNING created_at, updated_at
	`
	var createdAt, updatedAt time.Time
	if err := r.pool.QueryRow(ctx, query, id, tenantID).Scan(&createdAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("leads: insert failed: %w", err)
	}

	return &Lead{
		ID:          id.String(),
		TenantID:    tenantID,
		ProjectData: make(map[string]any),
		Priority:    PriorityCold,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}, nil
}

// GetByID fetches a lead.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Lead, error) {
	query := `
		SELECT id, tenant_id, first_name, last_name, email, phone,
		       project_data, score, priority,
		       notification_sent, crm_pushed, satisfaction,
		       created_at, updated_at
		FROM leads
		WHERE id = $1
	`
	row := r.pool.QueryRow(ctx, query, id)

	var lead Lead
	var projectData []byte
	if err := row.Scan(
		&lead.ID,
		&lead.TenantID,
		&lead.FirstName,
		&lead.LastName,
		&lead.Email,
		&lead.Phone,
		&projectData,
		&lead.Score,
		&lead.Priority,
		&lead.NotificationSent,
		&lead.CRMPushed,
		&lead.Satisfaction,
		&lead.CreatedAt,
		&lead.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLeadNotFound
		}
		return nil, fmt.Errorf("leads: select failed: %w", err)
	}

	lead.ProjectData = make(map[string]any)
	if len(projectData) > 0 {
		if err := json.Unmarshal(projectData, &lead.ProjectData); err != nil {
			return nil, fmt.Errorf("leads: decode project data: %w", err)
		}
	}
	return &lead, nil
}

// Update persists the mutable lead fields.
func (r *PostgresRepository) Update(ctx context.Context, lead *Lead) error {
	projectData, err := json.Marshal(lead.ProjectData)
	if err != nil {
		return fmt.Errorf("leads: encode project data: %w", err)
	}

	query := `
		UPDATE leads
		SET first_name = $2, last_name = $3, email = $4, phone = $5,
		    project_data = $6, score = $7, priority = $8,
		    notification_sent = $9, crm_pushed = $10, satisfaction = $11,
		    updated_at = now()
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query,
		lead.ID,
		lead.FirstName,
		lead.LastName,
		lead.Email,
		lead.Phone,
		projectData,
		lead.Score,
		lead.Priority,
		lead.NotificationSent,
		lead.CRMPushed,
		lead.Satisfaction,
	)
	if err != nil {
		return fmt.Errorf("leads: update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLeadNotFound
	}
	return nil
}
