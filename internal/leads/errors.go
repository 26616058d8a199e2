package leads

import "errors"

var (
	// ErrLeadNotFound indicates the lead id is unknown (or belongs to another tenant).
	ErrLeadNotFound = errors.New("lead not found")
	// ErrMissingTenantID indicates a create call without a tenant.
	ErrMissingTenantID = errors.New("tenant id is required")
)
