package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// CreateTenant registers a tenant. Code is the stable external identifier
// and must be unique across the directory.
func (e *Engine) CreateTenant(ctx context.Context, name, code string) (*Tenant, error) {
	if name == "" || code == "" {
		return nil, fmt.Errorf("%w: tenant name and code are required", ErrInvalidOperation)
	}
	if _, err := e.stores.Tenants.GetTenantByCode(ctx, code); err == nil {
		return nil, fmt.Errorf("tenant code %s: %w", code, ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	now := time.Now()
	t := &Tenant{ID: newID(), Name: name, Code: code, CreatedAt: now, UpdatedAt: now}
	if err := e.stores.Tenants.CreateTenant(ctx, t); err != nil {
		return nil, err
	}
	e.logger.Info("tenant created", "tenant", t.ID, "code", code)
	return t, nil
}

// GetTenantByCode resolves a tenant by its external code.
func (e *Engine) GetTenantByCode(ctx context.Context, code string) (*Tenant, error) {
	return e.stores.Tenants.GetTenantByCode(ctx, code)
}

// RenameTenant updates the display name; everything else is immutable.
func (e *Engine) RenameTenant(ctx context.Context, tenantID, name string) (*Tenant, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: tenant name is required", ErrInvalidOperation)
	}
	t, err := e.stores.Tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	t.Name = name
	t.UpdatedAt = time.Now()
	if err := e.stores.Tenants.UpdateTenant(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// guardTenant is the single cross-tenant check every component goes
// through: an entity resolved for one tenant must belong to it.
func guardTenant(want, got, entity, id string) error {
	if want != got {
		return fmt.Errorf("%s %s belongs to tenant %s, not %s: %w", entity, id, got, want, ErrCrossTenant)
	}
	return nil
}
