package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/corvina/rbac"
)

// SQLTenantStore persists tenants in SQL (squealx)
type SQLTenantStore struct {
	db *squealx.DB
}

func NewSQLTenantStore(db *squealx.DB) *SQLTenantStore {
	return &SQLTenantStore{db: db}
}

func (s *SQLTenantStore) CreateTenant(ctx context.Context, t *rbac.Tenant) error {
	if _, err := s.GetTenant(ctx, t.ID); err == nil {
		return fmt.Errorf("tenant %s: %w", t.ID, rbac.ErrConflict)
	} else if !errors.Is(err, rbac.ErrNotFound) {
		return err
	}
	if _, err := s.GetTenantByCode(ctx, t.Code); err == nil {
		return fmt.Errorf("tenant code %s: %w", t.Code, rbac.ErrConflict)
	} else if !errors.Is(err, rbac.ErrNotFound) {
		return err
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	q := `INSERT INTO tenants(id, name, code, created_at, updated_at) VALUES(:id, :name, :code, :created_at, :updated_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"id": t.ID, "name": t.Name, "code": t.Code, "created_at": t.CreatedAt, "updated_at": t.UpdatedAt})
	return err
}

func (s *SQLTenantStore) GetTenant(ctx context.Context, id string) (*rbac.Tenant, error) {
	q := `SELECT id, name, code, created_at, updated_at FROM tenants WHERE id = :id`
	return s.queryOne(ctx, q, map[string]any{"id": id}, id)
}

func (s *SQLTenantStore) GetTenantByCode(ctx context.Context, code string) (*rbac.Tenant, error) {
	q := `SELECT id, name, code, created_at, updated_at FROM tenants WHERE code = :code`
	return s.queryOne(ctx, q, map[string]any{"code": code}, code)
}

func (s *SQLTenantStore) queryOne(ctx context.Context, q string, params map[string]any, key string) (*rbac.Tenant, error) {
	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, fmt.Errorf("tenant %s: %w", key, rbac.ErrNotFound)
	}
	var t rbac.Tenant
	var createdRaw, updatedRaw interface{}
	if err := r.Scan(&t.ID, &t.Name, &t.Code, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	t.CreatedAt = scanTime(createdRaw)
	t.UpdatedAt = scanTime(updatedRaw)
	return &t, nil
}

func (s *SQLTenantStore) UpdateTenant(ctx context.Context, t *rbac.Tenant) error {
	t.UpdatedAt = time.Now()
	q := `UPDATE tenants SET name=:name, code=:code, updated_at=:updated_at WHERE id=:id`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{"id": t.ID, "name": t.Name, "code": t.Code, "updated_at": t.UpdatedAt})
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("tenant %s: %w", t.ID, rbac.ErrNotFound)
	}
	return nil
}

func (s *SQLTenantStore) DeleteTenant(ctx context.Context, id string) error {
	q := `DELETE FROM tenants WHERE id = :id`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("tenant %s: %w", id, rbac.ErrNotFound)
	}
	return nil
}
