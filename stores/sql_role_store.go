package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/corvina/rbac"
)

// SQLRoleStore persists roles in SQL (squealx)
type SQLRoleStore struct {
	db *squealx.DB
}

func NewSQLRoleStore(db *squealx.DB) *SQLRoleStore {
	return &SQLRoleStore{db: db}
}

func (s *SQLRoleStore) CreateRole(ctx context.Context, r *rbac.Role) error {
	if _, err := s.GetRole(ctx, r.ID); err == nil {
		return fmt.Errorf("role %s: %w", r.ID, rbac.ErrConflict)
	} else if !errors.Is(err, rbac.ErrNotFound) {
		return err
	}
	if _, err := s.GetRoleByCode(ctx, r.TenantID, r.Code); err == nil {
		return fmt.Errorf("role code %s: %w", r.Code, rbac.ErrConflict)
	} else if !errors.Is(err, rbac.ErrNotFound) {
		return err
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	q := `INSERT INTO roles(id, tenant_id, name, code, description, created_at) VALUES(:id, :tenant_id, :name, :code, :description, :created_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":          r.ID,
		"tenant_id":   r.TenantID,
		"name":        r.Name,
		"code":        r.Code,
		"description": r.Description,
		"created_at":  r.CreatedAt,
	})
	return err
}

func (s *SQLRoleStore) GetRole(ctx context.Context, id string) (*rbac.Role, error) {
	q := `SELECT id, tenant_id, name, code, description, created_at FROM roles WHERE id = :id`
	return s.queryOne(ctx, q, map[string]any{"id": id}, id)
}

func (s *SQLRoleStore) GetRoleByCode(ctx context.Context, tenantID, code string) (*rbac.Role, error) {
	q := `SELECT id, tenant_id, name, code, description, created_at FROM roles WHERE tenant_id = :tenant_id AND code = :code`
	return s.queryOne(ctx, q, map[string]any{"tenant_id": tenantID, "code": code}, code)
}

func (s *SQLRoleStore) queryOne(ctx context.Context, q string, params map[string]any, key string) (*rbac.Role, error) {
	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, fmt.Errorf("role %s: %w", key, rbac.ErrNotFound)
	}
	return scanRole(r)
}

func (s *SQLRoleStore) ListRoles(ctx context.Context, tenantID string) ([]*rbac.Role, error) {
	q := `SELECT id, tenant_id, name, code, description, created_at FROM roles WHERE tenant_id = :tenant_id ORDER BY code`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"tenant_id": tenantID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*rbac.Role, 0)
	for r.Next() {
		role, err := scanRole(r)
		if err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, nil
}

func (s *SQLRoleStore) UpdateRole(ctx context.Context, r *rbac.Role) error {
	q := `UPDATE roles SET name=:name, code=:code, description=:description WHERE id=:id`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{"id": r.ID, "name": r.Name, "code": r.Code, "description": r.Description})
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("role %s: %w", r.ID, rbac.ErrNotFound)
	}
	return nil
}

func (s *SQLRoleStore) DeleteRole(ctx context.Context, id string) error {
	q := `DELETE FROM roles WHERE id = :id`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("role %s: %w", id, rbac.ErrNotFound)
	}
	return nil
}

func scanRole(r rowScanner) (*rbac.Role, error) {
	var role rbac.Role
	var createdRaw interface{}
	if err := r.Scan(&role.ID, &role.TenantID, &role.Name, &role.Code, &role.Description, &createdRaw); err != nil {
		return nil, err
	}
	role.CreatedAt = scanTime(createdRaw)
	return &role, nil
}
