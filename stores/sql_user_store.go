package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/corvina/rbac"
)

// SQLUserStore persists users in SQL (squealx)
type SQLUserStore struct {
	db *squealx.DB
}

func NewSQLUserStore(db *squealx.DB) *SQLUserStore {
	return &SQLUserStore{db: db}
}

func (s *SQLUserStore) CreateUser(ctx context.Context, u *rbac.User) error {
	if _, err := s.GetUser(ctx, u.ID); err == nil {
		return fmt.Errorf("user %s: %w", u.ID, rbac.ErrConflict)
	} else if !errors.Is(err, rbac.ErrNotFound) {
		return err
	}
	if _, err := s.GetUserByEmail(ctx, u.Email); err == nil {
		return fmt.Errorf("user email %s: %w", u.Email, rbac.ErrConflict)
	} else if !errors.Is(err, rbac.ErrNotFound) {
		return err
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = u.CreatedAt
	}
	q := `INSERT INTO users(id, tenant_id, email, name, password_hash, department_id, created_at, updated_at) VALUES(:id, :tenant_id, :email, :name, :password_hash, :department_id, :created_at, :updated_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":            u.ID,
		"tenant_id":     u.TenantID,
		"email":         u.Email,
		"name":          u.Name,
		"password_hash": u.PasswordHash,
		"department_id": u.DepartmentID,
		"created_at":    u.CreatedAt,
		"updated_at":    u.UpdatedAt,
	})
	return err
}

func (s *SQLUserStore) GetUser(ctx context.Context, id string) (*rbac.User, error) {
	q := `SELECT id, tenant_id, email, name, password_hash, department_id, created_at, updated_at FROM users WHERE id = :id`
	return s.queryOne(ctx, q, map[string]any{"id": id}, id)
}

func (s *SQLUserStore) GetUserByEmail(ctx context.Context, email string) (*rbac.User, error) {
	q := `SELECT id, tenant_id, email, name, password_hash, department_id, created_at, updated_at FROM users WHERE email = :email`
	return s.queryOne(ctx, q, map[string]any{"email": email}, email)
}

func (s *SQLUserStore) queryOne(ctx context.Context, q string, params map[string]any, key string) (*rbac.User, error) {
	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, fmt.Errorf("user %s: %w", key, rbac.ErrNotFound)
	}
	return scanUser(r)
}

func (s *SQLUserStore) ListUsers(ctx context.Context, tenantID string) ([]*rbac.User, error) {
	q := `SELECT id, tenant_id, email, name, password_hash, department_id, created_at, updated_at FROM users WHERE tenant_id = :tenant_id ORDER BY email`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"tenant_id": tenantID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*rbac.User, 0)
	for r.Next() {
		u, err := scanUser(r)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

func (s *SQLUserStore) UpdateUser(ctx context.Context, u *rbac.User) error {
	u.UpdatedAt = time.Now()
	q := `UPDATE users SET email=:email, name=:name, password_hash=:password_hash, department_id=:department_id, updated_at=:updated_at WHERE id=:id`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":            u.ID,
		"email":         u.Email,
		"name":          u.Name,
		"password_hash": u.PasswordHash,
		"department_id": u.DepartmentID,
		"updated_at":    u.UpdatedAt,
	})
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("user %s: %w", u.ID, rbac.ErrNotFound)
	}
	return nil
}

func (s *SQLUserStore) DeleteUser(ctx context.Context, id string) error {
	q := `DELETE FROM users WHERE id = :id`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("user %s: %w", id, rbac.ErrNotFound)
	}
	return nil
}

func (s *SQLUserStore) CountUsersByDepartment(ctx context.Context, deptID string) (int, error) {
	q := `SELECT COUNT(*) FROM users WHERE department_id = :department_id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"department_id": deptID})
	if err != nil {
		return 0, err
	}
	defer r.Close()
	n := 0
	if r.Next() {
		if err := r.Scan(&n); err != nil {
			return 0, err
		}
	}
	return n, nil
}

func scanUser(r rowScanner) (*rbac.User, error) {
	var u rbac.User
	var createdRaw, updatedRaw interface{}
	if err := r.Scan(&u.ID, &u.TenantID, &u.Email, &u.Name, &u.PasswordHash, &u.DepartmentID, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	u.CreatedAt = scanTime(createdRaw)
	u.UpdatedAt = scanTime(updatedRaw)
	return &u, nil
}
