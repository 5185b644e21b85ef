package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/corvina/rbac"
)

// SQLAssignmentStore persists user-role bindings in SQL (squealx)
type SQLAssignmentStore struct {
	db *squealx.DB
}

func NewSQLAssignmentStore(db *squealx.DB) *SQLAssignmentStore {
	return &SQLAssignmentStore{db: db}
}

func (s *SQLAssignmentStore) CreateAssignment(ctx context.Context, a *rbac.UserRole) error {
	if _, err := s.GetAssignment(ctx, a.UserID, a.RoleID); err == nil {
		return fmt.Errorf("assignment %s/%s: %w", a.UserID, a.RoleID, rbac.ErrConflict)
	} else if !errors.Is(err, rbac.ErrNotFound) {
		return err
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	q := `INSERT INTO user_roles(id, user_id, role_id, created_at) VALUES(:id, :user_id, :role_id, :created_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"id": a.ID, "user_id": a.UserID, "role_id": a.RoleID, "created_at": a.CreatedAt})
	return err
}

func (s *SQLAssignmentStore) GetAssignment(ctx context.Context, userID, roleID string) (*rbac.UserRole, error) {
	q := `SELECT id, user_id, role_id, created_at FROM user_roles WHERE user_id = :user_id AND role_id = :role_id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"user_id": userID, "role_id": roleID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, fmt.Errorf("assignment %s/%s: %w", userID, roleID, rbac.ErrNotFound)
	}
	var a rbac.UserRole
	var createdRaw interface{}
	if err := r.Scan(&a.ID, &a.UserID, &a.RoleID, &createdRaw); err != nil {
		return nil, err
	}
	a.CreatedAt = scanTime(createdRaw)
	return &a, nil
}

func (s *SQLAssignmentStore) DeleteAssignment(ctx context.Context, userID, roleID string) error {
	q := `DELETE FROM user_roles WHERE user_id = :user_id AND role_id = :role_id`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{"user_id": userID, "role_id": roleID})
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("assignment %s/%s: %w", userID, roleID, rbac.ErrNotFound)
	}
	return nil
}

func (s *SQLAssignmentStore) ListRoleIDs(ctx context.Context, userID string) ([]string, error) {
	q := `SELECT role_id FROM user_roles WHERE user_id = :user_id ORDER BY role_id`
	return s.listColumn(ctx, q, map[string]any{"user_id": userID})
}

func (s *SQLAssignmentStore) ListUserIDs(ctx context.Context, roleID string) ([]string, error) {
	q := `SELECT user_id FROM user_roles WHERE role_id = :role_id ORDER BY user_id`
	return s.listColumn(ctx, q, map[string]any{"role_id": roleID})
}

func (s *SQLAssignmentStore) listColumn(ctx context.Context, q string, params map[string]any) ([]string, error) {
	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]string, 0)
	for r.Next() {
		var id string
		if err := r.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func (s *SQLAssignmentStore) DeleteAssignmentsByUser(ctx context.Context, userID string) error {
	q := `DELETE FROM user_roles WHERE user_id = :user_id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"user_id": userID})
	return err
}

func (s *SQLAssignmentStore) DeleteAssignmentsByRole(ctx context.Context, roleID string) error {
	q := `DELETE FROM user_roles WHERE role_id = :role_id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"role_id": roleID})
	return err
}
