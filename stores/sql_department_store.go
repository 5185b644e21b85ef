package stores

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/corvina/rbac"
)

// escapeLike quotes LIKE metacharacters so a path built from caller-supplied
// ids matches literally. Queries using the result must carry ESCAPE '\'.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// SQLDepartmentStore persists departments in SQL (squealx). The materialized
// path column makes subtree queries a single LIKE scan and subtree moves a
// single set-based UPDATE.
type SQLDepartmentStore struct {
	db *squealx.DB
}

func NewSQLDepartmentStore(db *squealx.DB) *SQLDepartmentStore {
	return &SQLDepartmentStore{db: db}
}

func (s *SQLDepartmentStore) CreateDepartment(ctx context.Context, d *rbac.Department) error {
	if _, err := s.GetDepartment(ctx, d.ID); err == nil {
		return fmt.Errorf("department %s: %w", d.ID, rbac.ErrConflict)
	} else if !errors.Is(err, rbac.ErrNotFound) {
		return err
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	q := `INSERT INTO departments(id, tenant_id, name, parent_id, path, level, created_at) VALUES(:id, :tenant_id, :name, :parent_id, :path, :level, :created_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":         d.ID,
		"tenant_id":  d.TenantID,
		"name":       d.Name,
		"parent_id":  d.ParentID,
		"path":       d.Path,
		"level":      d.Level,
		"created_at": d.CreatedAt,
	})
	return err
}

func (s *SQLDepartmentStore) GetDepartment(ctx context.Context, id string) (*rbac.Department, error) {
	q := `SELECT id, tenant_id, name, parent_id, path, level, created_at FROM departments WHERE id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, fmt.Errorf("department %s: %w", id, rbac.ErrNotFound)
	}
	return scanDepartment(r)
}

func (s *SQLDepartmentStore) ListDepartments(ctx context.Context, tenantID string) ([]*rbac.Department, error) {
	q := `SELECT id, tenant_id, name, parent_id, path, level, created_at FROM departments WHERE tenant_id = :tenant_id ORDER BY path`
	return s.queryMany(ctx, q, map[string]any{"tenant_id": tenantID})
}

func (s *SQLDepartmentStore) ListChildren(ctx context.Context, parentID string) ([]*rbac.Department, error) {
	q := `SELECT id, tenant_id, name, parent_id, path, level, created_at FROM departments WHERE parent_id = :parent_id ORDER BY path`
	return s.queryMany(ctx, q, map[string]any{"parent_id": parentID})
}

func (s *SQLDepartmentStore) ListByPathPrefix(ctx context.Context, tenantID, prefix string) ([]*rbac.Department, error) {
	q := `SELECT id, tenant_id, name, parent_id, path, level, created_at FROM departments WHERE tenant_id = :tenant_id AND (path = :prefix OR path LIKE :pattern ESCAPE '\') ORDER BY path`
	return s.queryMany(ctx, q, map[string]any{"tenant_id": tenantID, "prefix": prefix, "pattern": escapeLike(prefix) + "%"})
}

// MoveSubtree rewrites the whole subtree in one statement so the hierarchy is
// never observable in a half-moved state.
func (s *SQLDepartmentStore) MoveSubtree(ctx context.Context, tenantID, deptID, newParentID, oldPath, newPath string, levelDelta int) error {
	q := `UPDATE departments
	SET parent_id = CASE WHEN id = :dept_id THEN :new_parent_id ELSE parent_id END,
	    path = :new_path || substr(path, length(:old_path) + 1),
	    level = level + :level_delta
	WHERE tenant_id = :tenant_id AND (id = :dept_id OR path LIKE :old_pattern ESCAPE '\')`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"tenant_id":     tenantID,
		"dept_id":       deptID,
		"new_parent_id": newParentID,
		"old_path":      oldPath,
		"old_pattern":   escapeLike(oldPath) + "/%",
		"new_path":      newPath,
		"level_delta":   levelDelta,
	})
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("department %s: %w", deptID, rbac.ErrNotFound)
	}
	return nil
}

func (s *SQLDepartmentStore) DeleteDepartment(ctx context.Context, id string) error {
	q := `DELETE FROM departments WHERE id = :id`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("department %s: %w", id, rbac.ErrNotFound)
	}
	return nil
}

func (s *SQLDepartmentStore) queryMany(ctx context.Context, q string, params map[string]any) ([]*rbac.Department, error) {
	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*rbac.Department, 0)
	for r.Next() {
		d, err := scanDepartment(r)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDepartment(r rowScanner) (*rbac.Department, error) {
	var d rbac.Department
	var createdRaw interface{}
	if err := r.Scan(&d.ID, &d.TenantID, &d.Name, &d.ParentID, &d.Path, &d.Level, &createdRaw); err != nil {
		return nil, err
	}
	d.CreatedAt = scanTime(createdRaw)
	return &d, nil
}
