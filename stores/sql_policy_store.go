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

// SQLPolicyStore persists policies in SQL (squealx). Result ordering is
// (created_at, id) so policy evaluation sees a stable sequence.
type SQLPolicyStore struct {
	db *squealx.DB
}

func NewSQLPolicyStore(db *squealx.DB) *SQLPolicyStore {
	return &SQLPolicyStore{db: db}
}

func (s *SQLPolicyStore) CreatePolicy(ctx context.Context, p *rbac.Policy) error {
	if _, err := s.GetPolicy(ctx, p.ID); err == nil {
		return fmt.Errorf("policy %s: %w", p.ID, rbac.ErrConflict)
	} else if !errors.Is(err, rbac.ErrNotFound) {
		return err
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	q := `INSERT INTO policies(id, role_id, tenant_id, effect, resource, actions_json, condition_text, created_at, updated_at) VALUES(:id, :role_id, :tenant_id, :effect, :resource, :actions_json, :condition_text, :created_at, :updated_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":             p.ID,
		"role_id":        p.RoleID,
		"tenant_id":      p.TenantID,
		"effect":         string(p.Effect),
		"resource":       p.Resource,
		"actions_json":   encodeActions(p.Actions),
		"condition_text": p.Condition,
		"created_at":     p.CreatedAt,
		"updated_at":     p.UpdatedAt,
	})
	return err
}

func (s *SQLPolicyStore) GetPolicy(ctx context.Context, id string) (*rbac.Policy, error) {
	q := `SELECT id, role_id, tenant_id, effect, resource, actions_json, condition_text, created_at, updated_at FROM policies WHERE id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, fmt.Errorf("policy %s: %w", id, rbac.ErrNotFound)
	}
	return scanPolicy(r)
}

func (s *SQLPolicyStore) ListPoliciesByRole(ctx context.Context, roleID string) ([]*rbac.Policy, error) {
	q := `SELECT id, role_id, tenant_id, effect, resource, actions_json, condition_text, created_at, updated_at FROM policies WHERE role_id = :role_id ORDER BY created_at, id`
	return s.queryMany(ctx, q, map[string]any{"role_id": roleID})
}

func (s *SQLPolicyStore) ListPoliciesByRoles(ctx context.Context, roleIDs []string) ([]*rbac.Policy, error) {
	if len(roleIDs) == 0 {
		return []*rbac.Policy{}, nil
	}
	params := map[string]any{}
	holders := make([]string, len(roleIDs))
	for i, id := range roleIDs {
		name := fmt.Sprintf("role_%d", i)
		holders[i] = ":" + name
		params[name] = id
	}
	q := `SELECT id, role_id, tenant_id, effect, resource, actions_json, condition_text, created_at, updated_at FROM policies WHERE role_id IN (` + strings.Join(holders, ", ") + `) ORDER BY created_at, id`
	return s.queryMany(ctx, q, params)
}

func (s *SQLPolicyStore) DeletePolicy(ctx context.Context, id string) error {
	q := `DELETE FROM policies WHERE id = :id`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("policy %s: %w", id, rbac.ErrNotFound)
	}
	return nil
}

func (s *SQLPolicyStore) DeletePoliciesByRole(ctx context.Context, roleID string) error {
	q := `DELETE FROM policies WHERE role_id = :role_id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"role_id": roleID})
	return err
}

func (s *SQLPolicyStore) queryMany(ctx context.Context, q string, params map[string]any) ([]*rbac.Policy, error) {
	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*rbac.Policy, 0)
	for r.Next() {
		p, err := scanPolicy(r)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func scanPolicy(r rowScanner) (*rbac.Policy, error) {
	var p rbac.Policy
	var effect, actionsJSON string
	var createdRaw, updatedRaw interface{}
	if err := r.Scan(&p.ID, &p.RoleID, &p.TenantID, &effect, &p.Resource, &actionsJSON, &p.Condition, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	p.Effect = rbac.Effect(effect)
	p.Actions = decodeActions(actionsJSON)
	p.CreatedAt = scanTime(createdRaw)
	p.UpdatedAt = scanTime(updatedRaw)
	return &p, nil
}
