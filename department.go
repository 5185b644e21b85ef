package rbac

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// CreateDepartment creates a department under the optional parent. Path and
// level are derived here, never taken from the caller: a root department
// gets path "/<id>" and level 0, a child gets its parent's path plus its own
// id and level parent+1.
func (e *Engine) CreateDepartment(ctx context.Context, tenantID, name, parentID string) (*Department, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: department name is required", ErrInvalidOperation)
	}
	if _, err := e.stores.Tenants.GetTenant(ctx, tenantID); err != nil {
		return nil, err
	}

	d := &Department{
		ID:        newID(),
		TenantID:  tenantID,
		Name:      name,
		ParentID:  parentID,
		CreatedAt: time.Now(),
	}
	if parentID == "" {
		d.Path = "/" + d.ID
		d.Level = 0
	} else {
		parent, err := e.stores.Departments.GetDepartment(ctx, parentID)
		if err != nil {
			return nil, err
		}
		if parent.TenantID != tenantID {
			// parent in another tenant reads as absent, not as cross-tenant,
			// so tenants cannot probe each other's tree
			return nil, fmt.Errorf("department %s: %w", parentID, ErrNotFound)
		}
		d.Path = parent.Path + "/" + d.ID
		d.Level = parent.Level + 1
	}

	if err := e.stores.Departments.CreateDepartment(ctx, d); err != nil {
		return nil, err
	}
	e.logger.Info("department created", "tenant", tenantID, "department", d.ID, "path", d.Path)
	return d, nil
}

// MoveDepartment reparents a department; newParentID may be empty to move
// it to the root. The node, as well as every descendant, gets its path and
// level recomputed in one atomic storage operation, so the tree invariant
// holds even if the process dies mid-move.
func (e *Engine) MoveDepartment(ctx context.Context, tenantID, deptID, newParentID string) error {
	dept, err := e.getTenantDepartment(ctx, tenantID, deptID)
	if err != nil {
		return err
	}
	if newParentID == deptID {
		return fmt.Errorf("%w: department %s cannot be its own parent", ErrInvalidOperation, deptID)
	}

	var newPath string
	var newLevel int
	if newParentID == "" {
		newPath = "/" + dept.ID
		newLevel = 0
	} else {
		parent, err := e.getTenantDepartment(ctx, tenantID, newParentID)
		if err != nil {
			return err
		}
		// cycle prevention: the new parent must not live inside the subtree
		// being moved
		if strings.HasPrefix(parent.Path, dept.Path+"/") {
			return fmt.Errorf("%w: department %s is a descendant of %s", ErrInvalidOperation, newParentID, deptID)
		}
		newPath = parent.Path + "/" + dept.ID
		newLevel = parent.Level + 1
	}
	if newPath == dept.Path && newParentID == dept.ParentID {
		return nil
	}

	err = e.stores.Departments.MoveSubtree(ctx, tenantID, deptID, newParentID, dept.Path, newPath, newLevel-dept.Level)
	if err != nil {
		return err
	}
	e.invalidateDecisions()
	e.logger.Info("department moved", "tenant", tenantID, "department", deptID, "path", newPath)
	return nil
}

// DeleteDepartment removes an empty leaf. Departments with children or with
// users attached are refused with ErrInvalidOperation; reparent or empty
// them first. Rejecting instead of cascading keeps a mistyped delete from
// silently rewriting policy scope for a whole subtree.
func (e *Engine) DeleteDepartment(ctx context.Context, tenantID, deptID string) error {
	dept, err := e.getTenantDepartment(ctx, tenantID, deptID)
	if err != nil {
		return err
	}
	children, err := e.stores.Departments.ListByPathPrefix(ctx, tenantID, dept.Path+"/")
	if err != nil {
		return err
	}
	if len(children) > 0 {
		return fmt.Errorf("%w: department %s has %d descendants", ErrInvalidOperation, deptID, len(children))
	}
	users, err := e.stores.Users.CountUsersByDepartment(ctx, deptID)
	if err != nil {
		return err
	}
	if users > 0 {
		return fmt.Errorf("%w: department %s has %d users", ErrInvalidOperation, deptID, users)
	}
	if err := e.stores.Departments.DeleteDepartment(ctx, deptID); err != nil {
		return err
	}
	e.invalidateDecisions()
	return nil
}

// DescendantsOf returns every department in the subtree below deptID,
// excluding the department itself, ordered by path.
func (e *Engine) DescendantsOf(ctx context.Context, tenantID, deptID string) ([]*Department, error) {
	dept, err := e.getTenantDepartment(ctx, tenantID, deptID)
	if err != nil {
		return nil, err
	}
	return e.stores.Departments.ListByPathPrefix(ctx, tenantID, dept.Path+"/")
}

// IsAncestor reports whether candidate is a strict ancestor of deptID,
// via a prefix check on the materialized path.
func (e *Engine) IsAncestor(ctx context.Context, tenantID, candidateAncestorID, deptID string) (bool, error) {
	anc, err := e.getTenantDepartment(ctx, tenantID, candidateAncestorID)
	if err != nil {
		return false, err
	}
	dept, err := e.getTenantDepartment(ctx, tenantID, deptID)
	if err != nil {
		return false, err
	}
	return strings.HasPrefix(dept.Path, anc.Path+"/"), nil
}

func (e *Engine) getTenantDepartment(ctx context.Context, tenantID, deptID string) (*Department, error) {
	dept, err := e.stores.Departments.GetDepartment(ctx, deptID)
	if err != nil {
		return nil, err
	}
	if dept.TenantID != tenantID {
		return nil, fmt.Errorf("department %s: %w", deptID, ErrNotFound)
	}
	return dept, nil
}
