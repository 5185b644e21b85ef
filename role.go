package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// CreateRole creates a named role in the tenant. Code must be unique within
// the tenant and is the handle configuration files refer to.
func (e *Engine) CreateRole(ctx context.Context, tenantID, name, code string) (*Role, error) {
	if name == "" || code == "" {
		return nil, fmt.Errorf("%w: role name and code are required", ErrInvalidOperation)
	}
	if _, err := e.stores.Tenants.GetTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	if _, err := e.stores.Roles.GetRoleByCode(ctx, tenantID, code); err == nil {
		return nil, fmt.Errorf("role code %s in tenant %s: %w", code, tenantID, ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	r := &Role{
		ID:        newID(),
		TenantID:  tenantID,
		Name:      name,
		Code:      code,
		CreatedAt: time.Now(),
	}
	if err := e.stores.Roles.CreateRole(ctx, r); err != nil {
		return nil, err
	}
	e.logger.Info("role created", "tenant", tenantID, "role", r.ID, "code", code)
	return r, nil
}

// AttachPolicy adds an allow/deny rule to the role. Actions must be
// non-empty and effect must be one of the two known values. The condition
// string is stored as-is; a condition that later fails to parse is treated
// as a non-match at evaluation time, so a broken policy can never widen
// access.
func (e *Engine) AttachPolicy(ctx context.Context, roleID string, effect Effect, resource string, actions []Action, condition string) (*Policy, error) {
	if !effect.Valid() {
		return nil, fmt.Errorf("%w: effect must be %q or %q", ErrInvalidOperation, EffectAllow, EffectDeny)
	}
	if len(actions) == 0 {
		return nil, fmt.Errorf("%w: policy needs at least one action", ErrInvalidOperation)
	}
	if resource == "" {
		return nil, fmt.Errorf("%w: policy needs a resource pattern", ErrInvalidOperation)
	}
	role, err := e.stores.Roles.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	p := &Policy{
		ID:        newID(),
		RoleID:    role.ID,
		TenantID:  role.TenantID,
		Effect:    effect,
		Resource:  resource,
		Actions:   append([]Action(nil), actions...),
		Condition: condition,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.stores.Policies.CreatePolicy(ctx, p); err != nil {
		return nil, err
	}
	e.invalidateDecisions()
	e.logger.Info("policy attached", "tenant", role.TenantID, "role", roleID, "policy", p.ID, "effect", string(effect))
	return p, nil
}

// DetachPolicy removes a single policy.
func (e *Engine) DetachPolicy(ctx context.Context, policyID string) error {
	if err := e.stores.Policies.DeletePolicy(ctx, policyID); err != nil {
		return err
	}
	e.invalidateDecisions()
	return nil
}

// DeleteRole removes the role and cascades: its policies and its user-role
// bindings go with it. The cascade runs assignments first, then policies,
// then the role, so an interrupted delete can only ever shrink access, never
// leave a grant pointing at a half-deleted role.
func (e *Engine) DeleteRole(ctx context.Context, roleID string) error {
	if _, err := e.stores.Roles.GetRole(ctx, roleID); err != nil {
		return err
	}
	if err := e.stores.Assignments.DeleteAssignmentsByRole(ctx, roleID); err != nil {
		return err
	}
	if err := e.stores.Policies.DeletePoliciesByRole(ctx, roleID); err != nil {
		return err
	}
	if err := e.stores.Roles.DeleteRole(ctx, roleID); err != nil {
		return err
	}
	e.invalidateDecisions()
	e.logger.Info("role deleted", "role", roleID)
	return nil
}

// ListRolePolicies returns the role's policies ordered by creation.
func (e *Engine) ListRolePolicies(ctx context.Context, roleID string) ([]*Policy, error) {
	if _, err := e.stores.Roles.GetRole(ctx, roleID); err != nil {
		return nil, err
	}
	return e.stores.Policies.ListPoliciesByRole(ctx, roleID)
}

// AssignRole binds a user to a role. Both sides must exist and share a
// tenant; a duplicate binding is a conflict.
func (e *Engine) AssignRole(ctx context.Context, userID, roleID string) error {
	user, err := e.stores.Users.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	role, err := e.stores.Roles.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if err := guardTenant(user.TenantID, role.TenantID, "role", roleID); err != nil {
		return err
	}
	if _, err := e.stores.Assignments.GetAssignment(ctx, userID, roleID); err == nil {
		return fmt.Errorf("user %s already holds role %s: %w", userID, roleID, ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	a := &UserRole{ID: newID(), UserID: userID, RoleID: roleID, CreatedAt: time.Now()}
	if err := e.stores.Assignments.CreateAssignment(ctx, a); err != nil {
		return err
	}
	e.invalidateDecisions()
	e.logger.Info("role assigned", "tenant", user.TenantID, "user", userID, "role", roleID)
	return nil
}

// RevokeRole removes the binding. Revoking a binding that does not exist
// fails with ErrNotFound; it never silently succeeds twice.
func (e *Engine) RevokeRole(ctx context.Context, userID, roleID string) error {
	if err := e.stores.Assignments.DeleteAssignment(ctx, userID, roleID); err != nil {
		return err
	}
	e.invalidateDecisions()
	e.logger.Info("role revoked", "user", userID, "role", roleID)
	return nil
}

// RolesOf returns the roles currently assigned to the user.
func (e *Engine) RolesOf(ctx context.Context, tenantID, userID string) ([]*Role, error) {
	principal, err := e.resolvePrincipal(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	out := make([]*Role, 0, len(principal.RoleIDs))
	for _, id := range principal.RoleIDs {
		role, err := e.stores.Roles.GetRole(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, role)
	}
	return out, nil
}
