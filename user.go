package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// CreateUser registers a user in the tenant. Email is unique across the
// directory; passwordHash is stored opaquely and never inspected here. The
// optional department must belong to the same tenant.
func (e *Engine) CreateUser(ctx context.Context, tenantID, email, name, passwordHash, departmentID string) (*User, error) {
	if email == "" || name == "" {
		return nil, fmt.Errorf("%w: user email and name are required", ErrInvalidOperation)
	}
	if _, err := e.stores.Tenants.GetTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	if _, err := e.stores.Users.GetUserByEmail(ctx, email); err == nil {
		return nil, fmt.Errorf("user email %s: %w", email, ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if departmentID != "" {
		if _, err := e.getTenantDepartment(ctx, tenantID, departmentID); err != nil {
			return nil, err
		}
	}
	now := time.Now()
	u := &User{
		ID:           newID(),
		TenantID:     tenantID,
		Email:        email,
		Name:         name,
		PasswordHash: passwordHash,
		DepartmentID: departmentID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.stores.Users.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	e.logger.Info("user created", "tenant", tenantID, "user", u.ID)
	return u, nil
}

// MoveUser reassigns the user's department; empty departmentID detaches.
func (e *Engine) MoveUser(ctx context.Context, tenantID, userID, departmentID string) error {
	user, err := e.stores.Users.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.TenantID != tenantID {
		return fmt.Errorf("user %s in tenant %s: %w", userID, tenantID, ErrNotFound)
	}
	if departmentID != "" {
		if _, err := e.getTenantDepartment(ctx, tenantID, departmentID); err != nil {
			return err
		}
	}
	user.DepartmentID = departmentID
	if err := e.stores.Users.UpdateUser(ctx, user); err != nil {
		return err
	}
	e.invalidateDecisions()
	return nil
}

// DeleteUser removes the user and cascades its role bindings.
func (e *Engine) DeleteUser(ctx context.Context, userID string) error {
	if _, err := e.stores.Users.GetUser(ctx, userID); err != nil {
		return err
	}
	if err := e.stores.Assignments.DeleteAssignmentsByUser(ctx, userID); err != nil {
		return err
	}
	if err := e.stores.Users.DeleteUser(ctx, userID); err != nil {
		return err
	}
	e.invalidateDecisions()
	e.logger.Info("user deleted", "user", userID)
	return nil
}
