package rbac

import "context"

// Storage interfaces consumed by the engine. Implementations must wrap the
// package sentinels (ErrNotFound, ErrConflict) so callers can classify
// failures, and must enforce the uniqueness constraints noted per method.

// TenantStore persists tenants. Tenant.Code is globally unique.
type TenantStore interface {
	CreateTenant(ctx context.Context, t *Tenant) error
	GetTenant(ctx context.Context, id string) (*Tenant, error)
	GetTenantByCode(ctx context.Context, code string) (*Tenant, error)
	UpdateTenant(ctx context.Context, t *Tenant) error
	DeleteTenant(ctx context.Context, id string) error
}

// DepartmentStore persists departments keyed by id with a maintained
// materialized path index.
type DepartmentStore interface {
	CreateDepartment(ctx context.Context, d *Department) error
	GetDepartment(ctx context.Context, id string) (*Department, error)
	ListDepartments(ctx context.Context, tenantID string) ([]*Department, error)
	ListChildren(ctx context.Context, parentID string) ([]*Department, error)
	// ListByPathPrefix returns departments of the tenant whose path starts
	// with the given prefix. The engine derives subtree queries from it.
	ListByPathPrefix(ctx context.Context, tenantID, prefix string) ([]*Department, error)
	// MoveSubtree atomically reparents the department and rewrites path and
	// level for every node in its subtree: each path swaps the oldPath prefix
	// for newPath and each level shifts by levelDelta. All rows commit or
	// none do.
	MoveSubtree(ctx context.Context, tenantID, deptID, newParentID, oldPath, newPath string, levelDelta int) error
	DeleteDepartment(ctx context.Context, id string) error
}

// UserStore persists users. User.Email is globally unique.
type UserStore interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	ListUsers(ctx context.Context, tenantID string) ([]*User, error)
	UpdateUser(ctx context.Context, u *User) error
	DeleteUser(ctx context.Context, id string) error
	CountUsersByDepartment(ctx context.Context, deptID string) (int, error)
}

// RoleStore persists roles. Role.Code is unique per tenant.
type RoleStore interface {
	CreateRole(ctx context.Context, r *Role) error
	GetRole(ctx context.Context, id string) (*Role, error)
	GetRoleByCode(ctx context.Context, tenantID, code string) (*Role, error)
	ListRoles(ctx context.Context, tenantID string) ([]*Role, error)
	UpdateRole(ctx context.Context, r *Role) error
	DeleteRole(ctx context.Context, id string) error
}

// PolicyStore persists policies attached to roles.
type PolicyStore interface {
	CreatePolicy(ctx context.Context, p *Policy) error
	GetPolicy(ctx context.Context, id string) (*Policy, error)
	ListPoliciesByRole(ctx context.Context, roleID string) ([]*Policy, error)
	ListPoliciesByRoles(ctx context.Context, roleIDs []string) ([]*Policy, error)
	DeletePolicy(ctx context.Context, id string) error
	DeletePoliciesByRole(ctx context.Context, roleID string) error
}

// AssignmentStore persists user-role bindings, unique on (UserID, RoleID).
type AssignmentStore interface {
	CreateAssignment(ctx context.Context, a *UserRole) error
	GetAssignment(ctx context.Context, userID, roleID string) (*UserRole, error)
	// DeleteAssignment removes the binding; it fails with ErrNotFound when
	// the binding does not exist, so a second revoke never silently succeeds.
	DeleteAssignment(ctx context.Context, userID, roleID string) error
	ListRoleIDs(ctx context.Context, userID string) ([]string, error)
	ListUserIDs(ctx context.Context, roleID string) ([]string, error)
	DeleteAssignmentsByUser(ctx context.Context, userID string) error
	DeleteAssignmentsByRole(ctx context.Context, roleID string) error
}

// Stores bundles the storage handles the engine depends on.
type Stores struct {
	Tenants     TenantStore
	Departments DepartmentStore
	Users       UserStore
	Roles       RoleStore
	Policies    PolicyStore
	Assignments AssignmentStore
}
