package rbac

import "time"

// Effect represents the outcome a policy asserts
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Valid reports whether the effect is one of the two permitted values.
func (e Effect) Valid() bool {
	return e == EffectAllow || e == EffectDeny
}

// Action represents how a resource is being accessed
type Action string

// ActionAll matches every action when used in a policy's action list.
const ActionAll Action = "*"

// Tenant is the isolation boundary; every other entity belongs to exactly one tenant
type Tenant struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	Code      string    `json:"code" yaml:"code"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at,omitempty"`
}

// Department is an organizational unit inside a tenant. Departments form a
// forest: root departments have an empty ParentID and level 0. Path is the
// materialized ancestor chain ("/root-id/child-id") and Level equals the
// number of ancestors; both are derived and maintained by the engine, never
// set by callers.
type Department struct {
	ID        string    `json:"id" yaml:"id"`
	TenantID  string    `json:"tenant_id" yaml:"tenant_id"`
	Name      string    `json:"name" yaml:"name"`
	ParentID  string    `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	Path      string    `json:"path" yaml:"path,omitempty"`
	Level     int       `json:"level" yaml:"level,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at,omitempty"`
}

// User belongs to one tenant and at most one department. PasswordHash is
// opaque to this package; hashing and credential checks happen elsewhere.
type User struct {
	ID           string    `json:"id" yaml:"id"`
	TenantID     string    `json:"tenant_id" yaml:"tenant_id"`
	Email        string    `json:"email" yaml:"email"`
	Name         string    `json:"name" yaml:"name"`
	PasswordHash string    `json:"-" yaml:"-"`
	DepartmentID string    `json:"department_id,omitempty" yaml:"department_id,omitempty"`
	CreatedAt    time.Time `json:"created_at" yaml:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at" yaml:"updated_at,omitempty"`
}

// Role is the unit of policy attachment. Code is unique within a tenant and
// serves as the stable external identifier. Roles carry no allow/deny logic
// themselves.
type Role struct {
	ID          string    `json:"id" yaml:"id"`
	TenantID    string    `json:"tenant_id" yaml:"tenant_id"`
	Name        string    `json:"name" yaml:"name"`
	Code        string    `json:"code" yaml:"code"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at,omitempty"`
}

// Policy is a single allow/deny rule bound to a role. Resource is a pattern
// ("doc:*", "dept:123/*", "*"); Actions is a non-empty set of action
// identifiers; Condition is an optional expression evaluated against the
// request context, empty meaning "always true".
type Policy struct {
	ID        string    `json:"id" yaml:"id"`
	RoleID    string    `json:"role_id" yaml:"role_id"`
	TenantID  string    `json:"tenant_id" yaml:"tenant_id"`
	Effect    Effect    `json:"effect" yaml:"effect"`
	Resource  string    `json:"resource" yaml:"resource"`
	Actions   []Action  `json:"actions" yaml:"actions"`
	Condition string    `json:"condition,omitempty" yaml:"condition,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at,omitempty"`
}

// UserRole binds a user to a role; unique on (UserID, RoleID)
type UserRole struct {
	ID        string    `json:"id" yaml:"id"`
	UserID    string    `json:"user_id" yaml:"user_id"`
	RoleID    string    `json:"role_id" yaml:"role_id"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at,omitempty"`
}

// Decision is the outcome of one Authorize call. It is ephemeral and never
// persisted by the engine itself; the audit store keeps its own copy.
type Decision struct {
	Allowed         bool      `json:"allowed"`
	MatchedPolicyID string    `json:"matched_policy_id,omitempty"`
	Reason          string    `json:"reason"`
	Trace           []string  `json:"trace,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Principal is a fully resolved subject: the user, its assigned role IDs and
// its department (nil when the user has none). Built by the engine per call.
type Principal struct {
	User       *User
	RoleIDs    []string
	Department *Department
}
