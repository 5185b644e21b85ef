package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is a declarative snapshot of an authorization setup: tenants,
// department trees, users, roles with their policies, and user-role
// assignments. Seed entries carry explicit ids so configs stay idempotent
// across ApplyConfig runs.
type Config struct {
	Version     int              `json:"version" yaml:"version"`
	Tenants     []TenantSeed     `json:"tenants" yaml:"tenants"`
	Departments []DepartmentSeed `json:"departments,omitempty" yaml:"departments,omitempty"`
	Users       []UserSeed       `json:"users,omitempty" yaml:"users,omitempty"`
	Roles       []RoleSeed       `json:"roles,omitempty" yaml:"roles,omitempty"`
	Policies    []PolicySeed     `json:"policies,omitempty" yaml:"policies,omitempty"`
	Assignments []AssignmentSeed `json:"assignments,omitempty" yaml:"assignments,omitempty"`
	Engine      EngineConfig     `json:"engine,omitempty" yaml:"engine,omitempty"`
}

type TenantSeed struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	Code string `json:"code" yaml:"code"`
}

type DepartmentSeed struct {
	ID       string `json:"id" yaml:"id"`
	TenantID string `json:"tenant_id" yaml:"tenant_id"`
	Name     string `json:"name" yaml:"name"`
	ParentID string `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
}

type UserSeed struct {
	ID           string `json:"id" yaml:"id"`
	TenantID     string `json:"tenant_id" yaml:"tenant_id"`
	Email        string `json:"email" yaml:"email"`
	Name         string `json:"name" yaml:"name"`
	DepartmentID string `json:"department_id,omitempty" yaml:"department_id,omitempty"`
}

type RoleSeed struct {
	ID          string `json:"id" yaml:"id"`
	TenantID    string `json:"tenant_id" yaml:"tenant_id"`
	Name        string `json:"name" yaml:"name"`
	Code        string `json:"code" yaml:"code"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

type PolicySeed struct {
	ID        string   `json:"id" yaml:"id"`
	RoleID    string   `json:"role_id" yaml:"role_id"`
	Effect    Effect   `json:"effect" yaml:"effect"`
	Resource  string   `json:"resource" yaml:"resource"`
	Actions   []Action `json:"actions" yaml:"actions"`
	Condition string   `json:"condition,omitempty" yaml:"condition,omitempty"`
}

type AssignmentSeed struct {
	UserID string `json:"user_id" yaml:"user_id"`
	RoleID string `json:"role_id" yaml:"role_id"`
}

// EngineConfig carries engine tuning knobs.
type EngineConfig struct {
	DecisionCacheTTL    int64 `json:"decision_cache_ttl_ms,omitempty" yaml:"decision_cache_ttl_ms,omitempty"`
	RistrettoNumCounter int64 `json:"ristretto_num_counter,omitempty" yaml:"ristretto_num_counter,omitempty"`
	RistrettoMaxCost    int64 `json:"ristretto_max_cost,omitempty" yaml:"ristretto_max_cost,omitempty"`
	RistrettoBuffer     int64 `json:"ristretto_buffer,omitempty" yaml:"ristretto_buffer,omitempty"`
	AuditBuffer         int   `json:"audit_buffer,omitempty" yaml:"audit_buffer,omitempty"`
}

// ConfigLoader loads configuration from YAML or JSON.
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader { return &ConfigLoader{} }

func (l *ConfigLoader) LoadYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *ConfigLoader) LoadJSON(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile picks the format from the extension (.yaml/.yml/.json).
func (l *ConfigLoader) LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return l.LoadYAML(data)
	case ".json":
		return l.LoadJSON(data)
	default:
		return nil, fmt.Errorf("%w: unsupported config extension %q", ErrInvalidOperation, filepath.Ext(path))
	}
}

func (c *Config) ToYAML() ([]byte, error) { return yaml.Marshal(c) }

func (c *Config) ToJSON() ([]byte, error) { return json.MarshalIndent(c, "", "  ") }

// Validate performs the structural checks that do not need a store: ids
// present, effects valid, actions non-empty, references resolvable within
// the config itself, and department parents acyclic.
func (c *Config) Validate() error {
	tenants := make(map[string]bool)
	for _, t := range c.Tenants {
		if t.ID == "" || t.Code == "" {
			return fmt.Errorf("%w: tenant needs id and code", ErrInvalidOperation)
		}
		tenants[t.ID] = true
	}
	depts := make(map[string]DepartmentSeed)
	for _, d := range c.Departments {
		if d.ID == "" || !tenants[d.TenantID] {
			return fmt.Errorf("%w: department %q needs id and a known tenant", ErrInvalidOperation, d.Name)
		}
		depts[d.ID] = d
	}
	for _, d := range c.Departments {
		seen := map[string]bool{d.ID: true}
		for cur := d.ParentID; cur != ""; {
			parent, ok := depts[cur]
			if !ok {
				return fmt.Errorf("%w: department %s references unknown parent %s", ErrInvalidOperation, d.ID, cur)
			}
			if parent.TenantID != d.TenantID {
				return fmt.Errorf("department %s parent %s: %w", d.ID, cur, ErrCrossTenant)
			}
			if seen[cur] {
				return fmt.Errorf("%w: department parent cycle at %s", ErrInvalidOperation, cur)
			}
			seen[cur] = true
			cur = parent.ParentID
		}
	}
	roles := make(map[string]RoleSeed)
	for _, r := range c.Roles {
		if r.ID == "" || r.Code == "" || !tenants[r.TenantID] {
			return fmt.Errorf("%w: role %q needs id, code and a known tenant", ErrInvalidOperation, r.Name)
		}
		roles[r.ID] = r
	}
	users := make(map[string]UserSeed)
	for _, u := range c.Users {
		if u.ID == "" || u.Email == "" || !tenants[u.TenantID] {
			return fmt.Errorf("%w: user %q needs id, email and a known tenant", ErrInvalidOperation, u.Name)
		}
		users[u.ID] = u
	}
	for _, p := range c.Policies {
		if !p.Effect.Valid() {
			return fmt.Errorf("%w: policy %s has effect %q", ErrInvalidOperation, p.ID, p.Effect)
		}
		if len(p.Actions) == 0 || p.Resource == "" {
			return fmt.Errorf("%w: policy %s needs actions and a resource", ErrInvalidOperation, p.ID)
		}
		if _, ok := roles[p.RoleID]; !ok {
			return fmt.Errorf("%w: policy %s references unknown role %s", ErrInvalidOperation, p.ID, p.RoleID)
		}
		if p.Condition != "" {
			if _, err := ParseCondition(p.Condition); err != nil {
				return fmt.Errorf("policy %s: %w", p.ID, err)
			}
		}
	}
	for _, a := range c.Assignments {
		u, okU := users[a.UserID]
		r, okR := roles[a.RoleID]
		if !okU || !okR {
			return fmt.Errorf("%w: assignment %s/%s references unknown entities", ErrInvalidOperation, a.UserID, a.RoleID)
		}
		if u.TenantID != r.TenantID {
			return fmt.Errorf("assignment %s/%s: %w", a.UserID, a.RoleID, ErrCrossTenant)
		}
	}
	return nil
}

// ApplyConfig seeds the stores from a validated config. Existing entities
// (matched by id) are left in place, so applying the same file twice is a
// no-op. Departments are created parents-first regardless of file order.
func (e *Engine) ApplyConfig(ctx context.Context, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Engine.RistrettoNumCounter > 0 {
		ttl := time.Duration(cfg.Engine.DecisionCacheTTL) * time.Millisecond
		if err := e.ConfigureDecisionCache(ttl, cfg.Engine.RistrettoNumCounter, cfg.Engine.RistrettoMaxCost, cfg.Engine.RistrettoBuffer); err != nil {
			return err
		}
	}

	now := time.Now()
	for _, t := range cfg.Tenants {
		if _, err := e.stores.Tenants.GetTenant(ctx, t.ID); err == nil {
			continue
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		tenant := &Tenant{ID: t.ID, Name: t.Name, Code: t.Code, CreatedAt: now, UpdatedAt: now}
		if err := e.stores.Tenants.CreateTenant(ctx, tenant); err != nil {
			return fmt.Errorf("seed tenant %s: %w", t.ID, err)
		}
	}

	if err := e.seedDepartments(ctx, cfg.Departments); err != nil {
		return err
	}

	for _, u := range cfg.Users {
		if _, err := e.stores.Users.GetUser(ctx, u.ID); err == nil {
			continue
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		user := &User{ID: u.ID, TenantID: u.TenantID, Email: u.Email, Name: u.Name, DepartmentID: u.DepartmentID, CreatedAt: now, UpdatedAt: now}
		if err := e.stores.Users.CreateUser(ctx, user); err != nil {
			return fmt.Errorf("seed user %s: %w", u.ID, err)
		}
	}

	for _, r := range cfg.Roles {
		if _, err := e.stores.Roles.GetRole(ctx, r.ID); err == nil {
			continue
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		role := &Role{ID: r.ID, TenantID: r.TenantID, Name: r.Name, Code: r.Code, Description: r.Description, CreatedAt: now}
		if err := e.stores.Roles.CreateRole(ctx, role); err != nil {
			return fmt.Errorf("seed role %s: %w", r.ID, err)
		}
	}

	roleTenant := make(map[string]string, len(cfg.Roles))
	for _, r := range cfg.Roles {
		roleTenant[r.ID] = r.TenantID
	}
	for _, p := range cfg.Policies {
		if _, err := e.stores.Policies.GetPolicy(ctx, p.ID); err == nil {
			continue
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		policy := &Policy{
			ID:        p.ID,
			RoleID:    p.RoleID,
			TenantID:  roleTenant[p.RoleID],
			Effect:    p.Effect,
			Resource:  p.Resource,
			Actions:   append([]Action(nil), p.Actions...),
			Condition: p.Condition,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := e.stores.Policies.CreatePolicy(ctx, policy); err != nil {
			return fmt.Errorf("seed policy %s: %w", p.ID, err)
		}
	}

	for _, a := range cfg.Assignments {
		if _, err := e.stores.Assignments.GetAssignment(ctx, a.UserID, a.RoleID); err == nil {
			continue
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		binding := &UserRole{ID: newID(), UserID: a.UserID, RoleID: a.RoleID, CreatedAt: now}
		if err := e.stores.Assignments.CreateAssignment(ctx, binding); err != nil {
			return fmt.Errorf("seed assignment %s/%s: %w", a.UserID, a.RoleID, err)
		}
	}

	e.invalidateDecisions()
	return nil
}

func (e *Engine) seedDepartments(ctx context.Context, seeds []DepartmentSeed) error {
	byID := make(map[string]DepartmentSeed, len(seeds))
	for _, d := range seeds {
		byID[d.ID] = d
	}
	var create func(id string) (*Department, error)
	create = func(id string) (*Department, error) {
		if dept, err := e.stores.Departments.GetDepartment(ctx, id); err == nil {
			return dept, nil
		} else if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		seed := byID[id]
		d := &Department{ID: seed.ID, TenantID: seed.TenantID, Name: seed.Name, ParentID: seed.ParentID, CreatedAt: time.Now()}
		if seed.ParentID == "" {
			d.Path = "/" + d.ID
			d.Level = 0
		} else {
			parent, err := create(seed.ParentID)
			if err != nil {
				return nil, err
			}
			d.Path = parent.Path + "/" + d.ID
			d.Level = parent.Level + 1
		}
		if err := e.stores.Departments.CreateDepartment(ctx, d); err != nil {
			return nil, fmt.Errorf("seed department %s: %w", d.ID, err)
		}
		return d, nil
	}
	for _, d := range seeds {
		if _, err := create(d.ID); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot exports the current state of a tenant as a Config, usable for
// backups or for moving a tenant between environments.
func (e *Engine) Snapshot(ctx context.Context, tenantID string) (*Config, error) {
	tenant, err := e.stores.Tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	cfg := &Config{Version: 1, Tenants: []TenantSeed{{ID: tenant.ID, Name: tenant.Name, Code: tenant.Code}}}

	depts, err := e.stores.Departments.ListDepartments(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	for _, d := range depts {
		cfg.Departments = append(cfg.Departments, DepartmentSeed{ID: d.ID, TenantID: d.TenantID, Name: d.Name, ParentID: d.ParentID})
	}

	users, err := e.stores.Users.ListUsers(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		cfg.Users = append(cfg.Users, UserSeed{ID: u.ID, TenantID: u.TenantID, Email: u.Email, Name: u.Name, DepartmentID: u.DepartmentID})
	}

	roles, err := e.stores.Roles.ListRoles(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	for _, r := range roles {
		cfg.Roles = append(cfg.Roles, RoleSeed{ID: r.ID, TenantID: r.TenantID, Name: r.Name, Code: r.Code, Description: r.Description})
		policies, err := e.stores.Policies.ListPoliciesByRole(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		for _, p := range policies {
			cfg.Policies = append(cfg.Policies, PolicySeed{ID: p.ID, RoleID: p.RoleID, Effect: p.Effect, Resource: p.Resource, Actions: p.Actions, Condition: p.Condition})
		}
		userIDs, err := e.stores.Assignments.ListUserIDs(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		for _, uid := range userIDs {
			cfg.Assignments = append(cfg.Assignments, AssignmentSeed{UserID: uid, RoleID: r.ID})
		}
	}
	return cfg, nil
}
