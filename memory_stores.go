package rbac

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of every storage interface,
// sharing a single lock so multi-entity operations observe a consistent
// snapshot. Intended for tests and small embedded deployments; production
// setups use the SQL stores in the stores package.
type MemoryStore struct {
	mu          sync.RWMutex
	tenants     map[string]*Tenant
	departments map[string]*Department
	users       map[string]*User
	roles       map[string]*Role
	policies    map[string]*Policy
	assignments map[string]*UserRole // key: userID + "\x00" + roleID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:     make(map[string]*Tenant),
		departments: make(map[string]*Department),
		users:       make(map[string]*User),
		roles:       make(map[string]*Role),
		policies:    make(map[string]*Policy),
		assignments: make(map[string]*UserRole),
	}
}

// NewMemoryStores returns a Stores bundle backed by one MemoryStore.
func NewMemoryStores() Stores {
	m := NewMemoryStore()
	return Stores{
		Tenants:     m,
		Departments: m,
		Users:       m,
		Roles:       m,
		Policies:    m,
		Assignments: m,
	}
}

func assignmentKey(userID, roleID string) string {
	return userID + "\x00" + roleID
}

// ---- TenantStore ----

func (m *MemoryStore) CreateTenant(_ context.Context, t *Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tenants[t.ID]; ok {
		return fmt.Errorf("tenant %s: %w", t.ID, ErrConflict)
	}
	for _, existing := range m.tenants {
		if existing.Code == t.Code {
			return fmt.Errorf("tenant code %s: %w", t.Code, ErrConflict)
		}
	}
	cp := *t
	m.tenants[t.ID] = &cp
	return nil
}

func (m *MemoryStore) GetTenant(_ context.Context, id string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tenants[id]
	if !ok {
		return nil, fmt.Errorf("tenant %s: %w", id, ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) GetTenantByCode(_ context.Context, code string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.tenants {
		if t.Code == code {
			cp := *t
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("tenant code %s: %w", code, ErrNotFound)
}

func (m *MemoryStore) UpdateTenant(_ context.Context, t *Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tenants[t.ID]; !ok {
		return fmt.Errorf("tenant %s: %w", t.ID, ErrNotFound)
	}
	cp := *t
	cp.UpdatedAt = time.Now()
	m.tenants[t.ID] = &cp
	return nil
}

func (m *MemoryStore) DeleteTenant(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tenants[id]; !ok {
		return fmt.Errorf("tenant %s: %w", id, ErrNotFound)
	}
	delete(m.tenants, id)
	return nil
}

// ---- DepartmentStore ----

func (m *MemoryStore) CreateDepartment(_ context.Context, d *Department) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.departments[d.ID]; ok {
		return fmt.Errorf("department %s: %w", d.ID, ErrConflict)
	}
	cp := *d
	m.departments[d.ID] = &cp
	return nil
}

func (m *MemoryStore) GetDepartment(_ context.Context, id string) (*Department, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.departments[id]
	if !ok {
		return nil, fmt.Errorf("department %s: %w", id, ErrNotFound)
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) ListDepartments(_ context.Context, tenantID string) ([]*Department, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Department, 0)
	for _, d := range m.departments {
		if d.TenantID == tenantID {
			cp := *d
			out = append(out, &cp)
		}
	}
	sortDepartments(out)
	return out, nil
}

func (m *MemoryStore) ListChildren(_ context.Context, parentID string) ([]*Department, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Department, 0)
	for _, d := range m.departments {
		if d.ParentID == parentID && parentID != "" {
			cp := *d
			out = append(out, &cp)
		}
	}
	sortDepartments(out)
	return out, nil
}

func (m *MemoryStore) ListByPathPrefix(_ context.Context, tenantID, prefix string) ([]*Department, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Department, 0)
	for _, d := range m.departments {
		if d.TenantID == tenantID && strings.HasPrefix(d.Path, prefix) {
			cp := *d
			out = append(out, &cp)
		}
	}
	sortDepartments(out)
	return out, nil
}

func (m *MemoryStore) MoveSubtree(_ context.Context, tenantID, deptID, newParentID, oldPath, newPath string, levelDelta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	root, ok := m.departments[deptID]
	if !ok || root.TenantID != tenantID {
		return fmt.Errorf("department %s: %w", deptID, ErrNotFound)
	}
	for _, d := range m.departments {
		if d.TenantID != tenantID {
			continue
		}
		if d.ID == deptID || strings.HasPrefix(d.Path, oldPath+"/") {
			d.Path = newPath + strings.TrimPrefix(d.Path, oldPath)
			d.Level += levelDelta
			if d.ID == deptID {
				d.ParentID = newParentID
			}
		}
	}
	return nil
}

func (m *MemoryStore) DeleteDepartment(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.departments[id]; !ok {
		return fmt.Errorf("department %s: %w", id, ErrNotFound)
	}
	delete(m.departments, id)
	return nil
}

func sortDepartments(ds []*Department) {
	sort.Slice(ds, func(i, j int) bool { return ds[i].Path < ds[j].Path })
}

// ---- UserStore ----

func (m *MemoryStore) CreateUser(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; ok {
		return fmt.Errorf("user %s: %w", u.ID, ErrConflict)
	}
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return fmt.Errorf("user email %s: %w", u.Email, ErrConflict)
		}
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *MemoryStore) GetUser(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryStore) GetUserByEmail(_ context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("user email %s: %w", email, ErrNotFound)
}

func (m *MemoryStore) ListUsers(_ context.Context, tenantID string) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*User, 0)
	for _, u := range m.users {
		if u.TenantID == tenantID {
			cp := *u
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (m *MemoryStore) UpdateUser(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; !ok {
		return fmt.Errorf("user %s: %w", u.ID, ErrNotFound)
	}
	cp := *u
	cp.UpdatedAt = time.Now()
	m.users[u.ID] = &cp
	return nil
}

func (m *MemoryStore) DeleteUser(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	delete(m.users, id)
	return nil
}

func (m *MemoryStore) CountUsersByDepartment(_ context.Context, deptID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, u := range m.users {
		if u.DepartmentID == deptID {
			n++
		}
	}
	return n, nil
}

// ---- RoleStore ----

func (m *MemoryStore) CreateRole(_ context.Context, r *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[r.ID]; ok {
		return fmt.Errorf("role %s: %w", r.ID, ErrConflict)
	}
	for _, existing := range m.roles {
		if existing.TenantID == r.TenantID && existing.Code == r.Code {
			return fmt.Errorf("role code %s: %w", r.Code, ErrConflict)
		}
	}
	cp := *r
	m.roles[r.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRole(_ context.Context, id string) (*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.roles[id]
	if !ok {
		return nil, fmt.Errorf("role %s: %w", id, ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) GetRoleByCode(_ context.Context, tenantID, code string) (*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.roles {
		if r.TenantID == tenantID && r.Code == code {
			cp := *r
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("role code %s: %w", code, ErrNotFound)
}

func (m *MemoryStore) ListRoles(_ context.Context, tenantID string) ([]*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Role, 0)
	for _, r := range m.roles {
		if r.TenantID == tenantID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *MemoryStore) UpdateRole(_ context.Context, r *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[r.ID]; !ok {
		return fmt.Errorf("role %s: %w", r.ID, ErrNotFound)
	}
	cp := *r
	m.roles[r.ID] = &cp
	return nil
}

func (m *MemoryStore) DeleteRole(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[id]; !ok {
		return fmt.Errorf("role %s: %w", id, ErrNotFound)
	}
	delete(m.roles, id)
	return nil
}

// ---- PolicyStore ----

func (m *MemoryStore) CreatePolicy(_ context.Context, p *Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.policies[p.ID]; ok {
		return fmt.Errorf("policy %s: %w", p.ID, ErrConflict)
	}
	cp := *p
	cp.Actions = append([]Action(nil), p.Actions...)
	m.policies[p.ID] = &cp
	return nil
}

func (m *MemoryStore) GetPolicy(_ context.Context, id string) (*Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.policies[id]
	if !ok {
		return nil, fmt.Errorf("policy %s: %w", id, ErrNotFound)
	}
	return clonePolicy(p), nil
}

func (m *MemoryStore) ListPoliciesByRole(_ context.Context, roleID string) ([]*Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Policy, 0)
	for _, p := range m.policies {
		if p.RoleID == roleID {
			out = append(out, clonePolicy(p))
		}
	}
	sortPolicies(out)
	return out, nil
}

func (m *MemoryStore) ListPoliciesByRoles(_ context.Context, roleIDs []string) ([]*Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wanted := make(map[string]bool, len(roleIDs))
	for _, id := range roleIDs {
		wanted[id] = true
	}
	out := make([]*Policy, 0)
	for _, p := range m.policies {
		if wanted[p.RoleID] {
			out = append(out, clonePolicy(p))
		}
	}
	sortPolicies(out)
	return out, nil
}

func (m *MemoryStore) DeletePolicy(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.policies[id]; !ok {
		return fmt.Errorf("policy %s: %w", id, ErrNotFound)
	}
	delete(m.policies, id)
	return nil
}

func (m *MemoryStore) DeletePoliciesByRole(_ context.Context, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.policies {
		if p.RoleID == roleID {
			delete(m.policies, id)
		}
	}
	return nil
}

func clonePolicy(p *Policy) *Policy {
	cp := *p
	cp.Actions = append([]Action(nil), p.Actions...)
	return &cp
}

func sortPolicies(ps []*Policy) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].ID < ps[j].ID
		}
		return ps[i].CreatedAt.Before(ps[j].CreatedAt)
	})
}

// ---- AssignmentStore ----

func (m *MemoryStore) CreateAssignment(_ context.Context, a *UserRole) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := assignmentKey(a.UserID, a.RoleID)
	if _, ok := m.assignments[key]; ok {
		return fmt.Errorf("assignment %s/%s: %w", a.UserID, a.RoleID, ErrConflict)
	}
	cp := *a
	m.assignments[key] = &cp
	return nil
}

func (m *MemoryStore) GetAssignment(_ context.Context, userID, roleID string) (*UserRole, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assignments[assignmentKey(userID, roleID)]
	if !ok {
		return nil, fmt.Errorf("assignment %s/%s: %w", userID, roleID, ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) DeleteAssignment(_ context.Context, userID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := assignmentKey(userID, roleID)
	if _, ok := m.assignments[key]; !ok {
		return fmt.Errorf("assignment %s/%s: %w", userID, roleID, ErrNotFound)
	}
	delete(m.assignments, key)
	return nil
}

func (m *MemoryStore) ListRoleIDs(_ context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0)
	for _, a := range m.assignments {
		if a.UserID == userID {
			out = append(out, a.RoleID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) ListUserIDs(_ context.Context, roleID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0)
	for _, a := range m.assignments {
		if a.RoleID == roleID {
			out = append(out, a.UserID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) DeleteAssignmentsByUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, a := range m.assignments {
		if a.UserID == userID {
			delete(m.assignments, key)
		}
	}
	return nil
}

func (m *MemoryStore) DeleteAssignmentsByRole(_ context.Context, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, a := range m.assignments {
		if a.RoleID == roleID {
			delete(m.assignments, key)
		}
	}
	return nil
}
