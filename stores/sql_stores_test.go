package stores

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/oarkflow/squealx"
	_ "modernc.org/sqlite"

	"github.com/corvina/rbac"
)

func newTestDB(t *testing.T) *squealx.DB {
	t.Helper()
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	db := squealx.NewDb(sqlDB, "sqlite", "testdb")
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedTenant(t *testing.T, db *squealx.DB) *rbac.Tenant {
	t.Helper()
	store := NewSQLTenantStore(db)
	tenant := &rbac.Tenant{ID: "t-1", Name: "Acme", Code: "acme"}
	if err := store.CreateTenant(context.Background(), tenant); err != nil {
		t.Fatalf("seed tenant: %v", err)
	}
	return tenant
}

func TestSQLTenantStoreRoundtrip(t *testing.T) {
	db := newTestDB(t)
	store := NewSQLTenantStore(db)
	ctx := context.Background()

	tenant := &rbac.Tenant{ID: "t-1", Name: "Acme", Code: "acme", CreatedAt: time.Now()}
	if err := store.CreateTenant(ctx, tenant); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.CreateTenant(ctx, &rbac.Tenant{ID: "t-2", Name: "Other", Code: "acme"}); !errors.Is(err, rbac.ErrConflict) {
		t.Fatalf("duplicate code must conflict, got %v", err)
	}

	got, err := store.GetTenantByCode(ctx, "acme")
	if err != nil || got.ID != "t-1" || got.Name != "Acme" {
		t.Fatalf("get by code: %+v %v", got, err)
	}

	got.Name = "Acme Corp"
	if err := store.UpdateTenant(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = store.GetTenant(ctx, "t-1")
	if got.Name != "Acme Corp" {
		t.Fatalf("update not persisted: %s", got.Name)
	}

	if err := store.DeleteTenant(ctx, "t-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.GetTenant(ctx, "t-1"); !errors.Is(err, rbac.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestSQLDepartmentStoreMoveSubtree(t *testing.T) {
	db := newTestDB(t)
	seedTenant(t, db)
	store := NewSQLDepartmentStore(db)
	ctx := context.Background()

	a := &rbac.Department{ID: "d-a", TenantID: "t-1", Name: "A", Path: "/d-a", Level: 0}
	b := &rbac.Department{ID: "d-b", TenantID: "t-1", Name: "B", ParentID: "d-a", Path: "/d-a/d-b", Level: 1}
	c := &rbac.Department{ID: "d-c", TenantID: "t-1", Name: "C", ParentID: "d-b", Path: "/d-a/d-b/d-c", Level: 2}
	target := &rbac.Department{ID: "d-t", TenantID: "t-1", Name: "Target", Path: "/d-t", Level: 0}
	for _, d := range []*rbac.Department{a, b, c, target} {
		if err := store.CreateDepartment(ctx, d); err != nil {
			t.Fatalf("create %s: %v", d.ID, err)
		}
	}

	// move b (and its subtree) under target
	if err := store.MoveSubtree(ctx, "t-1", "d-b", "d-t", "/d-a/d-b", "/d-t/d-b", 0); err != nil {
		t.Fatalf("move subtree: %v", err)
	}

	moved, err := store.GetDepartment(ctx, "d-b")
	if err != nil {
		t.Fatalf("get moved: %v", err)
	}
	if moved.Path != "/d-t/d-b" || moved.ParentID != "d-t" || moved.Level != 1 {
		t.Fatalf("moved node wrong: %+v", moved)
	}
	desc, err := store.GetDepartment(ctx, "d-c")
	if err != nil {
		t.Fatalf("get descendant: %v", err)
	}
	if desc.Path != "/d-t/d-b/d-c" || desc.ParentID != "d-b" || desc.Level != 2 {
		t.Fatalf("descendant wrong: %+v", desc)
	}

	// nothing outside the subtree changes
	rootA, _ := store.GetDepartment(ctx, "d-a")
	if rootA.Path != "/d-a" || rootA.Level != 0 {
		t.Fatalf("untouched node changed: %+v", rootA)
	}

	sub, err := store.ListByPathPrefix(ctx, "t-1", "/d-t/")
	if err != nil {
		t.Fatalf("list by prefix: %v", err)
	}
	if len(sub) != 2 {
		t.Fatalf("expected 2 nodes under /d-t/, got %d", len(sub))
	}
}

func TestSQLDepartmentStoreLikeMetacharIDs(t *testing.T) {
	db := newTestDB(t)
	seedTenant(t, db)
	store := NewSQLDepartmentStore(db)
	ctx := context.Background()

	// "d_1" and "dx1" collide if the LIKE underscore is not escaped
	root := &rbac.Department{ID: "d_1", TenantID: "t-1", Name: "Under", Path: "/d_1", Level: 0}
	child := &rbac.Department{ID: "c1", TenantID: "t-1", Name: "Child", ParentID: "d_1", Path: "/d_1/c1", Level: 1}
	other := &rbac.Department{ID: "dx1", TenantID: "t-1", Name: "Other", Path: "/dx1", Level: 0}
	otherChild := &rbac.Department{ID: "c2", TenantID: "t-1", Name: "OtherChild", ParentID: "dx1", Path: "/dx1/c2", Level: 1}
	newRoot := &rbac.Department{ID: "newroot", TenantID: "t-1", Name: "NewRoot", Path: "/newroot", Level: 0}
	for _, d := range []*rbac.Department{root, child, other, otherChild, newRoot} {
		if err := store.CreateDepartment(ctx, d); err != nil {
			t.Fatalf("create %s: %v", d.ID, err)
		}
	}

	sub, err := store.ListByPathPrefix(ctx, "t-1", "/d_1/")
	if err != nil {
		t.Fatalf("list by prefix: %v", err)
	}
	if len(sub) != 1 || sub[0].ID != "c1" {
		t.Fatalf("expected only c1 under /d_1/, got %+v", sub)
	}

	if err := store.MoveSubtree(ctx, "t-1", "d_1", "newroot", "/d_1", "/newroot/d_1", 1); err != nil {
		t.Fatalf("move subtree: %v", err)
	}
	moved, err := store.GetDepartment(ctx, "c1")
	if err != nil {
		t.Fatalf("get moved child: %v", err)
	}
	if moved.Path != "/newroot/d_1/c1" || moved.Level != 2 {
		t.Fatalf("moved child wrong: %+v", moved)
	}
	outside, err := store.GetDepartment(ctx, "c2")
	if err != nil {
		t.Fatalf("get outside node: %v", err)
	}
	if outside.Path != "/dx1/c2" || outside.ParentID != "dx1" || outside.Level != 1 {
		t.Fatalf("node outside the subtree changed: %+v", outside)
	}
}

func TestSQLPolicyStoreOrdering(t *testing.T) {
	db := newTestDB(t)
	seedTenant(t, db)
	roles := NewSQLRoleStore(db)
	policies := NewSQLPolicyStore(db)
	ctx := context.Background()

	if err := roles.CreateRole(ctx, &rbac.Role{ID: "r-1", TenantID: "t-1", Name: "Editor", Code: "editor"}); err != nil {
		t.Fatalf("create role: %v", err)
	}

	base := time.Now()
	for i, id := range []string{"p-b", "p-a", "p-c"} {
		p := &rbac.Policy{
			ID:        id,
			RoleID:    "r-1",
			TenantID:  "t-1",
			Effect:    rbac.EffectAllow,
			Resource:  "doc:*",
			Actions:   []rbac.Action{"read"},
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := policies.CreatePolicy(ctx, p); err != nil {
			t.Fatalf("create policy %s: %v", id, err)
		}
	}

	got, err := policies.ListPoliciesByRoles(ctx, []string{"r-1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 policies, got %d", len(got))
	}
	if got[0].ID != "p-b" || got[1].ID != "p-a" || got[2].ID != "p-c" {
		t.Fatalf("wrong order: %s %s %s", got[0].ID, got[1].ID, got[2].ID)
	}
	if len(got[0].Actions) != 1 || got[0].Actions[0] != "read" {
		t.Fatalf("actions lost in roundtrip: %v", got[0].Actions)
	}
}

func TestSQLAssignmentStore(t *testing.T) {
	db := newTestDB(t)
	seedTenant(t, db)
	users := NewSQLUserStore(db)
	roles := NewSQLRoleStore(db)
	assignments := NewSQLAssignmentStore(db)
	ctx := context.Background()

	if err := users.CreateUser(ctx, &rbac.User{ID: "u-1", TenantID: "t-1", Email: "a@x.test", Name: "A"}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := roles.CreateRole(ctx, &rbac.Role{ID: "r-1", TenantID: "t-1", Name: "Editor", Code: "editor"}); err != nil {
		t.Fatalf("create role: %v", err)
	}

	a := &rbac.UserRole{ID: "ur-1", UserID: "u-1", RoleID: "r-1"}
	if err := assignments.CreateAssignment(ctx, a); err != nil {
		t.Fatalf("create assignment: %v", err)
	}
	if err := assignments.CreateAssignment(ctx, a); !errors.Is(err, rbac.ErrConflict) {
		t.Fatalf("duplicate must conflict, got %v", err)
	}

	roleIDs, err := assignments.ListRoleIDs(ctx, "u-1")
	if err != nil || len(roleIDs) != 1 || roleIDs[0] != "r-1" {
		t.Fatalf("list roles: %v %v", roleIDs, err)
	}

	if err := assignments.DeleteAssignment(ctx, "u-1", "r-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := assignments.DeleteAssignment(ctx, "u-1", "r-1"); !errors.Is(err, rbac.ErrNotFound) {
		t.Fatalf("second delete must be not found, got %v", err)
	}
}

func TestSQLStoresWithEngine(t *testing.T) {
	db := newTestDB(t)
	bundle, err := NewSQLStores(db)
	if err != nil {
		t.Fatalf("new sql stores: %v", err)
	}
	engine, err := rbac.NewEngine(bundle)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer engine.Close()
	ctx := context.Background()

	tenant, err := engine.CreateTenant(ctx, "Acme", "acme")
	if err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	role, err := engine.CreateRole(ctx, tenant.ID, "Editor", "editor")
	if err != nil {
		t.Fatalf("create role: %v", err)
	}
	user, err := engine.CreateUser(ctx, tenant.ID, "alice@acme.test", "Alice", "x", "")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := engine.AssignRole(ctx, user.ID, role.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := engine.AttachPolicy(ctx, role.ID, rbac.EffectAllow, "doc:*", []rbac.Action{"read"}, ""); err != nil {
		t.Fatalf("attach: %v", err)
	}

	dec, err := engine.Authorize(ctx, tenant.ID, user.ID, "doc:1", "read", nil)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !dec.Allowed {
		t.Fatalf("expected allow through SQL stores, got %q", dec.Reason)
	}
}

func TestSQLAuditStoreRoundtrip(t *testing.T) {
	db := newTestDB(t)
	store, _ := NewSQLAuditStore(db)
	ctx := context.Background()

	entry := &rbac.AuditEntry{
		ID:        "evt-1",
		Timestamp: time.Now(),
		TenantID:  "t-1",
		UserID:    "u-1",
		Resource:  "doc:1",
		Action:    "read",
		Decision:  &rbac.Decision{Allowed: false, Reason: "default deny"},
		Context:   map[string]any{"amount": 12.5},
	}
	if err := store.LogDecision(ctx, entry); err != nil {
		t.Fatalf("log decision: %v", err)
	}

	logs, err := store.GetAccessLog(ctx, rbac.AuditFilter{UserID: "u-1", Limit: 10})
	if err != nil {
		t.Fatalf("get access log: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 log, got %d", len(logs))
	}
	got := logs[0]
	if got.Resource != "doc:1" || got.Decision.Allowed || got.Decision.Reason != "default deny" {
		t.Fatalf("unexpected entry: %+v", got)
	}
	if got.Context["amount"] != 12.5 {
		t.Fatalf("context lost: %v", got.Context)
	}
}
