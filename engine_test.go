package rbac

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fixture struct {
	engine *Engine
	tenant *Tenant
	editor *Role
	alice  *User
}

func newFixture(t *testing.T, opts ...EngineOption) *fixture {
	t.Helper()
	engine, err := NewEngine(NewMemoryStores(), opts...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(engine.Close)
	ctx := context.Background()

	tenant, err := engine.CreateTenant(ctx, "Acme", "acme")
	if err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	editor, err := engine.CreateRole(ctx, tenant.ID, "Editor", "editor")
	if err != nil {
		t.Fatalf("create role: %v", err)
	}
	alice, err := engine.CreateUser(ctx, tenant.ID, "alice@acme.test", "Alice", "x", "")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := engine.AssignRole(ctx, alice.ID, editor.ID); err != nil {
		t.Fatalf("assign role: %v", err)
	}
	return &fixture{engine: engine, tenant: tenant, editor: editor, alice: alice}
}

func TestAuthorizeDefaultDeny(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	dec, err := f.engine.Authorize(ctx, f.tenant.ID, f.alice.ID, "doc:1", "read", nil)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if dec.Allowed {
		t.Fatalf("expected default deny with no policies")
	}
	if dec.Reason != "default deny" {
		t.Fatalf("unexpected reason %q", dec.Reason)
	}
}

func TestAuthorizeAllowThenDenyWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.engine.AttachPolicy(ctx, f.editor.ID, EffectAllow, "doc:*", []Action{"read", "write"}, ""); err != nil {
		t.Fatalf("attach allow: %v", err)
	}
	deny, err := f.engine.AttachPolicy(ctx, f.editor.ID, EffectDeny, "doc:42", []Action{"write"}, "")
	if err != nil {
		t.Fatalf("attach deny: %v", err)
	}

	dec, err := f.engine.Authorize(ctx, f.tenant.ID, f.alice.ID, "doc:7", "write", nil)
	if err != nil {
		t.Fatalf("authorize doc:7: %v", err)
	}
	if !dec.Allowed {
		t.Fatalf("doc:7 write should be allowed, got %q", dec.Reason)
	}

	dec, err = f.engine.Authorize(ctx, f.tenant.ID, f.alice.ID, "doc:42", "write", nil)
	if err != nil {
		t.Fatalf("authorize doc:42: %v", err)
	}
	if dec.Allowed {
		t.Fatalf("doc:42 write should be denied by the explicit deny")
	}
	if dec.MatchedPolicyID != deny.ID {
		t.Fatalf("expected matched policy %s, got %s", deny.ID, dec.MatchedPolicyID)
	}

	// the deny only covers write
	dec, err = f.engine.Authorize(ctx, f.tenant.ID, f.alice.ID, "doc:42", "read", nil)
	if err != nil {
		t.Fatalf("authorize doc:42 read: %v", err)
	}
	if !dec.Allowed {
		t.Fatalf("doc:42 read should still be allowed")
	}
}

func TestAuthorizeUnionAcrossRolesWildcardDeny(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.engine.AttachPolicy(ctx, f.editor.ID, EffectAllow, "doc:*", []Action{"read", "write"}, ""); err != nil {
		t.Fatalf("attach allow: %v", err)
	}
	blocked, err := f.engine.CreateRole(ctx, f.tenant.ID, "Blocked", "blocked")
	if err != nil {
		t.Fatalf("create role: %v", err)
	}
	deny, err := f.engine.AttachPolicy(ctx, blocked.ID, EffectDeny, "doc:42", []Action{"*"}, "")
	if err != nil {
		t.Fatalf("attach deny: %v", err)
	}
	if err := f.engine.AssignRole(ctx, f.alice.ID, blocked.ID); err != nil {
		t.Fatalf("assign second role: %v", err)
	}

	// the deny from the second role covers every action on doc:42
	dec, err := f.engine.Authorize(ctx, f.tenant.ID, f.alice.ID, "doc:42", "read", nil)
	if err != nil {
		t.Fatalf("authorize doc:42: %v", err)
	}
	if dec.Allowed {
		t.Fatalf("doc:42 read should be denied across roles, got %q", dec.Reason)
	}
	if dec.MatchedPolicyID != deny.ID {
		t.Fatalf("expected matched policy %s, got %s", deny.ID, dec.MatchedPolicyID)
	}

	dec, err = f.engine.Authorize(ctx, f.tenant.ID, f.alice.ID, "doc:7", "read", nil)
	if err != nil {
		t.Fatalf("authorize doc:7: %v", err)
	}
	if !dec.Allowed {
		t.Fatalf("doc:7 read should be allowed, got %q", dec.Reason)
	}
}

type sharedSlicePolicyStore struct {
	PolicyStore
	policies []*Policy
}

func (s *sharedSlicePolicyStore) ListPoliciesByRoles(ctx context.Context, roleIDs []string) ([]*Policy, error) {
	return s.policies, nil
}

func TestAuthorizeDoesNotMutateStoreSlice(t *testing.T) {
	stores := NewMemoryStores()
	shared := &sharedSlicePolicyStore{PolicyStore: stores.Policies}
	stores.Policies = shared
	engine, err := NewEngine(stores)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(engine.Close)
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
		t.Fatalf("assign role: %v", err)
	}

	now := time.Now()
	foreign := &Policy{ID: "p-foreign", TenantID: "t-other", RoleID: role.ID, Effect: EffectAllow, Resource: "doc:*", Actions: []Action{"read"}, CreatedAt: now}
	local := &Policy{ID: "p-local", TenantID: tenant.ID, RoleID: role.ID, Effect: EffectAllow, Resource: "doc:*", Actions: []Action{"read"}, CreatedAt: now}
	shared.policies = []*Policy{foreign, local}

	dec, err := engine.Authorize(ctx, tenant.ID, user.ID, "doc:1", "read", nil)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !dec.Allowed {
		t.Fatalf("expected allow from the in-tenant policy, got %q", dec.Reason)
	}
	if shared.policies[0].ID != "p-foreign" || shared.policies[1].ID != "p-local" {
		t.Fatalf("store-owned slice was rewritten: %s, %s", shared.policies[0].ID, shared.policies[1].ID)
	}
}

func TestEvaluatePoliciesOrderIndependent(t *testing.T) {
	now := time.Now()
	allow := &Policy{ID: "p-allow", TenantID: "t", Effect: EffectAllow, Resource: "doc:*", Actions: []Action{"read"}, CreatedAt: now}
	deny := &Policy{ID: "p-deny", TenantID: "t", Effect: EffectDeny, Resource: "doc:*", Actions: []Action{"read"}, CreatedAt: now.Add(time.Second)}
	ec := &EvalContext{UserID: "u", TenantID: "t", Resource: "doc:1", Action: "read"}
	eval := NewExprEvaluator()

	for _, policies := range [][]*Policy{{allow, deny}, {deny, allow}} {
		dec, failures := EvaluatePolicies(policies, ec, eval, false)
		if len(failures) != 0 {
			t.Fatalf("unexpected failures: %v", failures)
		}
		if dec.Allowed {
			t.Fatalf("deny must win regardless of input order")
		}
		if dec.MatchedPolicyID != "p-deny" {
			t.Fatalf("expected p-deny, got %s", dec.MatchedPolicyID)
		}
	}
}

func TestConditionFailsClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// a malformed condition must neither grant nor deny
	if _, err := f.engine.AttachPolicy(ctx, f.editor.ID, EffectAllow, "doc:*", []Action{"read"}, "not a condition !!"); err != nil {
		t.Fatalf("attach policy: %v", err)
	}
	dec, err := f.engine.Authorize(ctx, f.tenant.ID, f.alice.ID, "doc:1", "read", nil)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if dec.Allowed {
		t.Fatalf("broken condition must not grant access")
	}
	if dec.Reason != "default deny" {
		t.Fatalf("unexpected reason %q", dec.Reason)
	}
}

func TestConditionOnRequestContext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.engine.AttachPolicy(ctx, f.editor.ID, EffectAllow, "invoice:*", []Action{"approve"}, "ctx.amount <= 500"); err != nil {
		t.Fatalf("attach policy: %v", err)
	}

	dec, err := f.engine.Authorize(ctx, f.tenant.ID, f.alice.ID, "invoice:9", "approve", map[string]any{"amount": 120})
	if err != nil {
		t.Fatalf("authorize small: %v", err)
	}
	if !dec.Allowed {
		t.Fatalf("amount 120 should be approved")
	}

	dec, err = f.engine.Authorize(ctx, f.tenant.ID, f.alice.ID, "invoice:9", "approve", map[string]any{"amount": 900})
	if err != nil {
		t.Fatalf("authorize large: %v", err)
	}
	if dec.Allowed {
		t.Fatalf("amount 900 should be denied")
	}

	// missing context key fails the comparison, never the call
	dec, err = f.engine.Authorize(ctx, f.tenant.ID, f.alice.ID, "invoice:9", "approve", map[string]any{"other": 1})
	if err != nil {
		t.Fatalf("authorize missing key: %v", err)
	}
	if dec.Allowed {
		t.Fatalf("missing amount should be denied")
	}
}

func TestTenantIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other, err := f.engine.CreateTenant(ctx, "Globex", "globex")
	if err != nil {
		t.Fatalf("create tenant: %v", err)
	}

	// authorizing a user against a foreign tenant reads as not found
	if _, err := f.engine.Authorize(ctx, other.ID, f.alice.ID, "doc:1", "read", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for cross-tenant authorize, got %v", err)
	}

	// assigning a role from another tenant is a cross-tenant violation
	foreignRole, err := f.engine.CreateRole(ctx, other.ID, "Admin", "admin")
	if err != nil {
		t.Fatalf("create foreign role: %v", err)
	}
	if err := f.engine.AssignRole(ctx, f.alice.ID, foreignRole.ID); !errors.Is(err, ErrCrossTenant) {
		t.Fatalf("expected ErrCrossTenant, got %v", err)
	}
}

func TestRevokeRoleIdempotenceRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.engine.RevokeRole(ctx, f.alice.ID, f.editor.ID); err != nil {
		t.Fatalf("first revoke: %v", err)
	}
	if err := f.engine.RevokeRole(ctx, f.alice.ID, f.editor.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second revoke should be ErrNotFound, got %v", err)
	}
}

func TestDeleteRoleCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.engine.AttachPolicy(ctx, f.editor.ID, EffectAllow, "doc:*", []Action{"read"}, ""); err != nil {
		t.Fatalf("attach policy: %v", err)
	}
	if err := f.engine.DeleteRole(ctx, f.editor.ID); err != nil {
		t.Fatalf("delete role: %v", err)
	}

	roles, err := f.engine.RolesOf(ctx, f.tenant.ID, f.alice.ID)
	if err != nil {
		t.Fatalf("roles of: %v", err)
	}
	if len(roles) != 0 {
		t.Fatalf("expected no roles after cascade, got %d", len(roles))
	}
	dec, err := f.engine.Authorize(ctx, f.tenant.ID, f.alice.ID, "doc:1", "read", nil)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if dec.Allowed {
		t.Fatalf("access must vanish with the role")
	}
}

func TestDecisionCacheInvalidation(t *testing.T) {
	f := newFixture(t, WithDecisionCache(time.Minute, 1000, 100, 64))
	ctx := context.Background()

	dec, err := f.engine.Authorize(ctx, f.tenant.ID, f.alice.ID, "doc:1", "read", nil)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if dec.Allowed {
		t.Fatalf("expected deny before any policy")
	}

	if _, err := f.engine.AttachPolicy(ctx, f.editor.ID, EffectAllow, "doc:*", []Action{"read"}, ""); err != nil {
		t.Fatalf("attach policy: %v", err)
	}
	dec, err = f.engine.Authorize(ctx, f.tenant.ID, f.alice.ID, "doc:1", "read", nil)
	if err != nil {
		t.Fatalf("authorize after attach: %v", err)
	}
	if !dec.Allowed {
		t.Fatalf("mutation must invalidate cached denials")
	}

	if err := f.engine.RevokeRole(ctx, f.alice.ID, f.editor.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	dec, err = f.engine.Authorize(ctx, f.tenant.ID, f.alice.ID, "doc:1", "read", nil)
	if err != nil {
		t.Fatalf("authorize after revoke: %v", err)
	}
	if dec.Allowed {
		t.Fatalf("revocation must invalidate cached grants")
	}
}

func TestExplainTrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.engine.AttachPolicy(ctx, f.editor.ID, EffectAllow, "doc:*", []Action{"read"}, ""); err != nil {
		t.Fatalf("attach policy: %v", err)
	}
	dec, err := f.engine.Explain(ctx, f.tenant.ID, f.alice.ID, "doc:1", "read", nil)
	if err != nil {
		t.Fatalf("explain: %v", err)
	}
	if !dec.Allowed {
		t.Fatalf("expected allow")
	}
	if len(dec.Trace) == 0 {
		t.Fatalf("explain must produce a trace")
	}

	// plain Authorize stays trace-free
	dec, err = f.engine.Authorize(ctx, f.tenant.ID, f.alice.ID, "doc:1", "read", nil)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if len(dec.Trace) != 0 {
		t.Fatalf("authorize must not carry a trace")
	}
}

func TestBatchAuthorize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.engine.AttachPolicy(ctx, f.editor.ID, EffectAllow, "doc:*", []Action{"read"}, ""); err != nil {
		t.Fatalf("attach policy: %v", err)
	}
	decisions, err := f.engine.BatchAuthorize(ctx, []AuthRequest{
		{TenantID: f.tenant.ID, UserID: f.alice.ID, Resource: "doc:1", Action: "read"},
		{TenantID: f.tenant.ID, UserID: f.alice.ID, Resource: "doc:1", Action: "write"},
	})
	if err != nil {
		t.Fatalf("batch authorize: %v", err)
	}
	if len(decisions) != 2 {
		t.Fatalf("expected 2 decisions, got %d", len(decisions))
	}
	if !decisions[0].Allowed || decisions[1].Allowed {
		t.Fatalf("expected [allow, deny], got [%v, %v]", decisions[0].Allowed, decisions[1].Allowed)
	}
}

func TestListEffectiveActions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.engine.AttachPolicy(ctx, f.editor.ID, EffectAllow, "doc:*", []Action{"read", "write"}, ""); err != nil {
		t.Fatalf("attach allow: %v", err)
	}
	if _, err := f.engine.AttachPolicy(ctx, f.editor.ID, EffectDeny, "doc:42", []Action{"write"}, ""); err != nil {
		t.Fatalf("attach deny: %v", err)
	}

	actions, err := f.engine.ListEffectiveActions(ctx, f.tenant.ID, f.alice.ID, "doc:42")
	if err != nil {
		t.Fatalf("list effective actions: %v", err)
	}
	if len(actions) != 1 || actions[0] != "read" {
		t.Fatalf("expected [read], got %v", actions)
	}
}

func TestAuditTrail(t *testing.T) {
	audit := NewMemoryAuditStore()
	f := newFixture(t, WithAuditStore(audit))
	ctx := context.Background()

	if _, err := f.engine.Authorize(ctx, f.tenant.ID, f.alice.ID, "doc:1", "read", nil); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	f.engine.Close()

	entries, err := audit.GetAccessLog(ctx, AuditFilter{UserID: f.alice.ID})
	if err != nil {
		t.Fatalf("get access log: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(entries))
	}
	if entries[0].Resource != "doc:1" || entries[0].Decision.Allowed {
		t.Fatalf("unexpected audit entry: %+v", entries[0])
	}
}

func TestWithinDepartmentCondition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	eng := f.engine
	root, err := eng.CreateDepartment(ctx, f.tenant.ID, "Engineering", "")
	if err != nil {
		t.Fatalf("create root: %v", err)
	}
	child, err := eng.CreateDepartment(ctx, f.tenant.ID, "Platform", root.ID)
	if err != nil {
		t.Fatalf("create child: %v", err)
	}
	sibling, err := eng.CreateDepartment(ctx, f.tenant.ID, "Sales", "")
	if err != nil {
		t.Fatalf("create sibling: %v", err)
	}
	if err := eng.MoveUser(ctx, f.tenant.ID, f.alice.ID, root.ID); err != nil {
		t.Fatalf("move user: %v", err)
	}
	if _, err := eng.AttachPolicy(ctx, f.editor.ID, EffectAllow, "report:*", []Action{"read"}, "ctx.department within subject.department"); err != nil {
		t.Fatalf("attach policy: %v", err)
	}

	dec, err := eng.Authorize(ctx, f.tenant.ID, f.alice.ID, "report:q3", "read", map[string]any{"department": child.ID})
	if err != nil {
		t.Fatalf("authorize child dept: %v", err)
	}
	if !dec.Allowed {
		t.Fatalf("descendant department should satisfy within")
	}

	dec, err = eng.Authorize(ctx, f.tenant.ID, f.alice.ID, "report:q3", "read", map[string]any{"department": sibling.ID})
	if err != nil {
		t.Fatalf("authorize sibling dept: %v", err)
	}
	if dec.Allowed {
		t.Fatalf("sibling department must not satisfy within")
	}
}
