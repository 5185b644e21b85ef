package rbac

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"

	"github.com/corvina/rbac/logger"
	"github.com/corvina/rbac/utils"
)

// Engine is the authorization engine plus the management operations for
// tenants, departments, users, roles, policies and assignments. It is
// stateless per call: Authorize performs a bounded set of reads and a pure
// in-memory evaluation, so concurrent calls run fully in parallel.
type Engine struct {
	stores    Stores
	audit     AuditStore
	evaluator ConditionEvaluator
	logger    logger.Logger

	decisions   *ristretto.Cache
	decisionTTL time.Duration

	auditCh   chan AuditEntry
	auditWG   sync.WaitGroup
	auditBuf  int
	closeOnce sync.Once
}

// EngineOption configures an Engine at construction time.
type EngineOption func(*Engine) error

// WithLogger installs a structured logger; the default discards everything.
func WithLogger(l logger.Logger) EngineOption {
	return func(e *Engine) error {
		e.logger = l
		return nil
	}
}

// WithConditionEvaluator replaces the default expression evaluator.
func WithConditionEvaluator(ev ConditionEvaluator) EngineOption {
	return func(e *Engine) error {
		e.evaluator = ev
		return nil
	}
}

// WithAuditStore enables asynchronous decision logging.
func WithAuditStore(s AuditStore) EngineOption {
	return func(e *Engine) error {
		e.audit = s
		return nil
	}
}

// WithAuditBuffer sets the audit channel capacity (default 1024). Entries
// are dropped, with an error log, when the buffer is full.
func WithAuditBuffer(n int) EngineOption {
	return func(e *Engine) error {
		if n <= 0 {
			return fmt.Errorf("%w: audit buffer must be positive", ErrInvalidOperation)
		}
		e.auditBuf = n
		return nil
	}
}

// WithDecisionCache enables a ristretto-backed decision cache with the given
// TTL. Only decisions for requests without a context map are cached, since
// the cache key cannot capture arbitrary context values; every mutating
// management operation invalidates the whole cache synchronously.
func WithDecisionCache(ttl time.Duration, numCounters, maxCost, bufferItems int64) EngineOption {
	return func(e *Engine) error {
		return e.ConfigureDecisionCache(ttl, numCounters, maxCost, bufferItems)
	}
}

// NewEngine wires the engine to its storage handles. Audit logging, caching
// and the condition evaluator are injected; there is no process-wide state.
func NewEngine(stores Stores, opts ...EngineOption) (*Engine, error) {
	if stores.Tenants == nil || stores.Departments == nil || stores.Users == nil ||
		stores.Roles == nil || stores.Policies == nil || stores.Assignments == nil {
		return nil, fmt.Errorf("%w: all stores are required", ErrInvalidOperation)
	}
	e := &Engine{
		stores:    stores,
		evaluator: NewExprEvaluator(),
		logger:    logger.NewNull(),
		auditBuf:  1024,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	if e.audit != nil {
		e.auditCh = make(chan AuditEntry, e.auditBuf)
		e.auditWG.Add(1)
		go e.auditWorker()
	}
	return e, nil
}

// ConfigureDecisionCache (re)creates the decision cache. Zero sizing values
// fall back to defaults proportional to numCounters.
func (e *Engine) ConfigureDecisionCache(ttl time.Duration, numCounters, maxCost, bufferItems int64) error {
	if numCounters <= 0 {
		numCounters = 1e5
	}
	if maxCost <= 0 {
		maxCost = numCounters / 10
	}
	if bufferItems <= 0 {
		bufferItems = 64
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: numCounters,
		MaxCost:     maxCost,
		BufferItems: bufferItems,
	})
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = time.Second
	}
	e.decisions = cache
	e.decisionTTL = ttl
	return nil
}

// Close stops the audit worker and waits for queued entries to flush.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		if e.auditCh != nil {
			close(e.auditCh)
			e.auditWG.Wait()
		}
	})
}

// Authorize decides whether the user may perform action on resource within
// the tenant. It always returns a Decision for policy outcomes; an error
// means the question could not be answered (unknown tenant or user, storage
// failure) and must not be conflated with a deny.
func (e *Engine) Authorize(ctx context.Context, tenantID, userID, resource string, action Action, reqCtx map[string]any) (*Decision, error) {
	return e.authorize(ctx, tenantID, userID, resource, action, reqCtx, false)
}

// Explain is Authorize with a per-policy evaluation trace on the Decision.
func (e *Engine) Explain(ctx context.Context, tenantID, userID, resource string, action Action, reqCtx map[string]any) (*Decision, error) {
	return e.authorize(ctx, tenantID, userID, resource, action, reqCtx, true)
}

// AuthRequest is one element of a BatchAuthorize call.
type AuthRequest struct {
	TenantID string         `json:"tenant_id"`
	UserID   string         `json:"user_id"`
	Resource string         `json:"resource"`
	Action   Action         `json:"action"`
	Context  map[string]any `json:"context,omitempty"`
}

// BatchAuthorize evaluates several requests and returns decisions in order.
func (e *Engine) BatchAuthorize(ctx context.Context, requests []AuthRequest) ([]*Decision, error) {
	decisions := make([]*Decision, 0, len(requests))
	for _, req := range requests {
		dec, err := e.authorize(ctx, req.TenantID, req.UserID, req.Resource, req.Action, req.Context, false)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, dec)
	}
	return decisions, nil
}

func (e *Engine) authorize(ctx context.Context, tenantID, userID, resource string, action Action, reqCtx map[string]any, withTrace bool) (*Decision, error) {
	if _, err := e.stores.Tenants.GetTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	principal, err := e.resolvePrincipal(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}

	cacheable := len(reqCtx) == 0 && e.decisions != nil
	var cacheKey string
	if cacheable {
		cacheKey = decisionKey(tenantID, userID, resource, action)
		if !withTrace {
			if cached, ok := e.decisions.Get(cacheKey); ok {
				return cached.(*Decision), nil
			}
		}
	}

	policies, err := e.stores.Policies.ListPoliciesByRoles(ctx, principal.RoleIDs)
	if err != nil {
		return nil, err
	}
	// tenant guard: a policy from another tenant must never be considered,
	// even if an assignment row leaked across the boundary. The store owns
	// the returned slice, so filter into a fresh one.
	scoped := make([]*Policy, 0, len(policies))
	for _, p := range policies {
		if p.TenantID == tenantID {
			scoped = append(scoped, p)
		}
	}

	ec := e.evalContext(ctx, principal, tenantID, resource, action, reqCtx)
	decision, failures := EvaluatePolicies(scoped, ec, e.evaluator, withTrace)
	for _, f := range failures {
		e.logger.Error("condition evaluation failed",
			"policy", f.PolicyID, "tenant", tenantID, "error", f.Err.Error())
	}

	if cacheable && !withTrace {
		e.decisions.SetWithTTL(cacheKey, decision, 1, e.decisionTTL)
	}
	e.auditDecision(tenantID, userID, resource, action, reqCtx, decision)
	return decision, nil
}

// resolvePrincipal loads the user, its role set and its department. A user
// from another tenant reports not found rather than cross-tenant so the
// caller cannot probe for existence across the boundary.
func (e *Engine) resolvePrincipal(ctx context.Context, tenantID, userID string) (*Principal, error) {
	user, err := e.stores.Users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.TenantID != tenantID {
		return nil, fmt.Errorf("user %s in tenant %s: %w", userID, tenantID, ErrNotFound)
	}
	roleIDs, err := e.stores.Assignments.ListRoleIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	p := &Principal{User: user, RoleIDs: roleIDs}
	if user.DepartmentID != "" {
		dept, err := e.stores.Departments.GetDepartment(ctx, user.DepartmentID)
		if err == nil && dept.TenantID == tenantID {
			p.Department = dept
		}
	}
	return p, nil
}

func (e *Engine) evalContext(ctx context.Context, principal *Principal, tenantID, resource string, action Action, reqCtx map[string]any) *EvalContext {
	ec := &EvalContext{
		UserID:   principal.User.ID,
		TenantID: tenantID,
		RoleIDs:  principal.RoleIDs,
		Resource: resource,
		Action:   action,
		Ctx:      reqCtx,
	}
	if principal.Department != nil {
		ec.DepartmentID = principal.Department.ID
		ec.DepartmentPath = principal.Department.Path
		base := principal.Department.Path
		ec.InSubtree = func(deptID string) (bool, error) {
			if deptID == ec.DepartmentID {
				return true, nil
			}
			target, err := e.stores.Departments.GetDepartment(ctx, deptID)
			if err != nil {
				return false, err
			}
			if target.TenantID != tenantID {
				return false, nil
			}
			return strings.HasPrefix(target.Path, base+"/"), nil
		}
	}
	return ec
}

// EvalFailure records a policy whose condition could not be evaluated. The
// policy is treated as a non-match; the failure is surfaced for logging.
type EvalFailure struct {
	PolicyID string
	Err      error
}

// EvaluatePolicies is the decision procedure: a pure function of the loaded
// policy set and the evaluation context, with no hidden state. Matching is
// explicit-deny-wins with default-deny, and both outcome and matched policy
// are independent of policy order: the input is sorted by creation time and
// id, and every policy is evaluated, so no deny can be short-circuited away.
func EvaluatePolicies(policies []*Policy, ec *EvalContext, eval ConditionEvaluator, withTrace bool) (*Decision, []EvalFailure) {
	decision := &Decision{Timestamp: time.Now()}
	if withTrace {
		decision.Trace = make([]string, 0, len(policies))
	}

	ordered := make([]*Policy, len(policies))
	copy(ordered, policies)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].ID < ordered[j].ID
		}
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	var failures []EvalFailure
	var matchedDeny, matchedAllow *Policy
	for _, p := range ordered {
		if !matchesAction(p, ec.Action) {
			if withTrace {
				decision.Trace = append(decision.Trace, fmt.Sprintf("policy=%s action_no_match", p.ID))
			}
			continue
		}
		if !utils.MatchResource(ec.Resource, p.Resource) {
			if withTrace {
				decision.Trace = append(decision.Trace, fmt.Sprintf("policy=%s resource_no_match", p.ID))
			}
			continue
		}
		ok, err := eval.Eval(p.Condition, ec)
		if err != nil {
			// fail closed: a broken policy never grants and never denies
			failures = append(failures, EvalFailure{PolicyID: p.ID, Err: fmt.Errorf("%w: %v", ErrEvaluation, err)})
			if withTrace {
				decision.Trace = append(decision.Trace, fmt.Sprintf("policy=%s cond_error=%v", p.ID, err))
			}
			continue
		}
		if withTrace {
			decision.Trace = append(decision.Trace, fmt.Sprintf("policy=%s effect=%s cond=%q result=%v", p.ID, p.Effect, p.Condition, ok))
		}
		if !ok {
			continue
		}
		switch p.Effect {
		case EffectDeny:
			if matchedDeny == nil {
				matchedDeny = p
			}
		case EffectAllow:
			if matchedAllow == nil {
				matchedAllow = p
			}
		}
	}

	switch {
	case matchedDeny != nil:
		decision.Allowed = false
		decision.MatchedPolicyID = matchedDeny.ID
		decision.Reason = "explicit deny"
	case matchedAllow != nil:
		decision.Allowed = true
		decision.MatchedPolicyID = matchedAllow.ID
		decision.Reason = "policy allow"
	default:
		decision.Allowed = false
		decision.Reason = "default deny"
	}
	if withTrace {
		decision.Trace = append(decision.Trace, fmt.Sprintf("decision allowed=%v reason=%s", decision.Allowed, decision.Reason))
	}
	return decision, failures
}

func matchesAction(p *Policy, action Action) bool {
	for _, a := range p.Actions {
		if utils.MatchAction(string(a), string(action)) {
			return true
		}
	}
	return false
}

// ListEffectiveActions returns the actions the user is currently granted on
// the given resource, derived from the same decision procedure as Authorize.
func (e *Engine) ListEffectiveActions(ctx context.Context, tenantID, userID, resource string) ([]Action, error) {
	principal, err := e.resolvePrincipal(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	policies, err := e.stores.Policies.ListPoliciesByRoles(ctx, principal.RoleIDs)
	if err != nil {
		return nil, err
	}
	candidates := make(map[Action]bool)
	for _, p := range policies {
		if p.TenantID != tenantID {
			continue
		}
		for _, a := range p.Actions {
			candidates[a] = true
		}
	}
	out := make([]Action, 0, len(candidates))
	for a := range candidates {
		dec, err := e.authorize(ctx, tenantID, userID, resource, a, nil, false)
		if err != nil {
			return nil, err
		}
		if dec.Allowed {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// GetAccessLog exposes the audit trail when an audit store is configured.
func (e *Engine) GetAccessLog(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error) {
	if e.audit == nil {
		return nil, fmt.Errorf("%w: no audit store configured", ErrInvalidOperation)
	}
	return e.audit.GetAccessLog(ctx, filter)
}

func (e *Engine) auditDecision(tenantID, userID, resource string, action Action, reqCtx map[string]any, decision *Decision) {
	if e.auditCh == nil {
		return
	}
	entry := AuditEntry{
		ID:        newID(),
		Timestamp: decision.Timestamp,
		TenantID:  tenantID,
		UserID:    userID,
		Resource:  resource,
		Action:    action,
		Decision:  decision,
		Context:   reqCtx,
	}
	select {
	case e.auditCh <- entry:
	default:
		e.logger.Error("audit buffer full, dropping entry", "tenant", tenantID, "user", userID)
	}
}

func (e *Engine) auditWorker() {
	defer e.auditWG.Done()
	bg := context.Background()
	for entry := range e.auditCh {
		if err := e.audit.LogDecision(bg, &entry); err != nil {
			e.logger.Error("audit write failed", "error", err.Error())
		}
	}
}

// invalidateDecisions drops every cached decision. Called synchronously from
// every mutating management operation so a revoked grant is never served
// from cache.
func (e *Engine) invalidateDecisions() {
	if e.decisions != nil {
		e.decisions.Clear()
	}
}

func decisionKey(tenantID, userID, resource string, action Action) string {
	return tenantID + "\x00" + userID + "\x00" + resource + "\x00" + string(action)
}

func newID() string { return uuid.NewString() }
