package rbac

import (
	"fmt"
	"strconv"
	"sync"
)

// Expr represents a compiled condition expression
type Expr interface {
	Evaluate(ec *EvalContext) (bool, error)
	String() string
}

// EvalContext provides data for expression evaluation. It describes one
// authorization request: the resolved principal, the requested resource and
// action, and the caller-supplied request context map.
type EvalContext struct {
	UserID         string
	TenantID       string
	RoleIDs        []string
	DepartmentID   string
	DepartmentPath string
	Resource       string
	Action         Action
	Ctx            map[string]any

	// InSubtree reports whether the department with the given id lies inside
	// the principal's department subtree. Installed by the engine; nil means
	// the check always fails.
	InSubtree func(deptID string) (bool, error)
}

// AndExpr represents logical AND
type AndExpr struct {
	Left  Expr
	Right Expr
}

func (e *AndExpr) Evaluate(ec *EvalContext) (bool, error) {
	left, err := e.Left.Evaluate(ec)
	if err != nil || !left {
		return false, err
	}
	return e.Right.Evaluate(ec)
}

func (e *AndExpr) String() string {
	return fmt.Sprintf("(%s and %s)", e.Left.String(), e.Right.String())
}

// OrExpr represents logical OR
type OrExpr struct {
	Left  Expr
	Right Expr
}

func (e *OrExpr) Evaluate(ec *EvalContext) (bool, error) {
	left, err := e.Left.Evaluate(ec)
	if err != nil {
		return false, err
	}
	if left {
		return true, nil
	}
	return e.Right.Evaluate(ec)
}

func (e *OrExpr) String() string {
	return fmt.Sprintf("(%s or %s)", e.Left.String(), e.Right.String())
}

// EqExpr represents equality check
type EqExpr struct {
	Field string
	Value any
}

func (e *EqExpr) Evaluate(ec *EvalContext) (bool, error) {
	val, err := getField(ec, e.Field)
	if err != nil {
		return false, err
	}
	rhs, err := resolveValue(ec, e.Value)
	if err != nil {
		return false, err
	}
	return compare(val, rhs) == 0, nil
}

func (e *EqExpr) String() string {
	return fmt.Sprintf("%s == %v", e.Field, e.Value)
}

// NeExpr represents inequality check
type NeExpr struct {
	Field string
	Value any
}

func (e *NeExpr) Evaluate(ec *EvalContext) (bool, error) {
	val, err := getField(ec, e.Field)
	if err != nil {
		return false, err
	}
	rhs, err := resolveValue(ec, e.Value)
	if err != nil {
		return false, err
	}
	return compare(val, rhs) != 0, nil
}

func (e *NeExpr) String() string {
	return fmt.Sprintf("%s != %v", e.Field, e.Value)
}

// InExpr represents membership check
type InExpr struct {
	Field  string
	Values []any
}

func (e *InExpr) Evaluate(ec *EvalContext) (bool, error) {
	val, err := getField(ec, e.Field)
	if err != nil {
		return false, err
	}
	for _, v := range e.Values {
		rhs, err := resolveValue(ec, v)
		if err != nil {
			return false, err
		}
		if compare(val, rhs) == 0 {
			return true, nil
		}
	}
	return false, nil
}

func (e *InExpr) String() string {
	return fmt.Sprintf("%s in %v", e.Field, e.Values)
}

// GteExpr represents greater-than-or-equal check
type GteExpr struct {
	Field string
	Value any
}

func (e *GteExpr) Evaluate(ec *EvalContext) (bool, error) {
	val, err := getField(ec, e.Field)
	if err != nil {
		return false, err
	}
	rhs, err := resolveValue(ec, e.Value)
	if err != nil {
		return false, err
	}
	return compare(val, rhs) >= 0, nil
}

func (e *GteExpr) String() string {
	return fmt.Sprintf("%s >= %v", e.Field, e.Value)
}

// LteExpr represents less-than-or-equal check
type LteExpr struct {
	Field string
	Value any
}

func (e *LteExpr) Evaluate(ec *EvalContext) (bool, error) {
	val, err := getField(ec, e.Field)
	if err != nil {
		return false, err
	}
	rhs, err := resolveValue(ec, e.Value)
	if err != nil {
		return false, err
	}
	return compare(val, rhs) <= 0, nil
}

func (e *LteExpr) String() string {
	return fmt.Sprintf("%s <= %v", e.Field, e.Value)
}

// WithinExpr checks whether the department referenced by Field lies in the
// principal's department subtree, including the department itself. The check
// goes through EvalContext.InSubtree, which resolves materialized paths.
type WithinExpr struct {
	Field string
}

func (e *WithinExpr) Evaluate(ec *EvalContext) (bool, error) {
	val, err := getField(ec, e.Field)
	if err != nil {
		return false, err
	}
	deptID, ok := val.(string)
	if !ok || deptID == "" {
		return false, nil
	}
	if ec.InSubtree == nil {
		return false, nil
	}
	return ec.InSubtree(deptID)
}

func (e *WithinExpr) String() string {
	return fmt.Sprintf("%s within subject.department", e.Field)
}

// TrueExpr always returns true (unconditional policy)
type TrueExpr struct{}

func (e *TrueExpr) Evaluate(ec *EvalContext) (bool, error) { return true, nil }

func (e *TrueExpr) String() string { return "true" }

// getField resolves a field reference against the evaluation context.
// Unknown references are errors so that typoed conditions fail closed
// instead of silently comparing against nil.
func getField(ec *EvalContext, field string) (any, error) {
	switch field {
	case "subject.id":
		return ec.UserID, nil
	case "subject.tenant_id":
		return ec.TenantID, nil
	case "subject.roles":
		return ec.RoleIDs, nil
	case "subject.department":
		return ec.DepartmentID, nil
	case "action":
		return string(ec.Action), nil
	case "resource":
		return ec.Resource, nil
	}
	if len(field) > 4 && field[:4] == "ctx." {
		return ec.Ctx[field[4:]], nil
	}
	return nil, fmt.Errorf("%w: unknown field %q", ErrEvaluation, field)
}

// isFieldRef reports whether a literal should be treated as a field
// reference rather than a constant.
func isFieldRef(s string) bool {
	if s == "action" || s == "resource" {
		return true
	}
	return (len(s) > 8 && s[:8] == "subject.") || (len(s) > 4 && s[:4] == "ctx.")
}

func resolveValue(ec *EvalContext, v any) (any, error) {
	if s, ok := v.(string); ok && isFieldRef(s) {
		return getField(ec, s)
	}
	return v, nil
}

// compare returns 0 when a equals b, a negative value when a sorts before b.
// String slices compare as membership against a string right-hand side.
func compare(a, b any) int {
	switch av := a.(type) {
	case []string:
		if bs, ok := b.(string); ok {
			for _, v := range av {
				if v == bs {
					return 0
				}
			}
			return -1
		}
	case string:
		if bv, ok := b.(string); ok {
			switch {
			case av == bv:
				return 0
			case av < bv:
				return -1
			default:
				return 1
			}
		}
		// numeric string vs number, common with request context values
		if fv, err := strconv.ParseFloat(av, 64); err == nil {
			if bf, ok := toFloat(b); ok {
				return compareFloat(fv, bf)
			}
		}
	default:
		if af, ok := toFloat(a); ok {
			if bf, ok := toFloat(b); ok {
				return compareFloat(af, bf)
			}
		}
	}
	return -1
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func compareFloat(a, b float64) int {
	switch {
	case a == b:
		return 0
	case a < b:
		return -1
	default:
		return 1
	}
}

// ConditionEvaluator evaluates a policy condition string against a request.
// Implementations must return an error for malformed conditions; the engine
// treats every evaluator error as a non-match.
type ConditionEvaluator interface {
	Eval(condition string, ec *EvalContext) (bool, error)
}

// ExprEvaluator is the default ConditionEvaluator: it parses conditions with
// ParseCondition and caches the compiled AST per condition string.
type ExprEvaluator struct {
	cache sync.Map // condition string -> Expr
}

func NewExprEvaluator() *ExprEvaluator { return &ExprEvaluator{} }

func (e *ExprEvaluator) Eval(condition string, ec *EvalContext) (bool, error) {
	if condition == "" {
		return true, nil
	}
	if cached, ok := e.cache.Load(condition); ok {
		return cached.(Expr).Evaluate(ec)
	}
	expr, err := ParseCondition(condition)
	if err != nil {
		return false, err
	}
	e.cache.Store(condition, expr)
	return expr.Evaluate(ec)
}
