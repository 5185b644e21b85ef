package rbac

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ParseCondition parses a condition string into the native Expr AST used by
// the engine. The grammar is deliberately small and deterministic:
//
//	clause        := field op value | field "in" "[" list "]" | field "within" "subject.department"
//	op            := "==" | "!=" | ">=" | "<="
//	condition     := clause { "and" clause } | clause { "or" clause }
//
// Fields are subject.id, subject.tenant_id, subject.roles,
// subject.department, action, resource and ctx.<key>. Values are quoted
// strings, numbers or field references. Mixing "and" and "or" in one
// condition is not supported; attach separate policies instead.
func ParseCondition(s string) (Expr, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "true" {
		return &TrueExpr{}, nil
	}

	if parts := splitConnective(s, " and "); len(parts) > 1 {
		if containsConnective(s, " or ") {
			return nil, fmt.Errorf("%w: mixed and/or in %q", ErrEvaluation, s)
		}
		return foldClauses(parts, func(l, r Expr) Expr { return &AndExpr{Left: l, Right: r} })
	}
	if parts := splitConnective(s, " or "); len(parts) > 1 {
		return foldClauses(parts, func(l, r Expr) Expr { return &OrExpr{Left: l, Right: r} })
	}
	return parseClause(s)
}

func foldClauses(parts []string, join func(l, r Expr) Expr) (Expr, error) {
	expr, err := parseClause(parts[0])
	if err != nil {
		return nil, err
	}
	for _, p := range parts[1:] {
		next, err := parseClause(p)
		if err != nil {
			return nil, err
		}
		expr = join(expr, next)
	}
	return expr, nil
}

var (
	fieldPattern = `[a-zA-Z_][a-zA-Z0-9_\.]*`
	withinRe     = regexp.MustCompile(`^(` + fieldPattern + `)\s+within\s+subject\.department$`)
	inRe         = regexp.MustCompile(`^(` + fieldPattern + `)\s+in\s*\[([^\]]*)\]$`)
	comparisonRe = regexp.MustCompile(`^(` + fieldPattern + `)\s*(==|!=|>=|<=)\s*(.+)$`)
)

func parseClause(s string) (Expr, error) {
	s = strings.TrimSpace(s)

	if m := withinRe.FindStringSubmatch(s); m != nil {
		return &WithinExpr{Field: m[1]}, nil
	}

	if m := inRe.FindStringSubmatch(s); m != nil {
		items := splitList(m[2])
		if len(items) == 0 {
			return nil, fmt.Errorf("%w: empty list in %q", ErrEvaluation, s)
		}
		vals := make([]any, 0, len(items))
		for _, it := range items {
			vals = append(vals, parseLiteral(it))
		}
		return &InExpr{Field: m[1], Values: vals}, nil
	}

	if m := comparisonRe.FindStringSubmatch(s); m != nil {
		field, op, raw := m[1], m[2], strings.TrimSpace(m[3])
		value := parseLiteral(raw)
		switch op {
		case "==":
			return &EqExpr{Field: field, Value: value}, nil
		case "!=":
			return &NeExpr{Field: field, Value: value}, nil
		case ">=":
			return &GteExpr{Field: field, Value: value}, nil
		case "<=":
			return &LteExpr{Field: field, Value: value}, nil
		}
	}

	return nil, fmt.Errorf("%w: unsupported condition syntax %q", ErrEvaluation, s)
}

// parseLiteral interprets a right-hand side token: quoted strings stay
// strings, numbers become float64, field references stay references, and
// anything else is taken as a bare string.
func parseLiteral(raw string) any {
	if len(raw) >= 2 {
		if (raw[0] == '"' && raw[len(raw)-1] == '"') || (raw[0] == '\'' && raw[len(raw)-1] == '\'') {
			return raw[1 : len(raw)-1]
		}
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

// splitConnective splits on the given connective outside of quotes and
// brackets.
func splitConnective(s, sep string) []string {
	var parts []string
	depth := 0
	inQuote := byte(0)
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inQuote != 0:
			if c == inQuote {
				inQuote = 0
			}
		case c == '"' || c == '\'':
			inQuote = c
		case c == '[':
			depth++
		case c == ']':
			if depth > 0 {
				depth--
			}
		case depth == 0 && strings.HasPrefix(s[i:], sep):
			parts = append(parts, s[start:i])
			start = i + len(sep)
			i += len(sep) - 1
		}
	}
	parts = append(parts, s[start:])
	return parts
}

func containsConnective(s, sep string) bool {
	return len(splitConnective(s, sep)) > 1
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
