package rbac

import "errors"

// Error taxonomy. Storage implementations wrap these sentinels so callers can
// classify failures with errors.Is regardless of the backing store.
var (
	// ErrNotFound reports that a referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict reports a uniqueness violation: duplicate tenant code,
	// duplicate role code within a tenant, duplicate user email, or a
	// duplicate user-role binding.
	ErrConflict = errors.New("already exists")

	// ErrCrossTenant reports an operation that references entities from two
	// different tenants.
	ErrCrossTenant = errors.New("cross-tenant violation")

	// ErrInvalidOperation reports a structurally invalid request: a cycle in
	// a department move, an empty action set, an unknown effect value.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrEvaluation reports a condition expression that failed to parse or
	// evaluate. It is internal to the engine: a failing condition is treated
	// as a non-match and never surfaces as a grant.
	ErrEvaluation = errors.New("condition evaluation failed")
)
