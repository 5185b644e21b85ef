package stores

import (
	"context"
	"encoding/json"

	"github.com/oarkflow/squealx"

	"github.com/corvina/rbac"
)

// SQLAuditStore persists audit entries in SQL
type SQLAuditStore struct {
	db *squealx.DB
}

func NewSQLAuditStore(db *squealx.DB) (*SQLAuditStore, error) {
	return &SQLAuditStore{db: db}, nil
}

func (s *SQLAuditStore) LogDecision(ctx context.Context, entry *rbac.AuditEntry) error {
	traceB, _ := json.Marshal(entry.Decision.Trace)
	ctxB, _ := json.Marshal(entry.Context)
	q := `INSERT INTO audit_log(id, timestamp, tenant_id, user_id, resource, action, allowed, matched_policy_id, reason, trace_json, context_json) VALUES(:id, :timestamp, :tenant_id, :user_id, :resource, :action, :allowed, :matched_policy_id, :reason, :trace_json, :context_json)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":                entry.ID,
		"timestamp":         entry.Timestamp,
		"tenant_id":         entry.TenantID,
		"user_id":           entry.UserID,
		"resource":          entry.Resource,
		"action":            string(entry.Action),
		"allowed":           boolToInt(entry.Decision.Allowed),
		"matched_policy_id": entry.Decision.MatchedPolicyID,
		"reason":            entry.Decision.Reason,
		"trace_json":        string(traceB),
		"context_json":      string(ctxB),
	})
	return err
}

func (s *SQLAuditStore) GetAccessLog(ctx context.Context, filter rbac.AuditFilter) ([]*rbac.AuditEntry, error) {
	q := `SELECT id, timestamp, tenant_id, user_id, resource, action, allowed, matched_policy_id, reason, trace_json, context_json FROM audit_log WHERE 1=1`
	params := map[string]any{}
	if filter.TenantID != "" {
		q += " AND tenant_id = :tenant_id"
		params["tenant_id"] = filter.TenantID
	}
	if filter.UserID != "" {
		q += " AND user_id = :user_id"
		params["user_id"] = filter.UserID
	}
	if filter.Resource != "" {
		q += " AND resource = :resource"
		params["resource"] = filter.Resource
	}
	if filter.Action != "" {
		q += " AND action = :action"
		params["action"] = string(filter.Action)
	}
	if !filter.StartTime.IsZero() {
		q += " AND timestamp >= :start"
		params["start"] = filter.StartTime
	}
	if !filter.EndTime.IsZero() {
		q += " AND timestamp <= :end"
		params["end"] = filter.EndTime
	}
	q += " ORDER BY timestamp"
	if filter.Limit > 0 {
		q += " LIMIT :limit"
		params["limit"] = filter.Limit
	} else {
		q += " LIMIT 100"
	}
	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*rbac.AuditEntry, 0)
	for r.Next() {
		var id, tenant, user, resource, action, matched, reason, traceJSON, ctxJSON string
		var timestampRaw interface{}
		var allowedInt int
		if err := r.Scan(&id, &timestampRaw, &tenant, &user, &resource, &action, &allowedInt, &matched, &reason, &traceJSON, &ctxJSON); err != nil {
			return nil, err
		}
		entry := &rbac.AuditEntry{
			ID:       id,
			TenantID: tenant,
			UserID:   user,
			Resource: resource,
			Action:   rbac.Action(action),
			Decision: &rbac.Decision{Allowed: allowedInt != 0, MatchedPolicyID: matched, Reason: reason},
		}
		entry.Timestamp = scanTime(timestampRaw)
		entry.Decision.Timestamp = entry.Timestamp
		_ = json.Unmarshal([]byte(traceJSON), &entry.Decision.Trace)
		_ = json.Unmarshal([]byte(ctxJSON), &entry.Context)
		out = append(out, entry)
	}
	return out, nil
}
