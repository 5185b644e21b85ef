package stores

import (
	"encoding/json"
	"time"

	"github.com/oarkflow/date"

	"github.com/corvina/rbac"
)

func parseFlexibleTime(s string) (time.Time, error) {
	return date.Parse(s)
}

// scanTime normalizes the driver-dependent representations sqlite hands back
// for TIMESTAMP columns.
func scanTime(raw interface{}) time.Time {
	switch v := raw.(type) {
	case time.Time:
		return v
	case string:
		if t, err := parseFlexibleTime(v); err == nil {
			return t
		}
	case []byte:
		if t, err := parseFlexibleTime(string(v)); err == nil {
			return t
		}
	}
	return time.Time{}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func encodeActions(actions []rbac.Action) string {
	b, _ := json.Marshal(actions)
	return string(b)
}

func decodeActions(s string) []rbac.Action {
	var out []rbac.Action
	_ = json.Unmarshal([]byte(s), &out)
	return out
}
