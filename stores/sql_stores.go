package stores

import (
	"github.com/oarkflow/squealx"

	"github.com/corvina/rbac"
)

// NewSQLStores runs the migrations and returns a Stores bundle with every
// interface backed by the same database.
func NewSQLStores(db *squealx.DB) (rbac.Stores, error) {
	if err := Migrate(db); err != nil {
		return rbac.Stores{}, err
	}
	return rbac.Stores{
		Tenants:     NewSQLTenantStore(db),
		Departments: NewSQLDepartmentStore(db),
		Users:       NewSQLUserStore(db),
		Roles:       NewSQLRoleStore(db),
		Policies:    NewSQLPolicyStore(db),
		Assignments: NewSQLAssignmentStore(db),
	}, nil
}
