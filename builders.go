package rbac

// Builders provide a fluent API for creating Policies and Roles

// PolicyBuilder builds a Policy
type PolicyBuilder struct {
	p *Policy
}

func NewPolicyBuilder() *PolicyBuilder {
	return &PolicyBuilder{p: &Policy{Actions: []Action{}}}
}

func (b *PolicyBuilder) ID(id string) *PolicyBuilder    { b.p.ID = id; return b }
func (b *PolicyBuilder) Role(id string) *PolicyBuilder  { b.p.RoleID = id; return b }
func (b *PolicyBuilder) Tenant(t string) *PolicyBuilder { b.p.TenantID = t; return b }
func (b *PolicyBuilder) Effect(e Effect) *PolicyBuilder { b.p.Effect = e; return b }
func (b *PolicyBuilder) Actions(a ...Action) *PolicyBuilder {
	b.p.Actions = append(b.p.Actions, a...)
	return b
}
func (b *PolicyBuilder) Resource(r string) *PolicyBuilder     { b.p.Resource = r; return b }
func (b *PolicyBuilder) Condition(expr string) *PolicyBuilder { b.p.Condition = expr; return b }
func (b *PolicyBuilder) Build() *Policy                       { return b.p }

// RoleBuilder builds a Role
type RoleBuilder struct {
	r *Role
}

func NewRoleBuilder() *RoleBuilder {
	return &RoleBuilder{r: &Role{}}
}
func (b *RoleBuilder) ID(id string) *RoleBuilder            { b.r.ID = id; return b }
func (b *RoleBuilder) Tenant(t string) *RoleBuilder         { b.r.TenantID = t; return b }
func (b *RoleBuilder) Name(n string) *RoleBuilder           { b.r.Name = n; return b }
func (b *RoleBuilder) Code(c string) *RoleBuilder           { b.r.Code = c; return b }
func (b *RoleBuilder) Description(desc string) *RoleBuilder { b.r.Description = desc; return b }
func (b *RoleBuilder) Build() *Role                         { return b.r }
