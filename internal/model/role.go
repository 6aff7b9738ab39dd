package model

import "fmt"

// Role is an ordered authority level. Authorization decisions compare ranks,
// never raw strings, so adding a level between two existing ones only touches
// this file.
type Role string

const (
	RoleSalesperson   Role = "salesperson"
	RoleManager       Role = "manager"
	RoleSeniorManager Role = "senior_manager"
	RoleAdmin         Role = "admin"
)

var roleRanks = map[Role]int{
	RoleSalesperson:   1,
	RoleManager:       2,
	RoleSeniorManager: 3,
	RoleAdmin:         4,
}

// Rank returns the ordinal authority of the role. Unknown roles rank zero,
// below every real role.
func (r Role) Rank() int {
	return roleRanks[r]
}

// Valid reports whether the role is one of the known levels.
func (r Role) Valid() bool {
	_, ok := roleRanks[r]
	return ok
}

// AtLeast reports whether the role's authority meets or exceeds other's.
func (r Role) AtLeast(other Role) bool {
	return r.Rank() >= other.Rank()
}

// CanApprove reports whether a holder of this role may respond to a request
// requiring the given role.
func (r Role) CanApprove(required Role) bool {
	return r.Rank() >= required.Rank()
}

func (r Role) String() string {
	return string(r)
}

// ParseRole validates a raw role string.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role: %q", s)
	}
	return r, nil
}

// AllRoles lists every role in ascending rank order.
func AllRoles() []Role {
	return []Role{RoleSalesperson, RoleManager, RoleSeniorManager, RoleAdmin}
}
