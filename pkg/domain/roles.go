package domain

import dErrors "practicum/pkg/domain-errors"

// Role is the caller's institutional role as asserted by the identity provider.
type Role string

const (
	RoleStudent     Role = "student"
	RoleSupervisor  Role = "supervisor"
	RoleCoordinator Role = "coordinator"
	RoleAdmin       Role = "admin"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleStudent, RoleSupervisor, RoleCoordinator, RoleAdmin:
		return true
	}
	return false
}

// In reports whether r is one of the allowed roles.
func (r Role) In(allowed ...Role) bool {
	for _, a := range allowed {
		if r == a {
			return true
		}
	}
	return false
}

func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown role")
	}
	return r, nil
}
