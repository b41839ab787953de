package models

import dErrors "peopleops/pkg/domain-errors"

// Role is the closed set of actor roles. Authorization decisions go through
// the Authorizer capability interface, never ad-hoc string comparisons.
type Role string

const (
	RoleEmployee Role = "EMPLOYEE"
	RoleManager  Role = "MANAGER"
	RoleHR       Role = "HR"
	RoleAdmin    Role = "ADMIN"
)

// ParseRole validates a role tag from a trust boundary.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleEmployee, RoleManager, RoleHR, RoleAdmin:
		return Role(s), nil
	}
	return "", dErrors.New(dErrors.CodeValidation, "unknown role: "+s)
}
