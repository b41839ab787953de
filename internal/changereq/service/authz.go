package service

import (
	"context"

	"peopleops/internal/changereq/models"
)

// PolicyAuthorizer authorizes approvals from a static module-to-roles table.
type PolicyAuthorizer struct {
	allowed map[models.Module]map[models.Role]struct{}
}

// NewPolicyAuthorizer builds an authorizer from explicit grants. ADMIN is
// always allowed everywhere.
func NewPolicyAuthorizer(grants map[models.Module][]models.Role) *PolicyAuthorizer {
	allowed := make(map[models.Module]map[models.Role]struct{}, len(grants))
	for module, roles := range grants {
		set := make(map[models.Role]struct{}, len(roles))
		for _, role := range roles {
			set[role] = struct{}{}
		}
		allowed[module] = set
	}
	return &PolicyAuthorizer{allowed: allowed}
}

// DefaultPolicy grants HR approval over the people-facing modules and lets
// managers decide leave and time requests. Changes to the ADMIN module need an
// administrator.
func DefaultPolicy() *PolicyAuthorizer {
	return NewPolicyAuthorizer(map[models.Module][]models.Role{
		models.ModulePIM:         {models.RoleHR},
		models.ModuleLeave:       {models.RoleHR, models.RoleManager},
		models.ModuleTime:        {models.RoleHR, models.RoleManager},
		models.ModulePerformance: {models.RoleHR},
		models.ModuleRecruitment: {models.RoleHR},
		models.ModuleAdmin:       {},
	})
}

func (p *PolicyAuthorizer) CanApprove(_ context.Context, role models.Role, module models.Module) (bool, error) {
	if role == models.RoleAdmin {
		return true, nil
	}
	set, ok := p.allowed[module]
	if !ok {
		return false, nil
	}
	_, ok = set[role]
	return ok, nil
}
