// Package user defines the platform account domain model. Account
// creation and login session issuance belong to an external identity
// service; this package models the read side the control
// plane keeps in sync — identity, role, and plan — plus the
// control-plane-local authorization helpers that key off them.
package user

import (
	"errors"
	"time"
)

// Role distinguishes regular accounts from operators who manage the catalog.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// ValidRoles is the set of all valid user roles.
var ValidRoles = map[Role]bool{
	RoleAdmin: true,
	RoleUser:  true,
}

// Plan gates daily/monthly quota and custom-subdomain access.
type Plan string

const (
	PlanFree   Plan = "free"
	PlanTunnel Plan = "tunnel"
	PlanPro    Plan = "pro"
)

// ValidPlans is the set of all valid plans.
var ValidPlans = map[Plan]bool{
	PlanFree:   true,
	PlanTunnel: true,
	PlanPro:    true,
}

// User mirrors the subset of identity the external auth service owns.
// Role and Plan are the only fields this control plane mutates locally,
// and only through an admin-gated endpoint.
type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	Role        Role      `json:"role"`
	Plan        Plan      `json:"plan"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AllowsCustomSubdomain reports whether the plan may request a custom
// subdomain for the given hosting type.
func (u *User) AllowsCustomSubdomain(hostingType string) bool {
	switch hostingType {
	case "local":
		return u.Plan == PlanTunnel || u.Plan == PlanPro
	case "cloud":
		return u.Plan == PlanPro
	default:
		return false
	}
}

// UpdateRoleAndPlanRequest is the admin-only input for mutating the two
// locally-owned fields of a synced account.
type UpdateRoleAndPlanRequest struct {
	Role Role `json:"role"`
	Plan Plan `json:"plan"`
}

// Validate checks the request names a known role and plan.
func (r *UpdateRoleAndPlanRequest) Validate() error {
	if r.Role != "" && !ValidRoles[r.Role] {
		return errors.New("invalid role: must be admin or user")
	}
	if r.Plan != "" && !ValidPlans[r.Plan] {
		return errors.New("invalid plan: must be free, tunnel, or pro")
	}
	return nil
}
