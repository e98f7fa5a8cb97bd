package domain

import "time"

// ResourceLevel is the granularity of a sharing grant.
// Currently only service-level grants exist.
type ResourceLevel string

const (
	ResourceLevelService ResourceLevel = "SERVICE"
)

// GranteeType identifies what kind of principal a share targets.
type GranteeType string

const (
	GranteeTeam GranteeType = "TEAM"
	GranteeUser GranteeType = "USER"
)

// SharePermission is one capability conveyed by a sharing grant.
type SharePermission string

const (
	PermViewInstance    SharePermission = "VIEW_INSTANCE"
	PermEditInstance    SharePermission = "EDIT_INSTANCE"
	PermViewDrift       SharePermission = "VIEW_DRIFT"
	PermRestartInstance SharePermission = "RESTART_INSTANCE"
	PermEditService     SharePermission = "EDIT_SERVICE"
)

// ServiceShare is a sharing grant on a service.
// An empty Environments list means the grant applies to all environments.
type ServiceShare struct {
	ID           string            `json:"id"`
	Level        ResourceLevel     `json:"level"`
	ServiceID    string            `json:"service_id"`
	GranteeType  GranteeType       `json:"grantee_type"`
	GranteeID    string            `json:"grantee_id"`
	Permissions  []SharePermission `json:"permissions"`
	Environments []string          `json:"environments,omitempty"`
	GrantedBy    string            `json:"granted_by"`
	ExpiresAt    *time.Time        `json:"expires_at,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Expired reports whether the share has lapsed as of now.
// A share without an expiry never expires.
func (s *ServiceShare) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && !now.Before(*s.ExpiresAt)
}

// AppliesTo reports whether the share grants anything to the given caller,
// matching the caller's user id for USER grants and team membership for
// TEAM grants.
func (s *ServiceShare) AppliesTo(caller UserContext) bool {
	switch s.GranteeType {
	case GranteeUser:
		return s.GranteeID == caller.UserID
	case GranteeTeam:
		return caller.InTeam(s.GranteeID)
	}
	return false
}

// CoversEnvironments reports whether the share applies to any of the
// requested environments. An empty grant filter covers everything; an
// empty query matches any grant.
func (s *ServiceShare) CoversEnvironments(envs []string) bool {
	if len(s.Environments) == 0 || len(envs) == 0 {
		return true
	}
	for _, want := range envs {
		for _, have := range s.Environments {
			if want == have {
				return true
			}
		}
	}
	return false
}
