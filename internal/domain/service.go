// Package domain provides domain models for Steward.
//
// Repositories and services return domain types, never raw database rows.
package domain

import "time"

// SystemActorID is the reserved approver identity for cascade-generated
// decisions. It is not a real user id; the identity provider must never
// issue it, and gate eligibility checks never accept it.
const SystemActorID = "SYSTEM"

// ServiceStatus represents the lifecycle state of a managed service.
type ServiceStatus string

const (
	ServiceStatusActive   ServiceStatus = "ACTIVE"
	ServiceStatusInactive ServiceStatus = "INACTIVE"
	ServiceStatusArchived ServiceStatus = "ARCHIVED"
)

// ApplicationService represents a managed service identity.
// OwnerTeamID == nil means the service is orphaned: visible to everyone
// and eligible for ownership-transfer requests.
type ApplicationService struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	OwnerTeamID  *string       `json:"owner_team_id,omitempty"`
	Status       ServiceStatus `json:"status"`
	Environments []string      `json:"environments,omitempty"`
	CreatedBy    string        `json:"created_by"`
	UpdatedBy    string        `json:"updated_by"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Orphaned reports whether the service has no owning team.
func (s *ApplicationService) Orphaned() bool {
	return s.OwnerTeamID == nil || *s.OwnerTeamID == ""
}

// OwnedBy reports whether teamID is the current owning team.
// Team ids are opaque, exact-match tokens.
func (s *ApplicationService) OwnedBy(teamID string) bool {
	return s.OwnerTeamID != nil && *s.OwnerTeamID == teamID
}

// UserContext is the caller's identity snapshot, passed explicitly into
// every operation. It is supplied by the authentication layer and trusted
// as-is; no component reads identity from ambient state.
type UserContext struct {
	UserID      string   `json:"user_id"`
	TeamIDs     []string `json:"team_ids"`
	SystemAdmin bool     `json:"system_admin"`
	ManagerID   string   `json:"manager_id,omitempty"`
}

// InTeam reports whether the caller belongs to the given team.
func (u UserContext) InTeam(teamID string) bool {
	for _, id := range u.TeamIDs {
		if id == teamID {
			return true
		}
	}
	return false
}

// Snapshot captures the caller's org state for embedding in an
// ApprovalRequest at creation time.
func (u UserContext) Snapshot() RequesterSnapshot {
	teams := make([]string, len(u.TeamIDs))
	copy(teams, u.TeamIDs)
	return RequesterSnapshot{
		TeamIDs:     teams,
		ManagerID:   u.ManagerID,
		SystemAdmin: u.SystemAdmin,
	}
}

// ServiceFilter narrows service listings. Zero values mean no constraint.
type ServiceFilter struct {
	Status      ServiceStatus
	OwnerTeamID string
	Limit       int
	Offset      int
}

// ServiceList represents a paginated list of services.
type ServiceList struct {
	Items      []*ApplicationService `json:"items"`
	TotalCount int                   `json:"total_count"`
}
