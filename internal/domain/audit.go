package domain

import "time"

// Audit actions recorded by the control plane.
const (
	AuditServiceRegistered  = "service.registered"
	AuditServiceUpdated     = "service.updated"
	AuditServiceArchived    = "service.archived"
	AuditOwnershipRequested = "ownership.requested"
	AuditOwnershipDecision  = "ownership.decision"
	AuditOwnershipResolved  = "ownership.resolved"
	AuditOwnershipCancelled = "ownership.cancelled"
	AuditShareGranted       = "share.granted"
	AuditShareRevoked       = "share.revoked"
	AuditConfigWrite        = "config.write"
	AuditConfigDelete       = "config.delete"
	AuditUserLogin          = "user.login"
)

// AuditEntry is one immutable line in the audit trail.
type AuditEntry struct {
	ID           string                 `json:"id"`
	ActorID      string                 `json:"actor_id"`
	Action       string                 `json:"action"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   string                 `json:"resource_id"`
	Detail       map[string]interface{} `json:"detail,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

// AuditList is a paginated audit trail page.
type AuditList struct {
	Items []*AuditEntry `json:"items"`
	Total int64         `json:"total"`
}
