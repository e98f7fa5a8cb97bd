package domain

import (
	"encoding/json"
	"time"
)

// EventType defines the type of domain event.
type EventType string

const (
	// Ownership approval lifecycle
	EventOwnershipRequested EventType = "OWNERSHIP_REQUESTED"
	EventOwnershipApproved  EventType = "OWNERSHIP_APPROVED"
	EventOwnershipRejected  EventType = "OWNERSHIP_REJECTED"
	EventOwnershipCancelled EventType = "OWNERSHIP_CANCELLED"

	// Service registry
	EventServiceRegistered EventType = "SERVICE_REGISTERED"
	EventServiceArchived   EventType = "SERVICE_ARCHIVED"

	// Sharing
	EventServiceShared EventType = "SERVICE_SHARED"
	EventShareRevoked  EventType = "SHARE_REVOKED"
	EventShareExpired  EventType = "SHARE_EXPIRED"

	// Configuration store
	EventConfigChanged EventType = "CONFIG_CHANGED"
)

// EventStatus defines the status of a domain event.
type EventStatus string

const (
	EventStatusPending   EventStatus = "PENDING"
	EventStatusCompleted EventStatus = "COMPLETED"
	EventStatusFailed    EventStatus = "FAILED"
)

// DomainEvent represents an immutable domain event.
// Payload is a claim-check JSON blob, not a full event-sourcing log.
type DomainEvent struct {
	EventID       string      `json:"event_id"`
	EventType     EventType   `json:"event_type"`
	AggregateType string      `json:"aggregate_type"`
	AggregateID   string      `json:"aggregate_id"`
	Payload       []byte      `json:"payload"`
	Status        EventStatus `json:"status"`
	CreatedBy     string      `json:"created_by"`
	CreatedAt     time.Time   `json:"created_at"`
}

// OwnershipRequestPayload is the payload for ownership-request events.
type OwnershipRequestPayload struct {
	RequestID    string     `json:"request_id"`
	ServiceID    string     `json:"service_id"`
	ServiceName  string     `json:"service_name,omitempty"`
	TargetTeamID string     `json:"target_team_id"`
	RequesterID  string     `json:"requester_id"`
	Gates        []GateKind `json:"gates,omitempty"`
}

// ToJSON converts payload to JSON bytes.
func (p OwnershipRequestPayload) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}

// OwnershipResolvedPayload is the payload for terminal ownership outcomes
// (approved, rejected, cancelled, including cascade resolutions).
type OwnershipResolvedPayload struct {
	RequestID    string        `json:"request_id"`
	ServiceID    string        `json:"service_id"`
	ServiceName  string        `json:"service_name,omitempty"`
	TargetTeamID string        `json:"target_team_id"`
	RequesterID  string        `json:"requester_id"`
	Outcome      RequestStatus `json:"outcome"`
	Reason       string        `json:"reason,omitempty"`
	DecidedBy    string        `json:"decided_by"`
	Cascaded     bool          `json:"cascaded,omitempty"`
}

// ToJSON converts payload to JSON bytes.
func (p OwnershipResolvedPayload) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}

// ServicePayload is the payload for service registry events.
type ServicePayload struct {
	ServiceID   string        `json:"service_id"`
	Name        string        `json:"name"`
	OwnerTeamID string        `json:"owner_team_id,omitempty"`
	Status      ServiceStatus `json:"status,omitempty"`
}

// ToJSON converts payload to JSON bytes.
func (p ServicePayload) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}

// SharePayload is the payload for sharing events.
type SharePayload struct {
	ShareID     string            `json:"share_id"`
	ServiceID   string            `json:"service_id"`
	GranteeType GranteeType       `json:"grantee_type"`
	GranteeID   string            `json:"grantee_id"`
	Permissions []SharePermission `json:"permissions,omitempty"`
	GrantedBy   string            `json:"granted_by"`
}

// ToJSON converts payload to JSON bytes.
func (p SharePayload) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}

// ConfigChangePayload is the payload for configuration-store write events.
type ConfigChangePayload struct {
	ServiceID   string `json:"service_id"`
	Path        string `json:"path"`
	Operation   string `json:"operation"` // put, delete, txn
	ModifyIndex uint64 `json:"modify_index,omitempty"`
	Actor       string `json:"actor"`
}

// ToJSON converts payload to JSON bytes.
func (p ConfigChangePayload) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}
