//go:build ignore

// Package domain sketches the event model used across the control plane.
//
// ADR-0006: side effects ride on domain events, dispatched best-effort
// after the owning transaction commits. The dispatcher never feeds back
// into the write path; a failed handler is logged and skipped.
//
// Payloads are claim-check JSON blobs keyed by aggregate, not an
// event-sourcing log: state lives in the entity tables, events exist
// for fan-out (inbox notifications, audit enrichment, future hooks).
package domain

import (
	"context"
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

// DomainEvent is the envelope every emitter fills in.
//
// Constraints:
//  1. Payload is immutable once emitted.
//  2. AggregateType/AggregateID name the entity the event is about
//     ("approval_request", "service", "service_share", "kv").
//  3. CreatedBy is the acting principal, or the SYSTEM sentinel for
//     cascade-synthesized resolutions.
type DomainEvent struct {
	EventID       string    `json:"event_id"`
	EventType     EventType `json:"event_type"`
	AggregateType string    `json:"aggregate_type"`
	AggregateID   string    `json:"aggregate_id"`
	Payload       []byte    `json:"payload"`
	CreatedBy     string    `json:"created_by"`
	CreatedAt     time.Time `json:"created_at"`
}

// EventHandler processes a single event. Errors are logged by the
// dispatcher and do not stop delivery to later handlers.
type EventHandler func(ctx context.Context, event *DomainEvent) error

// Dispatcher contract: sequential, in-process, best-effort.
//
// Register is called during bootstrap only; Dispatch is called by the
// core services after their own writes commit. Handlers must therefore
// tolerate at-most-once delivery: a crash between commit and dispatch
// drops the event, and that is acceptable for every current consumer
// (inbox rows can be missed, audit rows are written synchronously by
// the emitting service, never from a handler).
type Dispatcher interface {
	Register(eventType EventType, handler EventHandler)
	Dispatch(ctx context.Context, event *DomainEvent) error
}

// OwnershipResolvedPayload is the terminal-outcome payload shared by
// approved, rejected and cancelled events, including cascade results.
type OwnershipResolvedPayload struct {
	RequestID    string `json:"request_id"`
	ServiceID    string `json:"service_id"`
	TargetTeamID string `json:"target_team_id"`
	RequesterID  string `json:"requester_id"`
	Outcome      string `json:"outcome"`
	Reason       string `json:"reason,omitempty"`
	DecidedBy    string `json:"decided_by"`
	Cascaded     bool   `json:"cascaded,omitempty"`
}

// ToJSON converts payload to JSON bytes.
func (p OwnershipResolvedPayload) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}

// ConfigChangePayload is emitted for every successful KV write batch.
// ModifyIndex lets a consumer order config changes without reading the
// store; Operation is one of put, delete, txn.
type ConfigChangePayload struct {
	ServiceID   string `json:"service_id"`
	Path        string `json:"path"`
	Operation   string `json:"operation"`
	ModifyIndex uint64 `json:"modify_index,omitempty"`
	Actor       string `json:"actor"`
}

// ToJSON converts payload to JSON bytes.
func (p ConfigChangePayload) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}
