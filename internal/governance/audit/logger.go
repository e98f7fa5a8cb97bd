// Package audit implements the audit logging service.
//
// Audit logs are append-only compliance records. Hard-delete is NOT allowed.
package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"svc-steward.io/steward/internal/domain"
	"svc-steward.io/steward/internal/pkg/logger"
)

// Store is the persistence surface the audit service writes through.
type Store interface {
	Insert(ctx context.Context, e *domain.AuditEntry) error
	ListByResource(ctx context.Context, resourceType, resourceID string, limit, offset int) (*domain.AuditList, error)
}

// Logger writes audit records to the database.
type Logger struct {
	store Store
}

// NewLogger creates a new audit Logger.
func NewLogger(store Store) *Logger {
	return &Logger{store: store}
}

// LogAction records an auditable action.
func (l *Logger) LogAction(ctx context.Context, action, resourceType, resourceID, actor string, details map[string]interface{}) error {
	err := l.store.Insert(ctx, &domain.AuditEntry{
		ID:           generateAuditID(),
		ActorID:      actor,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Detail:       details,
	})
	if err != nil {
		logger.Error("Failed to write audit log",
			zap.String("action", action),
			zap.String("resource_type", resourceType),
			zap.String("resource_id", resourceID),
			zap.Error(err),
		)
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

// LogDecision records one gate verdict on an approval request.
func (l *Logger) LogDecision(ctx context.Context, requestID, actor string, gate domain.GateKind, verdict domain.Verdict) error {
	return l.LogAction(ctx, domain.AuditOwnershipDecision, "approval_request", requestID, actor, map[string]interface{}{
		"gate":    string(gate),
		"verdict": string(verdict),
	})
}

// LogRequestResolved records a request leaving PENDING.
func (l *Logger) LogRequestResolved(ctx context.Context, requestID, actor string, outcome domain.RequestStatus, reason string) error {
	details := map[string]interface{}{"outcome": string(outcome)}
	if reason != "" {
		details["reason"] = reason
	}
	return l.LogAction(ctx, domain.AuditOwnershipResolved, "approval_request", requestID, actor, details)
}

// LogOwnershipTransfer records a service gaining an owner team.
func (l *Logger) LogOwnershipTransfer(ctx context.Context, serviceID, teamID, actor, requestID string) error {
	return l.LogAction(ctx, domain.AuditOwnershipResolved, "service", serviceID, actor, map[string]interface{}{
		"owner_team_id": teamID,
		"request_id":    requestID,
	})
}

// LogShareChange records a sharing grant being created or revoked.
func (l *Logger) LogShareChange(ctx context.Context, action, shareID, serviceID, actor string) error {
	return l.LogAction(ctx, action, "service_share", shareID, actor, map[string]interface{}{
		"service_id": serviceID,
	})
}

// LogKVWrite records a configuration store mutation.
func (l *Logger) LogKVWrite(ctx context.Context, action, serviceID, path, actor string, modifyIndex uint64) error {
	details := map[string]interface{}{"path": path}
	if modifyIndex > 0 {
		details["modify_index"] = modifyIndex
	}
	return l.LogAction(ctx, action, "service", serviceID, actor, details)
}

// Trail returns the audit history for one resource, newest first.
func (l *Logger) Trail(ctx context.Context, resourceType, resourceID string, limit, offset int) (*domain.AuditList, error) {
	return l.store.ListByResource(ctx, resourceType, resourceID, limit, offset)
}

func generateAuditID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return fmt.Sprintf("audit-%s", id.String())
}
