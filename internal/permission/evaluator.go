// Package permission computes view/edit/approve/cancel rights from a
// caller's identity against a target entity's ownership and sharing state.
//
// Every check is a pure read. Denial is a negative result, never an error:
// callers map denial to 404 or 403 depending on whether leaking existence
// is acceptable (ADR-0009).
package permission

import (
	"context"
	"time"

	"go.uber.org/zap"

	"svc-steward.io/steward/internal/domain"
	"svc-steward.io/steward/internal/pkg/logger"
)

// ShareReader looks up sharing grants for a service.
type ShareReader interface {
	ListByService(ctx context.Context, serviceID string) ([]*domain.ServiceShare, error)
}

// Evaluator is the shared permission evaluator.
// Stateless; safe for concurrent use.
type Evaluator struct {
	shares ShareReader
	now    func() time.Time
}

// NewEvaluator creates an Evaluator backed by the given share lookup.
func NewEvaluator(shares ShareReader) *Evaluator {
	return &Evaluator{
		shares: shares,
		now:    time.Now,
	}
}

// CanView reports whether caller may see the service. True when the caller
// is a system admin, the service is orphaned (visible to everyone so it can
// be requested), the caller belongs to the owning team, or a live share
// grants the caller access.
//
// Share lookup failures deny rather than error: authorization fails closed.
func (e *Evaluator) CanView(ctx context.Context, caller domain.UserContext, svc *domain.ApplicationService) bool {
	if svc == nil {
		return false
	}
	if caller.SystemAdmin {
		return true
	}
	if svc.Orphaned() {
		return true
	}
	if caller.InTeam(*svc.OwnerTeamID) {
		return true
	}
	shares, err := e.shares.ListByService(ctx, svc.ID)
	if err != nil {
		logger.Warn("Share lookup failed, denying view",
			zap.String("service_id", svc.ID),
			zap.String("user_id", caller.UserID),
			zap.Error(err),
		)
		return false
	}
	now := e.now()
	for _, share := range shares {
		if share.Expired(now) {
			continue
		}
		if share.AppliesTo(caller) {
			return true
		}
	}
	return false
}

// CanEdit reports whether caller may mutate the service or its configuration.
// Only system admins and owning-team members edit; orphaned visibility does
// not imply edit rights, and shares never grant service-level edit here.
func (e *Evaluator) CanEdit(caller domain.UserContext, svc *domain.ApplicationService) bool {
	if svc == nil {
		return false
	}
	if caller.SystemAdmin {
		return true
	}
	return !svc.Orphaned() && caller.InTeam(*svc.OwnerTeamID)
}

// CanApprove reports whether caller may decide the named gate on the request.
// The gate must be one the request actually requires, and eligibility is
// computed against the requester snapshot captured at creation.
func (e *Evaluator) CanApprove(caller domain.UserContext, req *domain.ApprovalRequest, gate domain.GateKind) bool {
	if req == nil || !req.HasGate(gate) {
		return false
	}
	return gate.Eligible(caller, req.Snapshot)
}

// CanCancel reports whether caller may cancel the request: system admins
// and the original requester.
func (e *Evaluator) CanCancel(caller domain.UserContext, req *domain.ApprovalRequest) bool {
	if req == nil {
		return false
	}
	if caller.SystemAdmin {
		return true
	}
	return caller.UserID != "" && caller.UserID == req.RequesterID
}

// CanCreateApprovalRequest reports whether caller may submit ownership
// requests. Any authenticated user qualifies; the reserved system actor
// does not.
func (e *Evaluator) CanCreateApprovalRequest(caller domain.UserContext) bool {
	return caller.UserID != "" && caller.UserID != domain.SystemActorID
}

// EffectivePermissions unions the permissions of every live share matching
// the caller directly or through a team, optionally filtered by environment
// overlap. Returns an empty set when nothing applies.
func (e *Evaluator) EffectivePermissions(ctx context.Context, caller domain.UserContext, serviceID string, environments []string) ([]domain.SharePermission, error) {
	shares, err := e.shares.ListByService(ctx, serviceID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	seen := make(map[domain.SharePermission]struct{})
	var perms []domain.SharePermission
	for _, share := range shares {
		if share.Expired(now) {
			continue
		}
		if !share.AppliesTo(caller) {
			continue
		}
		if !share.CoversEnvironments(environments) {
			continue
		}
		for _, p := range share.Permissions {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			perms = append(perms, p)
		}
	}
	return perms, nil
}
