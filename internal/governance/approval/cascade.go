package approval

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"svc-steward.io/steward/internal/domain"
	"svc-steward.io/steward/internal/pkg/logger"
)

// cascade resolves every other PENDING request for a service once the
// winner's transfer has committed. Siblings targeting the winning team are
// auto-approved; all others are auto-rejected with a reason naming the
// winning team. The transfer is already durable when this runs: failures
// here are logged and skipped, never unwound.
func (e *Engine) cascade(ctx context.Context, winner *domain.ApprovalRequest) {
	siblings, err := e.listPendingSiblings(ctx, winner.ServiceID, winner.ID)
	if err != nil {
		logger.Error("cascade: listing pending requests failed",
			zap.String("service_id", winner.ServiceID),
			zap.String("winner_request_id", winner.ID),
			zap.Error(err),
		)
		return
	}
	if len(siblings) == 0 {
		return
	}

	logger.Info("Cascading resolution to competing requests",
		zap.String("service_id", winner.ServiceID),
		zap.String("winner_request_id", winner.ID),
		zap.Int("siblings", len(siblings)),
	)

	for _, sibling := range siblings {
		if sibling.TargetTeamID == winner.TargetTeamID {
			e.cascadeApprove(ctx, sibling, winner)
		} else {
			e.cascadeReject(ctx, sibling, winner)
		}
	}
}

// cascadeApprove resolves a sibling that targets the winning team. The
// outcome is APPROVED with a synthetic SYSTEM decision per gate; the
// service itself is untouched, the winner's transfer already assigned it.
func (e *Engine) cascadeApprove(ctx context.Context, sibling, winner *domain.ApprovalRequest) {
	note := fmt.Sprintf("resolved by request %s", winner.ID)
	decisions := make([]*domain.Decision, 0, len(sibling.Gates))
	for _, gate := range sibling.Gates {
		decisions = append(decisions, &domain.Decision{
			ID:         newDecisionID(),
			RequestID:  sibling.ID,
			ApproverID: domain.SystemActorID,
			Gate:       gate.Kind,
			Verdict:    domain.VerdictApprove,
			Note:       note,
		})
	}

	applied, err := e.requests.ResolveWithDecisions(ctx, sibling.ID, sibling.Version,
		domain.RequestStatusApproved, reasonCascadeApproved, decisions)
	if err != nil {
		logger.Error("cascade: auto-approve failed",
			zap.String("request_id", sibling.ID),
			zap.Error(err),
		)
		return
	}
	if !applied {
		logger.Debug("cascade: request already resolved, skipping",
			zap.String("request_id", sibling.ID),
		)
		return
	}

	e.afterCascade(ctx, sibling, domain.RequestStatusApproved, reasonCascadeApproved)
}

// cascadeReject resolves a sibling that targets a different team. The
// outcome is REJECTED with a single synthetic SYSTEM decision on the
// system-administrator gate.
func (e *Engine) cascadeReject(ctx context.Context, sibling, winner *domain.ApprovalRequest) {
	reason := fmt.Sprintf("conflict: service ownership assigned to team %s", winner.TargetTeamID)
	decisions := []*domain.Decision{{
		ID:         newDecisionID(),
		RequestID:  sibling.ID,
		ApproverID: domain.SystemActorID,
		Gate:       domain.GateSystemAdmin,
		Verdict:    domain.VerdictReject,
		Note:       reason,
	}}

	applied, err := e.requests.ResolveWithDecisions(ctx, sibling.ID, sibling.Version,
		domain.RequestStatusRejected, reason, decisions)
	if err != nil {
		logger.Error("cascade: auto-reject failed",
			zap.String("request_id", sibling.ID),
			zap.Error(err),
		)
		return
	}
	if !applied {
		logger.Debug("cascade: request already resolved, skipping",
			zap.String("request_id", sibling.ID),
		)
		return
	}

	e.afterCascade(ctx, sibling, domain.RequestStatusRejected, reason)
}

// afterCascade records the audit line and fires notifications and events
// for one cascaded resolution.
func (e *Engine) afterCascade(ctx context.Context, sibling *domain.ApprovalRequest, status domain.RequestStatus, reason string) {
	resolved := *sibling
	resolved.Status = status
	resolved.Reason = reason
	resolved.Version++

	if e.auditLogger != nil {
		_ = e.auditLogger.LogRequestResolved(ctx, resolved.ID, domain.SystemActorID, status, reason)
	}
	e.dispatch(func(taskCtx context.Context) {
		if e.notifier != nil {
			if status == domain.RequestStatusApproved {
				e.notifier.OnRequestApproved(taskCtx, &resolved, domain.SystemActorID, true)
			} else {
				e.notifier.OnRequestRejected(taskCtx, &resolved, domain.SystemActorID, reason)
			}
		}
		e.emitResolved(taskCtx, &resolved, domain.SystemActorID, reason, true)
	})

	logger.Info("Cascaded request resolution",
		zap.String("request_id", resolved.ID),
		zap.String("outcome", string(status)),
	)
}

// listPendingSiblings collects every pending request for the service except
// the winner. All pages are fetched before any resolution so the listing is
// not perturbed by the cascade itself.
func (e *Engine) listPendingSiblings(ctx context.Context, serviceID, winnerID string) ([]*domain.ApprovalRequest, error) {
	const pageSize = 200
	var out []*domain.ApprovalRequest
	for offset := 0; ; offset += pageSize {
		page, err := e.requests.List(ctx, domain.RequestFilter{
			ServiceID:   serviceID,
			Status:      domain.RequestStatusPending,
			OldestFirst: true,
			Limit:       pageSize,
			Offset:      offset,
		})
		if err != nil {
			return nil, err
		}
		for _, req := range page.Items {
			if req.ID == winnerID {
				continue
			}
			out = append(out, req)
		}
		if len(page.Items) < pageSize || offset+pageSize >= page.TotalCount {
			break
		}
	}
	return out, nil
}
