// Package approval implements the multi-gate ownership approval workflow.
//
// A request carries gates derived from the requester's snapshot at creation
// time. Every gate needs its approvals for the request to pass; one REJECT
// on any gate vetoes immediately. Status transitions are optimistic
// (ADR-0002): conditional writes guarded by the request version, with a
// bounded retry around decision submission.
package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"svc-steward.io/steward/internal/domain"
	"svc-steward.io/steward/internal/governance/audit"
	"svc-steward.io/steward/internal/notification"
	"svc-steward.io/steward/internal/permission"
	apperrors "svc-steward.io/steward/internal/pkg/errors"
	"svc-steward.io/steward/internal/pkg/logger"
	"svc-steward.io/steward/internal/pkg/worker"
)

// Bounded retry around decision submission. Version races on a single
// request resolve within an attempt or two; the cap bounds worst-case
// latency on a hot request instead of retrying forever.
const (
	transitionRetries = 3
	transitionBackoff = 25 * time.Millisecond
)

// Terminal reasons recorded when a request leaves PENDING without full
// manual approval.
const (
	reasonConflictAssigned = "conflict: service ownership already assigned"
	reasonCascadeApproved  = "auto-approved: service assigned to requested team"
)

// RequestStore is the persistence surface for requests and decisions.
// Implemented by repository.ApprovalRepo.
type RequestStore interface {
	Create(ctx context.Context, req *domain.ApprovalRequest) error
	GetByID(ctx context.Context, id string) (*domain.ApprovalRequest, error)
	List(ctx context.Context, f domain.RequestFilter) (*domain.ApprovalRequestList, error)
	InsertDecision(ctx context.Context, d *domain.Decision) error
	ListDecisions(ctx context.Context, requestID string) ([]*domain.Decision, error)
	UpdateStatus(ctx context.Context, id string, expectedVersion int64, status domain.RequestStatus, reason string) (bool, error)
	ApproveAndTransfer(ctx context.Context, requestID string, expectedVersion int64, serviceID, targetTeamID, actorID string) error
	ResolveWithDecisions(ctx context.Context, id string, expectedVersion int64, status domain.RequestStatus, reason string, decisions []*domain.Decision) (bool, error)
}

// ServiceStore is the read surface the engine needs from the registry.
// Implemented by repository.ServiceRepo.
type ServiceStore interface {
	GetByID(ctx context.Context, id string) (*domain.ApplicationService, error)
}

// Engine orchestrates the approval workflow.
type Engine struct {
	requests RequestStore
	services ServiceStore
	perms    *permission.Evaluator

	auditLogger *audit.Logger          // Optional: nil-safe
	notifier    *notification.Triggers // Optional: nil-safe
	events      *domain.EventDispatcher
	pools       *worker.Pools // nil runs side effects inline
}

// NewEngine creates a new approval Engine.
func NewEngine(requests RequestStore, services ServiceStore, perms *permission.Evaluator, auditLogger *audit.Logger) *Engine {
	return &Engine{
		requests:    requests,
		services:    services,
		perms:       perms,
		auditLogger: auditLogger,
	}
}

// SetNotifier configures the notification trigger service.
func (e *Engine) SetNotifier(notifier *notification.Triggers) {
	e.notifier = notifier
}

// SetEventDispatcher configures the domain event dispatcher.
func (e *Engine) SetEventDispatcher(events *domain.EventDispatcher) {
	e.events = events
}

// SetWorkerPools configures the pools used for asynchronous side effects.
func (e *Engine) SetWorkerPools(pools *worker.Pools) {
	e.pools = pools
}

// CreateRequest opens a new ownership-transfer request for an orphaned
// service. Gates derive from the caller's snapshot: always a
// system-administrator gate, plus a line-manager gate when the snapshot
// carries a manager.
func (e *Engine) CreateRequest(ctx context.Context, caller domain.UserContext, serviceID, targetTeamID string) (*domain.ApprovalRequest, error) {
	if serviceID == "" {
		return nil, apperrors.BadRequest(apperrors.CodeInvalidRequestField, "service id is required")
	}
	if targetTeamID == "" {
		return nil, apperrors.BadRequest(apperrors.CodeInvalidRequestField, "target team id is required")
	}
	if !e.perms.CanCreateApprovalRequest(caller) {
		return nil, apperrors.Forbidden(apperrors.CodeRequesterInvalid,
			"caller identity cannot create ownership requests")
	}

	svc, err := e.services.GetByID(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	if !svc.Orphaned() {
		return nil, apperrors.Conflict(apperrors.CodeServiceOwned, "service already has an owner team").
			WithParams(map[string]interface{}{"service_id": serviceID})
	}

	snap := caller.Snapshot()
	req := &domain.ApprovalRequest{
		ID:           newRequestID(),
		Type:         domain.RequestTypeAssignService,
		RequesterID:  caller.UserID,
		ServiceID:    serviceID,
		TargetTeamID: targetTeamID,
		Gates:        domain.RequiredGates(snap),
		Status:       domain.RequestStatusPending,
		Snapshot:     snap,
	}

	if err := e.requests.Create(ctx, req); err != nil {
		return nil, err
	}

	if e.auditLogger != nil {
		_ = e.auditLogger.LogAction(ctx, domain.AuditOwnershipRequested, "approval_request", req.ID, caller.UserID,
			map[string]interface{}{"service_id": serviceID, "target_team_id": targetTeamID})
	}
	e.dispatch(func(taskCtx context.Context) {
		if e.notifier != nil {
			e.notifier.OnRequestSubmitted(taskCtx, req, svc.Name)
		}
		e.emitRequested(taskCtx, req, svc.Name)
	})

	logger.Info("Ownership request created",
		zap.String("request_id", req.ID),
		zap.String("service_id", serviceID),
		zap.String("target_team_id", targetTeamID),
		zap.String("requester", caller.UserID),
		zap.Int("gates", len(req.Gates)),
	)

	return req, nil
}

// SubmitDecision records one gate vote and advances the request when the
// vote completes it: any REJECT vetoes immediately; once every gate has its
// approvals the request is approved and ownership transfers, resolving all
// competing requests through the cascade.
func (e *Engine) SubmitDecision(ctx context.Context, caller domain.UserContext, requestID string, gate domain.GateKind, verdict domain.Verdict, note string) (*domain.ApprovalRequest, error) {
	if !gate.Valid() {
		return nil, apperrors.BadRequest(apperrors.CodeGateUnknown, "unknown gate kind").
			WithParams(map[string]interface{}{"gate": string(gate)})
	}
	if !verdict.Valid() {
		return nil, apperrors.BadRequest(apperrors.CodeInvalidRequestField, "verdict must be APPROVE or REJECT")
	}

	req, err := e.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != domain.RequestStatusPending {
		return nil, apperrors.Conflict(apperrors.CodeRequestNotPending, "request is not pending").
			WithParams(map[string]interface{}{"status": string(req.Status)})
	}
	if !req.HasGate(gate) {
		return nil, apperrors.BadRequest(apperrors.CodeGateUnknown, "request does not include this gate").
			WithParams(map[string]interface{}{"gate": string(gate)})
	}
	if !e.perms.CanApprove(caller, req, gate) {
		return nil, apperrors.Forbidden(apperrors.CodeGateNotEligible, "caller is not eligible to decide this gate").
			WithParams(map[string]interface{}{"gate": string(gate)})
	}

	decision := &domain.Decision{
		ID:         newDecisionID(),
		RequestID:  req.ID,
		ApproverID: caller.UserID,
		Gate:       gate,
		Verdict:    verdict,
		Note:       note,
	}
	if err := e.requests.InsertDecision(ctx, decision); err != nil {
		return nil, err
	}
	if e.auditLogger != nil {
		_ = e.auditLogger.LogDecision(ctx, req.ID, caller.UserID, gate, verdict)
	}
	logger.Info("Gate decision recorded",
		zap.String("request_id", req.ID),
		zap.String("gate", string(gate)),
		zap.String("verdict", string(verdict)),
		zap.String("approver", caller.UserID),
	)

	if verdict == domain.VerdictReject {
		return e.resolveVeto(ctx, req, caller.UserID, gate, note)
	}

	decisions, err := e.requests.ListDecisions(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if !gatesSatisfied(req.Gates, decisions) {
		return req, nil
	}
	return e.finalizeApproval(ctx, req, caller.UserID)
}

// resolveVeto terminally rejects a request after a REJECT vote.
func (e *Engine) resolveVeto(ctx context.Context, req *domain.ApprovalRequest, approverID string, gate domain.GateKind, note string) (*domain.ApprovalRequest, error) {
	reason := fmt.Sprintf("rejected at %s gate", gate)
	if note != "" {
		reason = fmt.Sprintf("%s: %s", reason, note)
	}

	resolved, fresh, err := e.tryTransition(ctx, req, domain.RequestStatusRejected, reason)
	if err != nil {
		return nil, err
	}
	if !resolved {
		// Another path resolved the request between the vote and the
		// transition; the recorded REJECT stands, the outcome is theirs.
		return fresh, nil
	}

	if e.auditLogger != nil {
		_ = e.auditLogger.LogRequestResolved(ctx, fresh.ID, approverID, domain.RequestStatusRejected, reason)
	}
	e.dispatch(func(taskCtx context.Context) {
		if e.notifier != nil {
			e.notifier.OnRequestRejected(taskCtx, fresh, approverID, reason)
		}
		e.emitResolved(taskCtx, fresh, approverID, reason, false)
	})

	logger.Info("Ownership request rejected",
		zap.String("request_id", fresh.ID),
		zap.String("gate", string(gate)),
		zap.String("approver", approverID),
	)
	return fresh, nil
}

// finalizeApproval drives the request through the guarded approve-and-
// transfer write and, on success, resolves all competing requests.
func (e *Engine) finalizeApproval(ctx context.Context, req *domain.ApprovalRequest, approverID string) (*domain.ApprovalRequest, error) {
	for attempt := 0; attempt < transitionRetries; attempt++ {
		err := e.requests.ApproveAndTransfer(ctx, req.ID, req.Version, req.ServiceID, req.TargetTeamID, approverID)
		if err == nil {
			fresh, getErr := e.requests.GetByID(ctx, req.ID)
			if getErr != nil {
				fresh = req
				fresh.Status = domain.RequestStatusApproved
			}

			if e.auditLogger != nil {
				_ = e.auditLogger.LogRequestResolved(ctx, fresh.ID, approverID, domain.RequestStatusApproved, "")
				_ = e.auditLogger.LogOwnershipTransfer(ctx, fresh.ServiceID, fresh.TargetTeamID, approverID, fresh.ID)
			}

			logger.Info("Ownership request approved; service transferred",
				zap.String("request_id", fresh.ID),
				zap.String("service_id", fresh.ServiceID),
				zap.String("target_team_id", fresh.TargetTeamID),
				zap.String("approver", approverID),
			)

			e.cascade(ctx, fresh)

			e.dispatch(func(taskCtx context.Context) {
				if e.notifier != nil {
					e.notifier.OnRequestApproved(taskCtx, fresh, approverID, false)
					e.notifier.OnOwnershipTransferred(taskCtx, fresh, e.serviceName(taskCtx, fresh.ServiceID))
				}
				e.emitResolved(taskCtx, fresh, approverID, "", false)
			})
			return fresh, nil
		}

		if apperrors.IsCode(err, apperrors.CodeServiceOwned) {
			// Another request claimed the service first. This request is a
			// deterministic loser: terminally rejected, never dropped.
			return e.rejectConflictLoser(ctx, req, approverID)
		}

		if apperrors.IsCode(err, apperrors.CodeRequestNotPending) {
			fresh, getErr := e.requests.GetByID(ctx, req.ID)
			if getErr != nil {
				return nil, getErr
			}
			if fresh.Status.Terminal() {
				return fresh, nil
			}
			req = fresh
			time.Sleep(transitionBackoff)
			continue
		}

		return nil, err
	}

	return nil, apperrors.Conflict(apperrors.CodeApprovalConflict,
		"request is under contention, retry the decision").
		WithParams(map[string]interface{}{"request_id": req.ID})
}

// rejectConflictLoser marks a fully-approved request REJECTED because the
// service gained an owner through a competing request.
func (e *Engine) rejectConflictLoser(ctx context.Context, req *domain.ApprovalRequest, approverID string) (*domain.ApprovalRequest, error) {
	resolved, fresh, err := e.tryTransition(ctx, req, domain.RequestStatusRejected, reasonConflictAssigned)
	if err != nil {
		return nil, err
	}
	if resolved {
		if e.auditLogger != nil {
			_ = e.auditLogger.LogRequestResolved(ctx, fresh.ID, approverID, domain.RequestStatusRejected, reasonConflictAssigned)
		}
		e.dispatch(func(taskCtx context.Context) {
			if e.notifier != nil {
				e.notifier.OnRequestRejected(taskCtx, fresh, domain.SystemActorID, reasonConflictAssigned)
			}
			e.emitResolved(taskCtx, fresh, approverID, reasonConflictAssigned, false)
		})
		logger.Info("Ownership request rejected on transfer conflict",
			zap.String("request_id", fresh.ID),
			zap.String("service_id", fresh.ServiceID),
		)
	}
	return fresh, nil
}

// CancelRequest withdraws a pending request. Only the requester or a system
// administrator may cancel.
func (e *Engine) CancelRequest(ctx context.Context, caller domain.UserContext, requestID string) (*domain.ApprovalRequest, error) {
	req, err := e.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !e.perms.CanCancel(caller, req) {
		return nil, apperrors.Forbidden(apperrors.CodeCancelNotAllowed,
			"only the requester or a system administrator can cancel a request")
	}
	if req.Status != domain.RequestStatusPending {
		return nil, apperrors.Conflict(apperrors.CodeRequestNotPending, "request is not pending").
			WithParams(map[string]interface{}{"status": string(req.Status)})
	}

	reason := fmt.Sprintf("cancelled by %s", caller.UserID)
	resolved, fresh, err := e.tryTransition(ctx, req, domain.RequestStatusCancelled, reason)
	if err != nil {
		return nil, err
	}
	if !resolved {
		return nil, apperrors.Conflict(apperrors.CodeRequestNotPending, "request was already resolved").
			WithParams(map[string]interface{}{"status": string(fresh.Status)})
	}

	if e.auditLogger != nil {
		_ = e.auditLogger.LogAction(ctx, domain.AuditOwnershipCancelled, "approval_request", fresh.ID, caller.UserID, nil)
	}
	e.dispatch(func(taskCtx context.Context) {
		e.emitResolved(taskCtx, fresh, caller.UserID, reason, false)
	})

	logger.Info("Ownership request cancelled",
		zap.String("request_id", fresh.ID),
		zap.String("cancelled_by", caller.UserID),
	)
	return fresh, nil
}

// GetRequest returns one request with its decisions. Callers see a request
// when they administer the system, filed it, or can decide one of its
// gates; anyone else gets the same not-found as a missing id.
func (e *Engine) GetRequest(ctx context.Context, caller domain.UserContext, requestID string) (*domain.ApprovalRequest, []*domain.Decision, error) {
	req, err := e.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	if !e.canSeeRequest(caller, req) {
		return nil, nil, apperrors.ErrRequestNotFound()
	}
	decisions, err := e.requests.ListDecisions(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	return req, decisions, nil
}

// ListRequests returns requests matching the filter. Non-administrators are
// always scoped to their own requests.
func (e *Engine) ListRequests(ctx context.Context, caller domain.UserContext, f domain.RequestFilter) (*domain.ApprovalRequestList, error) {
	if !caller.SystemAdmin {
		f.RequesterID = caller.UserID
	}
	return e.requests.List(ctx, f)
}

func (e *Engine) canSeeRequest(caller domain.UserContext, req *domain.ApprovalRequest) bool {
	if caller.SystemAdmin || (caller.UserID != "" && caller.UserID == req.RequesterID) {
		return true
	}
	for _, g := range req.Gates {
		if e.perms.CanApprove(caller, req, g.Kind) {
			return true
		}
	}
	return false
}

// tryTransition performs a version-guarded transition with bounded retry.
// It reports whether this caller won the transition and returns the row's
// final state either way.
func (e *Engine) tryTransition(ctx context.Context, req *domain.ApprovalRequest, status domain.RequestStatus, reason string) (bool, *domain.ApprovalRequest, error) {
	current := req
	for attempt := 0; attempt < transitionRetries; attempt++ {
		applied, err := e.requests.UpdateStatus(ctx, current.ID, current.Version, status, reason)
		if err != nil {
			return false, nil, err
		}
		if applied {
			fresh, err := e.requests.GetByID(ctx, current.ID)
			if err != nil {
				updated := *current
				updated.Status = status
				updated.Reason = reason
				updated.Version++
				return true, &updated, nil
			}
			return true, fresh, nil
		}

		fresh, err := e.requests.GetByID(ctx, current.ID)
		if err != nil {
			return false, nil, err
		}
		if fresh.Status.Terminal() {
			return false, fresh, nil
		}
		current = fresh
		time.Sleep(transitionBackoff)
	}
	return false, current, apperrors.Conflict(apperrors.CodeApprovalConflict,
		"request is under contention, retry the operation").
		WithParams(map[string]interface{}{"request_id": req.ID})
}

// gatesSatisfied reports whether every required gate has reached its
// approval quorum. Distinct approvers count once per gate.
func gatesSatisfied(gates []domain.Gate, decisions []*domain.Decision) bool {
	for _, gate := range gates {
		approvers := make(map[string]struct{})
		for _, d := range decisions {
			if d.Gate == gate.Kind && d.Verdict == domain.VerdictApprove {
				approvers[d.ApproverID] = struct{}{}
			}
		}
		min := gate.MinApprovals
		if min <= 0 {
			min = 1
		}
		if len(approvers) < min {
			return false
		}
	}
	return true
}

// serviceName resolves a service id to its display name for notifications,
// falling back to the id when the lookup fails.
func (e *Engine) serviceName(ctx context.Context, serviceID string) string {
	svc, err := e.services.GetByID(ctx, serviceID)
	if err != nil {
		return serviceID
	}
	return svc.Name
}

// dispatch runs a side-effect task on the general pool, or inline when no
// pools are configured (ADR-0006: best-effort, never blocks the workflow).
func (e *Engine) dispatch(task worker.Task) {
	if e.pools == nil {
		task(context.Background())
		return
	}
	if err := e.pools.SubmitDetached("general", task); err != nil {
		logger.Warn("side-effect dispatch failed, running inline", zap.Error(err))
		task(context.Background())
	}
}

func (e *Engine) emitRequested(ctx context.Context, req *domain.ApprovalRequest, serviceName string) {
	if e.events == nil {
		return
	}
	kinds := make([]domain.GateKind, 0, len(req.Gates))
	for _, g := range req.Gates {
		kinds = append(kinds, g.Kind)
	}
	payload, err := domain.OwnershipRequestPayload{
		RequestID:    req.ID,
		ServiceID:    req.ServiceID,
		ServiceName:  serviceName,
		TargetTeamID: req.TargetTeamID,
		RequesterID:  req.RequesterID,
		Gates:        kinds,
	}.ToJSON()
	if err != nil {
		logger.Error("failed to encode request event payload", zap.Error(err))
		return
	}
	_ = e.events.Dispatch(ctx, &domain.DomainEvent{
		EventID:       newEventID(),
		EventType:     domain.EventOwnershipRequested,
		AggregateType: "approval_request",
		AggregateID:   req.ID,
		Payload:       payload,
		Status:        domain.EventStatusCompleted,
		CreatedBy:     req.RequesterID,
		CreatedAt:     time.Now().UTC(),
	})
}

func (e *Engine) emitResolved(ctx context.Context, req *domain.ApprovalRequest, decidedBy, reason string, cascaded bool) {
	if e.events == nil {
		return
	}
	eventType := domain.EventOwnershipRejected
	switch req.Status {
	case domain.RequestStatusApproved:
		eventType = domain.EventOwnershipApproved
	case domain.RequestStatusCancelled:
		eventType = domain.EventOwnershipCancelled
	}
	payload, err := domain.OwnershipResolvedPayload{
		RequestID:    req.ID,
		ServiceID:    req.ServiceID,
		TargetTeamID: req.TargetTeamID,
		RequesterID:  req.RequesterID,
		Outcome:      req.Status,
		Reason:       reason,
		DecidedBy:    decidedBy,
		Cascaded:     cascaded,
	}.ToJSON()
	if err != nil {
		logger.Error("failed to encode resolution event payload", zap.Error(err))
		return
	}
	_ = e.events.Dispatch(ctx, &domain.DomainEvent{
		EventID:       newEventID(),
		EventType:     eventType,
		AggregateType: "approval_request",
		AggregateID:   req.ID,
		Payload:       payload,
		Status:        domain.EventStatusCompleted,
		CreatedBy:     decidedBy,
		CreatedAt:     time.Now().UTC(),
	})
}

func newRequestID() string {
	return prefixedID("apr")
}

func newDecisionID() string {
	return prefixedID("dec")
}

func newEventID() string {
	return prefixedID("evt")
}

func prefixedID(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
	}
	return fmt.Sprintf("%s-%s", prefix, id.String())
}
