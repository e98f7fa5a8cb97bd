package registry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"svc-steward.io/steward/internal/domain"
	"svc-steward.io/steward/internal/governance/audit"
	"svc-steward.io/steward/internal/notification"
	"svc-steward.io/steward/internal/permission"
	apperrors "svc-steward.io/steward/internal/pkg/errors"
	"svc-steward.io/steward/internal/pkg/logger"
	"svc-steward.io/steward/internal/pkg/worker"
)

// ShareStore is the persistence surface for sharing grants.
type ShareStore interface {
	Create(ctx context.Context, s *domain.ServiceShare) error
	GetByID(ctx context.Context, id string) (*domain.ServiceShare, error)
	ListByService(ctx context.Context, serviceID string) ([]*domain.ServiceShare, error)
	ListForGrantee(ctx context.Context, caller domain.UserContext) ([]*domain.ServiceShare, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// ShareService implements grant management on services. Only system admins
// and owning-team members manage grants; grantees consume them purely
// through the permission evaluator.
type ShareService struct {
	shares      ShareStore
	services    ServiceStore
	perms       *permission.Evaluator
	auditLogger *audit.Logger
	notifier    *notification.Triggers
	events      *domain.EventDispatcher
	pools       *worker.Pools
	now         func() time.Time
}

// NewShareService creates a ShareService. Notifier, event dispatcher and
// worker pools are optional collaborators configured through setters.
func NewShareService(shares ShareStore, services ServiceStore, perms *permission.Evaluator, auditLogger *audit.Logger) *ShareService {
	return &ShareService{
		shares:      shares,
		services:    services,
		perms:       perms,
		auditLogger: auditLogger,
		now:         time.Now,
	}
}

// SetNotifier configures the notification trigger service.
func (s *ShareService) SetNotifier(notifier *notification.Triggers) {
	s.notifier = notifier
}

// SetEventDispatcher configures domain event publication.
func (s *ShareService) SetEventDispatcher(events *domain.EventDispatcher) {
	s.events = events
}

// SetWorkerPools configures async side-effect execution.
func (s *ShareService) SetWorkerPools(pools *worker.Pools) {
	s.pools = pools
}

// GrantInput carries the caller-supplied fields of a new grant.
type GrantInput struct {
	GranteeType  domain.GranteeType
	GranteeID    string
	Permissions  []domain.SharePermission
	Environments []string
	ExpiresAt    *time.Time
}

// PermissionView is the caller's effective standing on one service: the
// coarse view/edit verdicts plus the exact share-granted permission union.
type PermissionView struct {
	CanView          bool                     `json:"can_view"`
	CanEdit          bool                     `json:"can_edit"`
	SharePermissions []domain.SharePermission `json:"share_permissions"`
}

// Grant creates a sharing grant on a service.
func (s *ShareService) Grant(ctx context.Context, caller domain.UserContext, serviceID string, input GrantInput) (*domain.ServiceShare, error) {
	svc, err := s.manageable(ctx, caller, serviceID)
	if err != nil {
		return nil, err
	}
	if err := validateGrant(input, s.now()); err != nil {
		return nil, err
	}

	share := &domain.ServiceShare{
		ID:           newShareID(),
		Level:        domain.ResourceLevelService,
		ServiceID:    svc.ID,
		GranteeType:  input.GranteeType,
		GranteeID:    input.GranteeID,
		Permissions:  input.Permissions,
		Environments: input.Environments,
		GrantedBy:    caller.UserID,
		ExpiresAt:    input.ExpiresAt,
	}
	if err := s.shares.Create(ctx, share); err != nil {
		return nil, err
	}

	_ = s.auditLogger.LogShareChange(ctx, domain.AuditShareGranted, share.ID, svc.ID, caller.UserID)
	logger.Info("Service shared",
		zap.String("service_id", svc.ID),
		zap.String("share_id", share.ID),
		zap.String("grantee_type", string(share.GranteeType)),
		zap.String("grantee_id", share.GranteeID),
	)

	s.dispatch(func(ctx context.Context) {
		if s.notifier != nil {
			s.notifier.OnServiceShared(ctx, share, svc.Name)
		}
		s.emitShare(ctx, domain.EventServiceShared, share, caller.UserID)
	})
	return share, nil
}

// Revoke removes a grant before its natural expiry.
func (s *ShareService) Revoke(ctx context.Context, caller domain.UserContext, serviceID, shareID string) error {
	svc, err := s.manageable(ctx, caller, serviceID)
	if err != nil {
		return err
	}

	share, err := s.shares.GetByID(ctx, shareID)
	if err != nil {
		return err
	}
	// A share id belonging to another service must read as missing here.
	if share.ServiceID != svc.ID {
		return apperrors.NotFound(apperrors.CodeShareNotFound, "share not found")
	}

	deleted, err := s.shares.Delete(ctx, share.ID)
	if err != nil {
		return err
	}
	if !deleted {
		return apperrors.NotFound(apperrors.CodeShareNotFound, "share not found")
	}

	_ = s.auditLogger.LogShareChange(ctx, domain.AuditShareRevoked, share.ID, svc.ID, caller.UserID)
	logger.Info("Share revoked",
		zap.String("service_id", svc.ID),
		zap.String("share_id", share.ID),
	)

	s.dispatch(func(ctx context.Context) {
		if s.notifier != nil {
			s.notifier.OnShareRevoked(ctx, share, svc.Name, caller.UserID)
		}
		s.emitShare(ctx, domain.EventShareRevoked, share, caller.UserID)
	})
	return nil
}

// ListForService returns every grant on a service, expired rows included so
// managers can see what lapsed. Requires manage rights: grant listings name
// grantees, which mere viewers have no business enumerating.
func (s *ShareService) ListForService(ctx context.Context, caller domain.UserContext, serviceID string) ([]*domain.ServiceShare, error) {
	if _, err := s.manageable(ctx, caller, serviceID); err != nil {
		return nil, err
	}
	return s.shares.ListByService(ctx, serviceID)
}

// MyShares returns the live grants that apply to the caller directly or
// through any team membership.
func (s *ShareService) MyShares(ctx context.Context, caller domain.UserContext) ([]*domain.ServiceShare, error) {
	if caller.UserID == "" {
		return []*domain.ServiceShare{}, nil
	}
	return s.shares.ListForGrantee(ctx, caller)
}

// Permissions computes the caller's effective standing on one service,
// optionally narrowed to specific environments.
func (s *ShareService) Permissions(ctx context.Context, caller domain.UserContext, serviceID string, environments []string) (*PermissionView, error) {
	svc, err := s.services.GetByID(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	if !s.perms.CanView(ctx, caller, svc) {
		return nil, apperrors.ErrServiceNotFound()
	}

	granted, err := s.perms.EffectivePermissions(ctx, caller, svc.ID, environments)
	if err != nil {
		return nil, err
	}
	if granted == nil {
		granted = []domain.SharePermission{}
	}
	return &PermissionView{
		CanView:          true,
		CanEdit:          s.perms.CanEdit(caller, svc),
		SharePermissions: granted,
	}, nil
}

// manageable loads a service and checks grant-management rights.
func (s *ShareService) manageable(ctx context.Context, caller domain.UserContext, serviceID string) (*domain.ApplicationService, error) {
	svc, err := s.services.GetByID(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	if !s.perms.CanView(ctx, caller, svc) {
		return nil, apperrors.ErrServiceNotFound()
	}
	if !s.perms.CanEdit(caller, svc) {
		return nil, apperrors.Forbidden(apperrors.CodeShareNotAllowed,
			"only the owning team or an administrator may manage shares")
	}
	return svc, nil
}

func validateGrant(input GrantInput, now time.Time) error {
	switch input.GranteeType {
	case domain.GranteeTeam, domain.GranteeUser:
	default:
		return apperrors.BadRequest(apperrors.CodeInvalidRequestField, "grantee type must be TEAM or USER")
	}
	if input.GranteeID == "" {
		return apperrors.BadRequest(apperrors.CodeInvalidRequestField, "grantee id is required")
	}
	if len(input.Permissions) == 0 {
		return apperrors.BadRequest(apperrors.CodeInvalidRequestField, "at least one permission is required")
	}
	for _, p := range input.Permissions {
		if !validSharePermission(p) {
			return apperrors.BadRequest(apperrors.CodeInvalidRequestField,
				"unknown permission "+string(p))
		}
	}
	if input.ExpiresAt != nil && !input.ExpiresAt.After(now) {
		return apperrors.BadRequest(apperrors.CodeInvalidRequestField, "expiry must be in the future")
	}
	return nil
}

func validSharePermission(p domain.SharePermission) bool {
	switch p {
	case domain.PermViewInstance, domain.PermEditInstance, domain.PermViewDrift,
		domain.PermRestartInstance, domain.PermEditService:
		return true
	}
	return false
}

func (s *ShareService) dispatch(task worker.Task) {
	if s.pools == nil {
		task(context.Background())
		return
	}
	if err := s.pools.SubmitDetached("general", task); err != nil {
		logger.Warn("side-effect dispatch failed, running inline", zap.Error(err))
		task(context.Background())
	}
}

func (s *ShareService) emitShare(ctx context.Context, eventType domain.EventType, share *domain.ServiceShare, actor string) {
	if s.events == nil {
		return
	}
	payload, err := domain.SharePayload{
		ShareID:     share.ID,
		ServiceID:   share.ServiceID,
		GranteeType: share.GranteeType,
		GranteeID:   share.GranteeID,
		Permissions: share.Permissions,
		GrantedBy:   share.GrantedBy,
	}.ToJSON()
	if err != nil {
		return
	}
	_ = s.events.Dispatch(ctx, &domain.DomainEvent{
		EventID:       newEventID(),
		EventType:     eventType,
		AggregateType: "service_share",
		AggregateID:   share.ID,
		Payload:       payload,
		Status:        domain.EventStatusCompleted,
		CreatedBy:     actor,
	})
}
